package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyIOTDBType string = "IOT_DB_TYPE"
	EnvKeyIOTDbPath string = "IOT_DB_PATH"
	EnvKeyIOTLogDir string = "IOT_LOG_DIR"

	EnvKeyIOTHttpHostPort string = "IOT_HTTP_HOST_PORT"

	EnvKeyIOTDefaultRate  string = "IOT_DEFAULT_RATE"
	EnvKeyIOTDefaultBurst string = "IOT_DEFAULT_BURST"

	EnvKeyMqttEnable         string = "MQTT_ENABLE"
	EnvKeyMqttBrokerURL      string = "MQTT_BROKER_URL"
	EnvKeyMqttClientID       string = "MQTT_CLIENT_ID"
	EnvKeyMqttUsername       string = "MQTT_USERNAME"
	EnvKeyMqttPassword       string = "MQTT_PASSWORD"
	EnvKeyMqttReconnectDelay string = "MQTT_RECONNECT_DELAY_SECONDS"

	EnvKeyMqttStatusTopic  string = "MQTT_STATUS_TOPIC"
	EnvKeyMqttSensorTopic  string = "MQTT_SENSOR_TOPIC"
	EnvKeyMqttControlTopic string = "MQTT_CONTROL_TOPIC"

	LoggerNameIOTCore       string = "iot_core"
	LoggerNameRestfulServer string = "restful_server"
	LoggerNameMqttGateway   string = "mqtt_gateway"

	LoggerFieldIOTCategory string = "category"

	LoggerCategoryIOTStatus    string = "status"
	LoggerCategoryIOTDecision  string = "decision"
	LoggerCategoryIOTActivity  string = "activity"
	LoggerCategoryIOTControl   string = "control"
	LoggerCategoryIOTPolicy    string = "policy"
	LoggerCategoryIOTIngest    string = "ingest"
	LoggerCategoryIOTEmergency string = "emergency"
)
