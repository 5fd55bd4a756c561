package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/db"
	iotHttp "iot-containment-service/pkg/http"
	"iot-containment-service/pkg/iot"
	"iot-containment-service/pkg/mqtt"
)

func main() {
	var err error

	err = godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	var dbInstance *db.DB
	iotDbType := os.Getenv(common.EnvKeyIOTDBType)
	switch iotDbType {
	case "file":
		dbInstance = db.GetInstance(db.UseSqliteDialector())
	case "memory":
		dbInstance = db.GetInstance(db.UseMemorySqliteDialector())
	default:
		log.Fatal("Unknown IOT_DB_TYPE: " + iotDbType)
	}

	httpHostPort := strings.TrimSpace(os.Getenv(common.EnvKeyIOTHttpHostPort))

	var defaultRate float64
	var defaultBurst int64

	if defaultRate, err = strconv.ParseFloat(os.Getenv(common.EnvKeyIOTDefaultRate), 64); err != nil {
		log.Fatal("Invalid IOT_DEFAULT_RATE, or not set in .env, should be a float64 value")
	}

	if defaultBurst, err = strconv.ParseInt(os.Getenv(common.EnvKeyIOTDefaultBurst), 10, 64); err != nil {
		log.Fatal("Invalid IOT_DEFAULT_BURST, or not set in .env, should be an int value")
	}

	logger := common.GetLogger()

	iotCore := iot.IOT{
		Db:           *dbInstance,
		ControlTopic: strings.TrimSpace(os.Getenv(common.EnvKeyMqttControlTopic)),
	}
	iotCore.WithServices(iot.ServiceOpts{
		Status:    iotCore.GetIStatus(),
		Activity:  iotCore.GetIActivity(),
		Decision:  iotCore.GetIDecision(),
		Control:   iotCore.GetIControl(),
		Policy:    iotCore.GetIPolicy(),
		Emergency: iotCore.GetIEmergency(),
	})

	limiters := iot.NewRateLimiterStore(rate.Limit(defaultRate), int(defaultBurst))

	if os.Getenv(common.EnvKeyMqttEnable) == "true" {
		brokerURL := strings.TrimSpace(os.Getenv(common.EnvKeyMqttBrokerURL))
		if brokerURL == "" {
			log.Fatal("MQTT_ENABLE is true but MQTT_BROKER_URL is not set")
		}

		reconnectDelay := 5 * time.Second
		if raw := os.Getenv(common.EnvKeyMqttReconnectDelay); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil {
				log.Fatal("Invalid MQTT_RECONNECT_DELAY_SECONDS, should be an int value")
			}
			reconnectDelay = time.Duration(seconds) * time.Second
		}

		gateway := mqtt.NewGateway(mqtt.Options{
			BrokerURL:      brokerURL,
			ClientID:       os.Getenv(common.EnvKeyMqttClientID),
			Username:       os.Getenv(common.EnvKeyMqttUsername),
			Password:       os.Getenv(common.EnvKeyMqttPassword),
			ReconnectDelay: reconnectDelay,
		})

		logger.Info("Connecting to MQTT broker", zap.String("broker", brokerURL))
		for attempt := 1; ; attempt++ {
			if err := gateway.Connect(); err == nil {
				break
			} else if attempt >= 5 {
				log.Fatalf("mqtt gateway failed to connect after %d attempts: %v", attempt, err)
			} else {
				logger.Warn("MQTT connect failed, retrying",
					zap.Int("attempt", attempt), zap.Error(err))
				time.Sleep(reconnectDelay)
			}
		}

		iotCore.Transport = gateway

		ingestor := iot.NewIngestor(&iotCore, limiters, iot.IngestorOpts{
			StatusPattern: strings.TrimSpace(os.Getenv(common.EnvKeyMqttStatusTopic)),
			SensorPattern: strings.TrimSpace(os.Getenv(common.EnvKeyMqttSensorTopic)),
		})
		if err := ingestor.Start(); err != nil {
			log.Fatalf("ingestor failed to subscribe: %v", err)
		}
	} else {
		logger.Info("MQTT disabled, running HTTP surface only")
	}

	if httpHostPort == "" {
		// fallback to default http port
		httpHostPort = ":1080"
	}

	rs := &iotHttp.RestfulServer{
		Server:           gin.Default(),
		Iot:              &iotCore,
		RateLimiterStore: limiters,
	}
	rs.Setup()

	logger.Info("http server created with:",
		zap.String("default_limiter",
			fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", defaultRate, defaultBurst)))

	logger.Info("Starting HTTP server on: " + httpHostPort)
	if err := rs.Server.Run(httpHostPort); err != nil {
		log.Fatalf("http server failed to serve: %v", err)
	}
}
