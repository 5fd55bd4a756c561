package iot

import (
	"encoding/json"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"iot-containment-service/pkg/common"
)

const (
	// DefaultStatusPattern matches both the bare controller topic and the
	// per-containment variant IOT/Containment/<id>/Status.
	DefaultStatusPattern = "IOT/Containment/Status"
	// DefaultStatusIDPattern is the per-containment status topic.
	DefaultStatusIDPattern = "IOT/Containment/+/Status"
	// DefaultSensorPattern covers the device data topics
	// sensors/containment/<cid>/rack/<rid>/device/<did>[/...].
	DefaultSensorPattern = "sensors/#"
)

var (
	statusTopicRe = regexp.MustCompile(`^IOT/Containment/(\d+)/Status$`)
	sensorTopicRe = regexp.MustCompile(`^sensors/containment/(\d+)/rack/(\d+)/device/([^/]+)`)
	deviceTopicRe = regexp.MustCompile(`^sensors/device/([^/]+)`)
)

// IngestorOpts are the topic patterns the ingestor binds. Zero values fall
// back to the defaults above.
type IngestorOpts struct {
	StatusPattern   string
	StatusIDPattern string
	SensorPattern   string
}

func (o IngestorOpts) withDefaults() IngestorOpts {
	if o.StatusPattern == "" {
		o.StatusPattern = DefaultStatusPattern
	}
	if o.StatusIDPattern == "" {
		o.StatusIDPattern = DefaultStatusIDPattern
	}
	if o.SensorPattern == "" {
		o.SensorPattern = DefaultSensorPattern
	}
	return o
}

// Ingestor binds the transport's inbound topics to the telemetry core. A
// malformed message is logged and dropped; it never stops the pipeline.
type Ingestor struct {
	iot      *IOT
	opts     IngestorOpts
	limiters *RateLimiterStore
	logger   *zap.Logger
}

func NewIngestor(iot *IOT, limiters *RateLimiterStore, opts IngestorOpts) *Ingestor {
	return &Ingestor{
		iot:      iot,
		opts:     opts.withDefaults(),
		limiters: limiters,
		logger: common.GetLoggerWith(
			common.LoggerNameIOTCore,
			zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTIngest),
		),
	}
}

// Start subscribes the status and sensor patterns on the transport.
func (ing *Ingestor) Start() error {
	if err := ing.iot.Transport.Subscribe(ing.opts.StatusPattern, ing.HandleStatusMessage); err != nil {
		return err
	}
	if err := ing.iot.Transport.Subscribe(ing.opts.StatusIDPattern, ing.HandleStatusMessage); err != nil {
		return err
	}
	if err := ing.iot.Transport.Subscribe(ing.opts.SensorPattern, ing.HandleSensorMessage); err != nil {
		return err
	}
	ing.logger.Info("Ingestor subscribed",
		zap.String("status_pattern", ing.opts.StatusPattern),
		zap.String("sensor_pattern", ing.opts.SensorPattern),
	)
	return nil
}

func (ing *Ingestor) Stop() {
	for _, pattern := range []string{ing.opts.StatusPattern, ing.opts.StatusIDPattern, ing.opts.SensorPattern} {
		if err := ing.iot.Transport.Unsubscribe(pattern); err != nil {
			ing.logger.Warn("Unsubscribe failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

// HandleStatusMessage processes one containment status message.
func (ing *Ingestor) HandleStatusMessage(topic string, payload []byte) {
	containmentID := extractContainmentID(topic, payload)
	if containmentID == 0 {
		ing.logger.Warn("Could not determine containment id, dropping status message",
			zap.String("topic", topic))
		return
	}

	if _, err := ing.iot.Status.ProcessIncomingStatus(containmentID, string(payload)); err != nil {
		ing.logger.Warn("Dropping bad containment status message",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// HandleSensorMessage processes one device sensor reading.
func (ing *Ingestor) HandleSensorMessage(topic string, payload []byte) {
	deviceID, rackID, containmentID := extractDeviceIdentity(topic)

	if deviceID != "" && ing.limiters != nil && !ing.limiters.Allow(deviceID) {
		ing.logger.Warn("Rate limit exceeded, dropping reading", zap.String("device_id", deviceID))
		return
	}

	enriched := enrichReadingPayload(payload, deviceID, rackID, containmentID)

	if _, _, err := ing.iot.Decision.ProcessIncomingReading(string(enriched)); err != nil {
		ing.logger.Warn("Dropping bad sensor message",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// extractContainmentID pulls the containment id from the topic path, or
// from a ContainmentId payload field when the topic carries none.
func extractContainmentID(topic string, payload []byte) uint {
	if m := statusTopicRe.FindStringSubmatch(topic); m != nil {
		if id, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			return uint(id)
		}
	}

	var body struct {
		ContainmentID *uint `json:"ContainmentId"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.ContainmentID != nil {
		return *body.ContainmentID
	}
	return 0
}

func extractDeviceIdentity(topic string) (deviceID string, rackID, containmentID *uint) {
	if m := sensorTopicRe.FindStringSubmatch(topic); m != nil {
		if cid, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			v := uint(cid)
			containmentID = &v
		}
		if rid, err := strconv.ParseUint(m[2], 10, 32); err == nil {
			v := uint(rid)
			rackID = &v
		}
		deviceID = m[3]
		return
	}
	if m := deviceTopicRe.FindStringSubmatch(topic); m != nil {
		deviceID = m[1]
	}
	return
}

// enrichReadingPayload fills identity fields derived from the topic into
// the reading payload without disturbing what the device sent.
func enrichReadingPayload(payload []byte, deviceID string, rackID, containmentID *uint) []byte {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		// leave it as is; the decoder reports the validation error
		return payload
	}

	setIfAbsent := func(key string, value any) {
		if _, exists := body[key]; exists {
			return
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return
		}
		body[key] = raw
	}

	if deviceID != "" {
		setIfAbsent("deviceId", deviceID)
	}
	if rackID != nil {
		setIfAbsent("rackId", *rackID)
	}
	if containmentID != nil {
		setIfAbsent("containmentId", *containmentID)
	}

	enriched, err := json.Marshal(body)
	if err != nil {
		return payload
	}
	return enriched
}
