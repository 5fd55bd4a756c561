package iot

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/models"
)

type DecisionReason string

const (
	ReasonThresholdBreach DecisionReason = "threshold_breach"
	ReasonIntervalElapsed DecisionReason = "interval_elapsed"
	ReasonSkipped         DecisionReason = "skipped"
	ReasonForced          DecisionReason = "forced"
)

const BandUnknown = "Unknown"

// DecisionResult is the outcome of evaluating one reading against the
// effective configuration.
type DecisionResult struct {
	ShouldPersist bool
	Reason        DecisionReason
	Band          string
}

// Evaluate is a pure function of its three inputs.
//
// Threshold breach with the matching auto-save flag set takes priority over
// interval gating; a breach without the flag falls through to the interval
// check. With neither policy enabled every reading is kept.
func Evaluate(reading *models.SensorReading, lastPersistedAt time.Time, cfg EffectiveConfig) DecisionResult {
	result := DecisionResult{Band: classifyBand(reading, cfg.Bands)}

	value, hasValue := primaryValue(reading)

	if cfg.ThresholdEnabled && hasValue {
		if value > cfg.UpperThreshold {
			result.Reason = ReasonThresholdBreach
			if cfg.AutoSaveOnUpperThreshold {
				result.ShouldPersist = true
				return result
			}
		} else if value < cfg.LowerThreshold {
			result.Reason = ReasonThresholdBreach
			if cfg.AutoSaveOnLowerThreshold {
				result.ShouldPersist = true
				return result
			}
		}
	}

	if cfg.IntervalEnabled {
		elapsed := reading.Timestamp.Sub(lastPersistedAt)
		if lastPersistedAt.IsZero() || elapsed >= cfg.SaveInterval {
			result.ShouldPersist = true
			result.Reason = ReasonIntervalElapsed
		} else {
			result.ShouldPersist = false
			result.Reason = ReasonSkipped
		}
		return result
	}

	if !cfg.ThresholdEnabled {
		result.ShouldPersist = true
		result.Reason = ReasonForced
		return result
	}

	// threshold policy enabled but not breached (or breach side not
	// auto-saved) and no interval policy: nothing forces persistence
	if result.Reason == "" {
		result.Reason = ReasonSkipped
	}
	result.ShouldPersist = false
	return result
}

// classifyBand locates the configured band containing the reading's primary
// value. Bands are pre-sorted by lower bound; the first containing band
// wins, which makes overlap resolution deterministic (lowest bound first).
func classifyBand(reading *models.SensorReading, bands []ValueBand) string {
	value, ok := primaryValue(reading)
	if !ok {
		return BandUnknown
	}
	for _, band := range bands {
		if value >= band.Min && value < band.Max {
			return band.Name
		}
	}
	return BandUnknown
}

// primaryValue picks the value the policies apply to. Temperature is the
// governed quantity for containment sensors; humidity-only readings carry
// no policy value.
func primaryValue(reading *models.SensorReading) (float64, bool) {
	if reading.Temperature != nil {
		return *reading.Temperature, true
	}
	return 0, false
}

// lastPersistedStore guards the per-device last-persisted timestamp. The
// read-evaluate-write cycle for one device runs under that device's lock so
// two near-simultaneous readings cannot both be approved against a stale
// timestamp.
type lastPersistedStore struct {
	iot    *IOT
	guards sync.Map // deviceID -> *deviceGuard
}

type deviceGuard struct {
	mu     sync.Mutex
	at     time.Time
	loaded bool
}

func newLastPersistedStore(iot *IOT) *lastPersistedStore {
	return &lastPersistedStore{iot: iot}
}

func (s *lastPersistedStore) guard(deviceID string) *deviceGuard {
	g, _ := s.guards.LoadOrStore(deviceID, &deviceGuard{})
	return g.(*deviceGuard)
}

// load returns the last persisted timestamp, seeding from the newest stored
// reading the first time a device is seen. Caller must hold g.mu.
func (s *lastPersistedStore) load(g *deviceGuard, deviceID string) time.Time {
	if !g.loaded {
		var last models.SensorReading
		err := s.iot.Db.Conn.
			Where("device_id = ?", deviceID).
			Order("timestamp desc").
			First(&last).Error
		if err == nil {
			g.at = last.Timestamp
		}
		g.loaded = true
	}
	return g.at
}

// processReading runs the decide-then-persist step for one decoded reading
// atomically per device.
func (i *IOT) processReading(reading *models.SensorReading) (DecisionResult, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTDecision),
	)

	if reading.DeviceID == "" {
		return DecisionResult{}, common.NewValidationError("reading has no device id", nil)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now().UTC()
	}

	var containmentID uint
	if reading.ContainmentID != nil {
		containmentID = *reading.ContainmentID
	}
	cfg := i.Policy.Resolve(reading.DeviceID, containmentID)

	store := i.lastPersisted()
	g := store.guard(reading.DeviceID)
	g.mu.Lock()
	defer g.mu.Unlock()

	lastAt := store.load(g, reading.DeviceID)
	result := Evaluate(reading, lastAt, cfg)

	logger.Info("Evaluated reading",
		zap.String("device_id", reading.DeviceID),
		zap.Bool("should_persist", result.ShouldPersist),
		zap.String("reason", string(result.Reason)),
		zap.String("band", result.Band),
	)

	if result.ShouldPersist {
		if err := i.Db.Conn.Create(reading).Error; err != nil {
			return result, err
		}
		g.at = reading.Timestamp
		logger.Info("Reading saved",
			zap.String("device_id", reading.DeviceID),
			zap.Time("timestamp", reading.Timestamp),
		)
	}

	i.Activity.RecordSeen(reading.DeviceID, reading.Timestamp)

	return result, nil
}

// readingPayload is the loosely-typed sensor message shape. Field devices
// disagree on key casing, so each quantity has alternates.
type readingPayload struct {
	DeviceID      string   `json:"deviceId"`
	RackID        *uint    `json:"rackId"`
	ContainmentID *uint    `json:"containmentId"`
	SensorType    string   `json:"sensorType"`
	Temp          *float64 `json:"temp"`
	Temperature   *float64 `json:"temperature"`
	TemperatureUC *float64 `json:"Temperature"`
	Hum           *float64 `json:"hum"`
	Humidity      *float64 `json:"humidity"`
	Timestamp     string   `json:"timestamp"`
}

// processIncomingReading decodes a raw sensor payload and runs it through
// the decision pipeline.
func (i *IOT) processIncomingReading(rawPayload string) (*models.SensorReading, DecisionResult, error) {
	var payload readingPayload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return nil, DecisionResult{}, common.NewValidationError("sensor payload is not valid JSON", err)
	}

	reading := &models.SensorReading{
		DeviceID:      payload.DeviceID,
		RackID:        payload.RackID,
		ContainmentID: payload.ContainmentID,
		SensorType:    payload.SensorType,
		RawPayload:    rawPayload,
		ReceivedAt:    time.Now().UTC(),
	}

	switch {
	case payload.Temp != nil:
		reading.Temperature = payload.Temp
	case payload.Temperature != nil:
		reading.Temperature = payload.Temperature
	case payload.TemperatureUC != nil:
		reading.Temperature = payload.TemperatureUC
	}

	switch {
	case payload.Hum != nil:
		reading.Humidity = payload.Hum
	case payload.Humidity != nil:
		reading.Humidity = payload.Humidity
	}

	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			reading.Timestamp = ts
		}
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = reading.ReceivedAt
	}

	result, err := i.processReading(reading)
	if err != nil {
		return nil, result, err
	}
	return reading, result, nil
}

type IDecisionImpl struct {
	iot *IOT
}

func (id *IDecisionImpl) ProcessIncomingReading(rawPayload string) (*models.SensorReading, DecisionResult, error) {
	return id.iot.processIncomingReading(rawPayload)
}

func (id *IDecisionImpl) ProcessReading(reading *models.SensorReading) (DecisionResult, error) {
	return id.iot.processReading(reading)
}

func (i *IOT) GetIDecision() IDecision {
	return &IDecisionImpl{iot: i}
}
