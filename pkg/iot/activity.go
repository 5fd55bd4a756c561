package iot

import (
	"sync"
	"time"

	"iot-containment-service/pkg/models"
)

type DeviceActivityState string

const (
	ActivityNeverSeen DeviceActivityState = "never_seen"
	ActivityOnline    DeviceActivityState = "online"
	ActivityWarning   DeviceActivityState = "warning"
	ActivityOffline   DeviceActivityState = "offline"
)

// activityTracker keeps per-device last-seen timestamps. Values are stored
// independently so RecomputeAll never needs a global lock against
// concurrent RecordSeen calls.
type activityTracker struct {
	iot      *IOT
	lastSeen sync.Map // deviceID -> time.Time
	seeded   sync.Map // deviceID -> struct{}, devices checked against the DB

	// injectable clock for tests
	now func() time.Time
}

func newActivityTracker(iot *IOT) *activityTracker {
	return &activityTracker{iot: iot, now: time.Now}
}

func (t *activityTracker) recordSeen(deviceID string, timestamp time.Time) {
	t.seeded.Store(deviceID, struct{}{})
	for {
		prev, loaded := t.lastSeen.LoadOrStore(deviceID, timestamp)
		if !loaded {
			return
		}
		// keep the newest timestamp; messages may arrive out of order
		if !timestamp.After(prev.(time.Time)) {
			return
		}
		if t.lastSeen.CompareAndSwap(deviceID, prev, timestamp) {
			return
		}
	}
}

// seedFromDB pulls the newest persisted reading for a device the first time
// it is asked about, so liveness survives process restarts.
func (t *activityTracker) seedFromDB(deviceID string) {
	if _, done := t.seeded.LoadOrStore(deviceID, struct{}{}); done {
		return
	}
	var last models.SensorReading
	err := t.iot.Db.Conn.
		Where("device_id = ?", deviceID).
		Order("timestamp desc").
		First(&last).Error
	if err == nil {
		t.recordSeen(deviceID, last.Timestamp)
	}
}

func (t *activityTracker) classify(deviceID string, lastSeen time.Time, now time.Time) DeviceActivityState {
	cfg := t.iot.Policy.Resolve(deviceID, 0)
	age := now.Sub(lastSeen)
	switch {
	case age < cfg.WarningTimeout:
		return ActivityOnline
	case age < cfg.OfflineTimeout:
		return ActivityWarning
	default:
		return ActivityOffline
	}
}

func (t *activityTracker) getState(deviceID string) DeviceActivityState {
	t.seedFromDB(deviceID)
	v, ok := t.lastSeen.Load(deviceID)
	if !ok {
		return ActivityNeverSeen
	}
	return t.classify(deviceID, v.(time.Time), t.now())
}

// recomputeAll is a pure projection over the current last-seen values. It
// is safe to call concurrently with ingestion.
func (t *activityTracker) recomputeAll() map[string]DeviceActivityState {
	now := t.now()
	states := make(map[string]DeviceActivityState)
	t.lastSeen.Range(func(key, value any) bool {
		deviceID := key.(string)
		states[deviceID] = t.classify(deviceID, value.(time.Time), now)
		return true
	})
	return states
}

type IActivityImpl struct {
	iot *IOT
}

func (ia *IActivityImpl) RecordSeen(deviceID string, timestamp time.Time) {
	ia.iot.activityState().recordSeen(deviceID, timestamp)
}

func (ia *IActivityImpl) GetState(deviceID string) DeviceActivityState {
	return ia.iot.activityState().getState(deviceID)
}

func (ia *IActivityImpl) RecomputeAll() map[string]DeviceActivityState {
	return ia.iot.activityState().recomputeAll()
}

func (i *IOT) GetIActivity() IActivity {
	return &IActivityImpl{iot: i}
}
