package iot

import (
	"sync"
	"time"

	"iot-containment-service/pkg/db"
	"iot-containment-service/pkg/models"
)

// Transport is what the core needs from the message gateway. The concrete
// implementation lives in pkg/mqtt.
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(pattern string, handler func(topic string, payload []byte)) error
	Unsubscribe(pattern string) error
	IsConnected() bool
}

type IStatus interface {
	ParseContainmentStatus(containmentID uint, rawPayload string) (*models.ContainmentStatus, error)
	ProcessIncomingStatus(containmentID uint, rawPayload string) (*models.ContainmentStatus, error)
	GetLatestStatus(containmentID uint) (*models.ContainmentStatus, error)
}

type IActivity interface {
	RecordSeen(deviceID string, timestamp time.Time)
	GetState(deviceID string) DeviceActivityState
	RecomputeAll() map[string]DeviceActivityState
}

type IDecision interface {
	ProcessIncomingReading(rawPayload string) (*models.SensorReading, DecisionResult, error)
	ProcessReading(reading *models.SensorReading) (DecisionResult, error)
}

type IControl interface {
	Dispatch(containmentID uint, controlType string, desiredState bool, actorID int) (*models.ControlCommand, error)
	GetControlHistory(containmentID uint, limit int) ([]models.ControlCommand, error)
}

type IPolicy interface {
	Resolve(deviceID string, containmentID uint) EffectiveConfig
	UpsertPolicy(config *models.SensorPolicyConfig) (*models.SensorPolicyConfig, error)
	ListPolicies() ([]models.SensorPolicyConfig, error)
}

type IEmergency interface {
	ApplyStatusFlags(status *models.ContainmentStatus) error
	GetActiveWindow(emergencyType models.EmergencyType) (*models.EmergencyWindow, error)
	ListWindows(limit int) ([]models.EmergencyWindow, error)
	CloseWindow(id uint, notes string) (*models.EmergencyWindow, error)
}

type IOT struct {
	Db        db.DB
	Transport Transport

	// ControlTopic overrides DefaultControlTopic when set at construction.
	ControlTopic string

	Status    IStatus
	Activity  IActivity
	Decision  IDecision
	Control   IControl
	Policy    IPolicy
	Emergency IEmergency

	stateOnce   sync.Once
	activity    *activityTracker
	lastPersist *lastPersistedStore
}

type ServiceOpts struct {
	Status    IStatus
	Activity  IActivity
	Decision  IDecision
	Control   IControl
	Policy    IPolicy
	Emergency IEmergency
}

func (i *IOT) WithServices(opts ServiceOpts) *IOT {
	if opts.Status != nil {
		i.Status = opts.Status
	}
	if opts.Activity != nil {
		i.Activity = opts.Activity
	}
	if opts.Decision != nil {
		i.Decision = opts.Decision
	}
	if opts.Control != nil {
		i.Control = opts.Control
	}
	if opts.Policy != nil {
		i.Policy = opts.Policy
	}
	if opts.Emergency != nil {
		i.Emergency = opts.Emergency
	}
	return i
}

func (i *IOT) ensureState() {
	i.stateOnce.Do(func() {
		i.activity = newActivityTracker(i)
		i.lastPersist = newLastPersistedStore(i)
	})
}

func (i *IOT) activityState() *activityTracker {
	i.ensureState()
	return i.activity
}

func (i *IOT) lastPersisted() *lastPersistedStore {
	i.ensureState()
	return i.lastPersist
}
