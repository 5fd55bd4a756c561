package models

import "time"

type CommandStatus string

const (
	CommandStatusPending CommandStatus = "pending"
	CommandStatusSuccess CommandStatus = "success"
	CommandStatusFailed  CommandStatus = "failed"
)

type EmergencyType string

const (
	EmergencyTypeSmoke           EmergencyType = "smoke_detector"
	EmergencyTypeFss             EmergencyType = "fss"
	EmergencyTypeEmergencyButton EmergencyType = "emergency_button"
	EmergencyTypeEmergencyTemp   EmergencyType = "emergency_temp"
)

// ContainmentStatus is the latest known physical state of one containment.
// Exactly one row per containment; each inbound status message overwrites
// the previous row instead of appending to a log.
type ContainmentStatus struct {
	ID            uint `gorm:"primaryKey"`
	ContainmentID uint `gorm:"uniqueIndex"`

	LightingStatus       bool
	EmergencyStatus      bool
	SmokeDetectorStatus  bool
	FssStatus            bool
	EmergencyButtonState bool
	SolenoidStatus       bool
	LimitSwitchFrontDoor bool
	LimitSwitchBackDoor  bool
	OpenFrontDoorStatus  bool
	OpenBackDoorStatus   bool
	EmergencyTemp        bool

	MqttTimestamp time.Time
	RawPayload    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SensorReading is an immutable sensor observation. Rows exist only for
// readings the decision engine approved for persistence.
type SensorReading struct {
	ID            uint   `gorm:"primaryKey"`
	DeviceID      string `gorm:"index"`
	RackID        *uint
	ContainmentID *uint
	SensorType    string
	Temperature   *float64
	Humidity      *float64
	RawPayload    string
	Timestamp     time.Time `gorm:"index"`
	ReceivedAt    time.Time
}

// ControlCommand is the append-only audit record for one dispatched
// containment control intent. Only the pending -> terminal transition
// mutates a row.
type ControlCommand struct {
	ID            uint `gorm:"primaryKey"`
	ContainmentID uint `gorm:"index"`
	ControlType   string
	Command       string
	DesiredState  bool
	Status        CommandStatus `gorm:"type:varchar(20);check:status IN ('pending','success','failed')"`
	ErrorMessage  string
	ExecutedBy    int
	ExecutedAt    time.Time
}

// SensorPolicyConfig is one tier of the save-interval/threshold
// configuration. Scope is device-specific (DeviceID set), containment-wide
// (ContainmentID set), or global (IsGlobal); at most one config may be
// global at any time.
type SensorPolicyConfig struct {
	ID   uint `gorm:"primaryKey"`
	Name string

	DeviceID      *string `gorm:"index"`
	ContainmentID *uint   `gorm:"index"`
	IsGlobal      bool

	Enabled bool

	IntervalEnabled     bool
	SaveIntervalSeconds int

	ThresholdEnabled         bool
	LowerThreshold           float64
	UpperThreshold           float64
	AutoSaveOnUpperThreshold bool
	AutoSaveOnLowerThreshold bool

	WarningTimeoutSeconds int
	OfflineTimeoutSeconds int

	Bands []SensorPolicyBand `gorm:"foreignKey:ConfigID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SensorPolicyBand is one named value range of a policy config, e.g.
// cold/normal/warm/hot/critical.
type SensorPolicyBand struct {
	ID       uint `gorm:"primaryKey"`
	ConfigID uint `gorm:"index"`
	Name     string
	MinValue float64
	MaxValue float64
}

// EmergencyWindow is one open-or-closed occurrence of a named emergency
// condition. At most one active window per emergency type.
type EmergencyWindow struct {
	ID            uint          `gorm:"primaryKey"`
	EmergencyType EmergencyType `gorm:"index;type:varchar(30)"`
	ContainmentID uint
	StartTime     time.Time
	EndTime       *time.Time
	IsActive      bool `gorm:"index"`
	RawPayload    string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
