package iot

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/models"
)

// System defaults applied when no configuration tier matches.
const (
	DefaultSaveInterval   = 15 * time.Minute
	DefaultWarningTimeout = 5 * time.Minute
	DefaultOfflineTimeout = 10 * time.Minute
)

type ConfigSource string

const (
	ConfigSourceDevice      ConfigSource = "device"
	ConfigSourceContainment ConfigSource = "containment"
	ConfigSourceGlobal      ConfigSource = "global"
	ConfigSourceDefault     ConfigSource = "default"
)

// ValueBand is one named numeric range, e.g. cold/normal/warm/hot/critical.
// A value v belongs to the band when Min <= v < Max.
type ValueBand struct {
	Name string
	Min  float64
	Max  float64
}

// EffectiveConfig is the configuration in force for a (device, containment)
// pair after tier precedence. It is computed per call, never stored.
type EffectiveConfig struct {
	Source ConfigSource

	IntervalEnabled bool
	SaveInterval    time.Duration

	ThresholdEnabled         bool
	LowerThreshold           float64
	UpperThreshold           float64
	AutoSaveOnUpperThreshold bool
	AutoSaveOnLowerThreshold bool

	WarningTimeout time.Duration
	OfflineTimeout time.Duration

	Bands []ValueBand
}

func defaultEffectiveConfig() EffectiveConfig {
	return EffectiveConfig{
		Source:          ConfigSourceDefault,
		IntervalEnabled: false,
		SaveInterval:    DefaultSaveInterval,
		WarningTimeout:  DefaultWarningTimeout,
		OfflineTimeout:  DefaultOfflineTimeout,
	}
}

func effectiveFromModel(cfg *models.SensorPolicyConfig, source ConfigSource) EffectiveConfig {
	eff := EffectiveConfig{
		Source:                   source,
		IntervalEnabled:          cfg.IntervalEnabled,
		SaveInterval:             time.Duration(cfg.SaveIntervalSeconds) * time.Second,
		ThresholdEnabled:         cfg.ThresholdEnabled,
		LowerThreshold:           cfg.LowerThreshold,
		UpperThreshold:           cfg.UpperThreshold,
		AutoSaveOnUpperThreshold: cfg.AutoSaveOnUpperThreshold,
		AutoSaveOnLowerThreshold: cfg.AutoSaveOnLowerThreshold,
		WarningTimeout:           time.Duration(cfg.WarningTimeoutSeconds) * time.Second,
		OfflineTimeout:           time.Duration(cfg.OfflineTimeoutSeconds) * time.Second,
	}
	if eff.WarningTimeout <= 0 {
		eff.WarningTimeout = DefaultWarningTimeout
	}
	if eff.OfflineTimeout <= 0 {
		eff.OfflineTimeout = DefaultOfflineTimeout
	}
	for _, band := range cfg.Bands {
		eff.Bands = append(eff.Bands, ValueBand{Name: band.Name, Min: band.MinValue, Max: band.MaxValue})
	}
	// deterministic lookup order: lowest bound first
	sort.Slice(eff.Bands, func(a, b int) bool { return eff.Bands[a].Min < eff.Bands[b].Min })
	return eff
}

// resolve walks the tiers: device-scoped wins over containment-scoped wins
// over global, falling back to hard-coded defaults.
func (i *IOT) resolve(deviceID string, containmentID uint) EffectiveConfig {
	var cfg models.SensorPolicyConfig

	if deviceID != "" {
		err := i.Db.Conn.Preload("Bands").
			First(&cfg, "device_id = ? AND enabled = ?", deviceID, true).Error
		if err == nil {
			return effectiveFromModel(&cfg, ConfigSourceDevice)
		}
	}

	if containmentID != 0 {
		err := i.Db.Conn.Preload("Bands").
			First(&cfg, "containment_id = ? AND enabled = ?", containmentID, true).Error
		if err == nil {
			return effectiveFromModel(&cfg, ConfigSourceContainment)
		}
	}

	err := i.Db.Conn.Preload("Bands").
		First(&cfg, "is_global = ? AND enabled = ?", true, true).Error
	if err == nil {
		return effectiveFromModel(&cfg, ConfigSourceGlobal)
	}

	return defaultEffectiveConfig()
}

func validatePolicy(cfg *models.SensorPolicyConfig) error {
	scopes := 0
	if cfg.DeviceID != nil {
		scopes++
	}
	if cfg.ContainmentID != nil {
		scopes++
	}
	if cfg.IsGlobal {
		scopes++
	}
	if scopes != 1 {
		return common.NewValidationError("config must target exactly one of device, containment or global scope", nil)
	}

	if cfg.IntervalEnabled && cfg.SaveIntervalSeconds <= 0 {
		return common.NewValidationError("save interval must be greater than zero when interval policy is enabled", nil)
	}

	if cfg.ThresholdEnabled && cfg.LowerThreshold >= cfg.UpperThreshold {
		return common.NewValidationError(
			fmt.Sprintf("lower threshold %.2f must be less than upper threshold %.2f", cfg.LowerThreshold, cfg.UpperThreshold), nil)
	}

	if cfg.WarningTimeoutSeconds != 0 || cfg.OfflineTimeoutSeconds != 0 {
		if cfg.WarningTimeoutSeconds <= 0 || cfg.OfflineTimeoutSeconds <= 0 {
			return common.NewValidationError("warning and offline timeouts must both be set and positive", nil)
		}
		if cfg.WarningTimeoutSeconds >= cfg.OfflineTimeoutSeconds {
			return common.NewValidationError(
				fmt.Sprintf("warning timeout %ds must be less than offline timeout %ds",
					cfg.WarningTimeoutSeconds, cfg.OfflineTimeoutSeconds), nil)
		}
	}

	return validateBands(cfg.Bands)
}

func validateBands(bands []models.SensorPolicyBand) error {
	if len(bands) == 0 {
		return nil
	}

	sorted := make([]models.SensorPolicyBand, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].MinValue < sorted[b].MinValue })

	for idx, band := range sorted {
		if band.Name == "" {
			return common.NewValidationError("band name must not be empty", nil)
		}
		if band.MinValue >= band.MaxValue {
			return common.NewValidationError(
				fmt.Sprintf("band %q has min %.2f >= max %.2f", band.Name, band.MinValue, band.MaxValue), nil)
		}
		if idx > 0 && band.MinValue < sorted[idx-1].MaxValue {
			return common.NewValidationError(
				fmt.Sprintf("band %q overlaps band %q", band.Name, sorted[idx-1].Name), nil)
		}
	}
	return nil
}

// upsertPolicy validates and writes one configuration tier. A second global
// configuration is a conflict; an existing configuration for the same scope
// is updated in place.
func (i *IOT) upsertPolicy(input *models.SensorPolicyConfig) (*models.SensorPolicyConfig, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTPolicy),
	)

	if err := validatePolicy(input); err != nil {
		return nil, err
	}

	var existing models.SensorPolicyConfig
	var lookupErr error
	switch {
	case input.IsGlobal:
		lookupErr = i.Db.Conn.First(&existing, "is_global = ?", true).Error
		if lookupErr == nil && existing.ID != input.ID {
			return nil, common.NewConflictError("a global sensor policy already exists")
		}
	case input.DeviceID != nil:
		lookupErr = i.Db.Conn.First(&existing, "device_id = ?", *input.DeviceID).Error
	default:
		lookupErr = i.Db.Conn.First(&existing, "containment_id = ?", *input.ContainmentID).Error
	}

	if lookupErr == nil {
		input.ID = existing.ID
		if err := i.Db.Conn.Where("config_id = ?", existing.ID).Delete(&models.SensorPolicyBand{}).Error; err != nil {
			return nil, err
		}
		if err := i.Db.Conn.Session(&gorm.Session{FullSaveAssociations: true}).Save(input).Error; err != nil {
			return nil, err
		}
		logger.Info("Updated sensor policy", zap.Reflect("config", input))
		return input, nil
	}

	if err := i.Db.Conn.Create(input).Error; err != nil {
		return nil, err
	}

	logger.Info("Created sensor policy", zap.Reflect("config", input))
	return input, nil
}

func (i *IOT) listPolicies() ([]models.SensorPolicyConfig, error) {
	var configs []models.SensorPolicyConfig
	err := i.Db.Conn.Preload("Bands").
		Order("is_global desc, containment_id, device_id").
		Find(&configs).Error
	return configs, err
}

type IPolicyImpl struct {
	iot *IOT
}

func (ip *IPolicyImpl) Resolve(deviceID string, containmentID uint) EffectiveConfig {
	return ip.iot.resolve(deviceID, containmentID)
}

func (ip *IPolicyImpl) UpsertPolicy(config *models.SensorPolicyConfig) (*models.SensorPolicyConfig, error) {
	return ip.iot.upsertPolicy(config)
}

func (ip *IPolicyImpl) ListPolicies() ([]models.SensorPolicyConfig, error) {
	return ip.iot.listPolicies()
}

func (i *IOT) GetIPolicy() IPolicy {
	return &IPolicyImpl{iot: i}
}
