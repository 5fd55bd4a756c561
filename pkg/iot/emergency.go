package iot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/models"
)

// emergencyMu serializes window open/close per process so two status
// messages arriving back to back cannot open duplicate active windows for
// the same type.
var emergencyMu sync.Mutex

// applyStatusFlags opens or closes emergency windows based on the flags of
// a fresh containment snapshot. A trigger for an already-active type is
// ignored (the window keeps its original start time); a cleared flag closes
// the active window.
func (i *IOT) applyStatusFlags(status *models.ContainmentStatus) error {
	flags := map[models.EmergencyType]bool{
		models.EmergencyTypeSmoke:           status.SmokeDetectorStatus,
		models.EmergencyTypeFss:             status.FssStatus,
		models.EmergencyTypeEmergencyButton: status.EmergencyButtonState,
		models.EmergencyTypeEmergencyTemp:   status.EmergencyTemp,
	}

	emergencyMu.Lock()
	defer emergencyMu.Unlock()

	for emergencyType, active := range flags {
		var err error
		if active {
			err = i.openWindow(emergencyType, status)
		} else {
			err = i.closeActiveWindow(emergencyType, "")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *IOT) openWindow(emergencyType models.EmergencyType, status *models.ContainmentStatus) error {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTEmergency),
	)

	existing, err := i.getActiveWindow(emergencyType)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if existing != nil {
		logger.Debug("Emergency already active, trigger ignored",
			zap.String("emergency_type", string(emergencyType)),
			zap.Time("start_time", existing.StartTime),
		)
		return nil
	}

	window := models.EmergencyWindow{
		EmergencyType: emergencyType,
		ContainmentID: status.ContainmentID,
		StartTime:     time.Now().UTC(),
		IsActive:      true,
		RawPayload:    status.RawPayload,
	}
	if err := i.Db.Conn.Create(&window).Error; err != nil {
		return err
	}

	logger.Warn("Emergency started",
		zap.String("emergency_type", string(emergencyType)),
		zap.Uint("containment_id", status.ContainmentID),
	)
	return nil
}

func (i *IOT) closeActiveWindow(emergencyType models.EmergencyType, notes string) error {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTEmergency),
	)

	window, err := i.getActiveWindow(emergencyType)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	window.IsActive = false
	window.EndTime = &now
	if notes != "" {
		window.Notes = notes
	}
	if err := i.Db.Conn.Save(window).Error; err != nil {
		return err
	}

	logger.Info("Emergency ended",
		zap.String("emergency_type", string(emergencyType)),
		zap.Duration("duration", now.Sub(window.StartTime)),
	)
	return nil
}

func (i *IOT) getActiveWindow(emergencyType models.EmergencyType) (*models.EmergencyWindow, error) {
	var window models.EmergencyWindow
	err := i.Db.Conn.
		Where("emergency_type = ? AND is_active = ?", emergencyType, true).
		Order("start_time desc").
		First(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("active emergency window", string(emergencyType))
	}
	if err != nil {
		return nil, err
	}
	return &window, nil
}

func (i *IOT) listWindows(limit int) ([]models.EmergencyWindow, error) {
	if limit <= 0 {
		limit = 100
	}
	var windows []models.EmergencyWindow
	err := i.Db.Conn.Order("start_time desc").Limit(limit).Find(&windows).Error
	return windows, err
}

// closeWindowByID is the administrative close used when a sensor wedges in
// the triggered position.
func (i *IOT) closeWindowByID(id uint, notes string) (*models.EmergencyWindow, error) {
	var window models.EmergencyWindow
	err := i.Db.Conn.First(&window, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("emergency window", fmt.Sprint(id))
	}
	if err != nil {
		return nil, err
	}

	if !window.IsActive {
		return &window, nil
	}

	emergencyMu.Lock()
	defer emergencyMu.Unlock()

	now := time.Now().UTC()
	window.IsActive = false
	window.EndTime = &now
	window.Notes = notes
	if err := i.Db.Conn.Save(&window).Error; err != nil {
		return nil, err
	}
	return &window, nil
}

type IEmergencyImpl struct {
	iot *IOT
}

func (ie *IEmergencyImpl) ApplyStatusFlags(status *models.ContainmentStatus) error {
	return ie.iot.applyStatusFlags(status)
}

func (ie *IEmergencyImpl) GetActiveWindow(emergencyType models.EmergencyType) (*models.EmergencyWindow, error) {
	return ie.iot.getActiveWindow(emergencyType)
}

func (ie *IEmergencyImpl) ListWindows(limit int) ([]models.EmergencyWindow, error) {
	return ie.iot.listWindows(limit)
}

func (ie *IEmergencyImpl) CloseWindow(id uint, notes string) (*models.EmergencyWindow, error) {
	return ie.iot.closeWindowByID(id, notes)
}

func (i *IOT) GetIEmergency() IEmergency {
	return &IEmergencyImpl{iot: i}
}
