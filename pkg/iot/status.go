package iot

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/models"
)

// statusPayload mirrors the loosely-typed containment status message sent
// by the field controller. Every field is optional; key names are the
// controller firmware's, spaces included.
type statusPayload struct {
	LightingStatus       *bool  `json:"Lighting status"`
	EmergencyStatus      *bool  `json:"Emergency status"`
	SmokeDetectorStatus  *bool  `json:"Smoke Detector status"`
	FssStatus            *bool  `json:"FSS status"`
	EmergencyButtonState *bool  `json:"Emergency Button State"`
	SolenoidStatus       *bool  `json:"selenoid status"`
	LimitSwitchFrontDoor *bool  `json:"limit switch front door status"`
	LimitSwitchBackDoor  *bool  `json:"limit switch back door status"`
	OpenFrontDoorStatus  *bool  `json:"open front door status"`
	OpenBackDoorStatus   *bool  `json:"open back door status"`
	EmergencyTemp        *bool  `json:"Emergency temp"`
	Timestamp            string `json:"Timestamp"`
}

// parseContainmentStatus builds the next snapshot for a containment from a
// raw payload. Absent fields keep the previous snapshot's value (safe zero
// defaults when there is no previous snapshot); only structurally invalid
// JSON is rejected. The raw payload is always retained on the snapshot.
func (i *IOT) parseContainmentStatus(containmentID uint, rawPayload string) (*models.ContainmentStatus, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTStatus),
	)

	status := &models.ContainmentStatus{
		ContainmentID: containmentID,
		RawPayload:    rawPayload,
	}

	var prev models.ContainmentStatus
	if err := i.Db.Conn.First(&prev, "containment_id = ?", containmentID).Error; err == nil {
		carried := prev
		carried.ID = 0
		carried.ContainmentID = containmentID
		carried.RawPayload = rawPayload
		carried.CreatedAt = prev.CreatedAt
		*status = carried
	}

	var payload statusPayload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return status, common.NewValidationError("containment status payload is not valid JSON", err)
	}

	applyBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	applyBool(&status.LightingStatus, payload.LightingStatus)
	applyBool(&status.EmergencyStatus, payload.EmergencyStatus)
	applyBool(&status.SmokeDetectorStatus, payload.SmokeDetectorStatus)
	applyBool(&status.FssStatus, payload.FssStatus)
	applyBool(&status.EmergencyButtonState, payload.EmergencyButtonState)
	applyBool(&status.SolenoidStatus, payload.SolenoidStatus)
	applyBool(&status.LimitSwitchFrontDoor, payload.LimitSwitchFrontDoor)
	applyBool(&status.LimitSwitchBackDoor, payload.LimitSwitchBackDoor)
	applyBool(&status.OpenFrontDoorStatus, payload.OpenFrontDoorStatus)
	applyBool(&status.OpenBackDoorStatus, payload.OpenBackDoorStatus)
	applyBool(&status.EmergencyTemp, payload.EmergencyTemp)

	status.MqttTimestamp = time.Now().UTC()
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			status.MqttTimestamp = ts
		} else {
			logger.Warn("Failed to parse timestamp from status payload, using current time",
				zap.String("timestamp", payload.Timestamp))
		}
	}

	return status, nil
}

// processIncomingStatus parses a status payload and overwrites the single
// snapshot row for the containment, then feeds the emergency flags to the
// emergency tracker.
func (i *IOT) processIncomingStatus(containmentID uint, rawPayload string) (*models.ContainmentStatus, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTStatus),
	)

	if containmentID == 0 {
		return nil, common.NewValidationError("containment id must not be zero", nil)
	}

	status, err := i.parseContainmentStatus(containmentID, rawPayload)
	if err != nil {
		// raw payload stays on the returned snapshot for audit even when
		// the payload was rejected
		return status, err
	}

	err = i.Db.Conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "containment_id"}},
		UpdateAll: true,
	}).Create(status).Error
	if err != nil {
		return nil, err
	}

	logger.Info("Containment snapshot updated",
		zap.Uint("containment_id", containmentID),
		zap.Time("mqtt_timestamp", status.MqttTimestamp),
	)

	if i.Emergency != nil {
		if err := i.Emergency.ApplyStatusFlags(status); err != nil {
			logger.Error("Failed to apply emergency flags", zap.Error(err))
		}
	}

	return status, nil
}

func (i *IOT) getLatestStatus(containmentID uint) (*models.ContainmentStatus, error) {
	var status models.ContainmentStatus
	err := i.Db.Conn.First(&status, "containment_id = ?", containmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("containment status", strconv.FormatUint(uint64(containmentID), 10))
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

type IStatusImpl struct {
	iot *IOT
}

func (is *IStatusImpl) ParseContainmentStatus(containmentID uint, rawPayload string) (*models.ContainmentStatus, error) {
	return is.iot.parseContainmentStatus(containmentID, rawPayload)
}

func (is *IStatusImpl) ProcessIncomingStatus(containmentID uint, rawPayload string) (*models.ContainmentStatus, error) {
	return is.iot.processIncomingStatus(containmentID, rawPayload)
}

func (is *IStatusImpl) GetLatestStatus(containmentID uint) (*models.ContainmentStatus, error) {
	return is.iot.getLatestStatus(containmentID)
}

func (i *IOT) GetIStatus() IStatus {
	return &IStatusImpl{iot: i}
}
