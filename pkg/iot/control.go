package iot

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/models"
)

// DefaultControlTopic is where outbound containment commands go unless the
// deployment overrides it.
const DefaultControlTopic = "IOT/Containment/Control"

func (i *IOT) controlTopic() string {
	if i.ControlTopic != "" {
		return i.ControlTopic
	}
	return DefaultControlTopic
}

// commandText maps (control type, desired state) to the command string the
// containment controller firmware understands.
func commandText(controlType string, desiredState bool) (string, error) {
	type key struct {
		controlType string
		enabled     bool
	}
	table := map[key]string{
		{"front_door", true}:         "Open front door",
		{"front_door", false}:        "Close front door",
		{"back_door", true}:          "Open back door",
		{"back_door", false}:         "Close back door",
		{"front_door_always", true}:  "Open front door always enable",
		{"front_door_always", false}: "Open front door always disable",
		{"back_door_always", true}:   "Open back door always enable",
		{"back_door_always", false}:  "Open back door always disable",
		{"ceiling", true}:            "Open ceiling",
		{"ceiling", false}:           "Close ceiling",
	}
	text, ok := table[key{controlType, desiredState}]
	if !ok {
		return "", common.NewValidationError(fmt.Sprintf("unknown control type: %s", controlType), nil)
	}
	return text, nil
}

// controlEnvelope is the outbound command message shape.
type controlEnvelope struct {
	Command string         `json:"command"`
	Data    map[string]any `json:"data,omitempty"`
}

// dispatch turns a control intent into an outbound message plus an audit
// record. The audit record is written as pending before the publish and
// flipped to its terminal status after; a failed publish is reported on the
// record, not raised, unless the transport is down at call time.
func (i *IOT) dispatch(containmentID uint, controlType string, desiredState bool, actorID int) (*models.ControlCommand, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTControl),
	)

	command, err := commandText(controlType, desiredState)
	if err != nil {
		return nil, err
	}

	record := &models.ControlCommand{
		ContainmentID: containmentID,
		ControlType:   controlType,
		Command:       command,
		DesiredState:  desiredState,
		Status:        models.CommandStatusPending,
		ExecutedBy:    actorID,
		ExecutedAt:    time.Now().UTC(),
	}
	if err := i.Db.Conn.Create(record).Error; err != nil {
		return nil, err
	}

	logger.Info("Control command recorded",
		zap.Uint("containment_id", containmentID),
		zap.String("command", command),
		zap.Int("actor_id", actorID),
	)

	payload, err := json.Marshal(controlEnvelope{
		Command: command,
		Data: map[string]any{
			"containmentId": containmentID,
			"controlType":   controlType,
			"enabled":       desiredState,
			"timestamp":     record.ExecutedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return i.finishDispatch(record, err)
	}

	if i.Transport == nil || !i.Transport.IsConnected() {
		terr := common.NewTransportError("dispatch", fmt.Errorf("transport not connected"))
		record, _ = i.finishDispatch(record, terr)
		return record, terr
	}

	return i.finishDispatch(record, i.Transport.Publish(i.controlTopic(), payload))
}

// finishDispatch records the terminal status of a dispatched command.
func (i *IOT) finishDispatch(record *models.ControlCommand, publishErr error) (*models.ControlCommand, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTControl),
	)

	if publishErr == nil {
		record.Status = models.CommandStatusSuccess
	} else {
		record.Status = models.CommandStatusFailed
		record.ErrorMessage = publishErr.Error()
	}

	if err := i.Db.Conn.Save(record).Error; err != nil {
		// publish outcome and audit record now disagree
		logger.Error("Audit write failed after publish",
			zap.Uint("record_id", record.ID),
			zap.NamedError("publish_err", publishErr),
			zap.Error(err),
		)
		return record, common.NewConflictError("control audit record out of sync with publish outcome")
	}

	if publishErr != nil {
		logger.Error("Control command failed",
			zap.Uint("containment_id", record.ContainmentID),
			zap.String("command", record.Command),
			zap.Error(publishErr),
		)
	} else {
		logger.Info("Control command sent",
			zap.Uint("containment_id", record.ContainmentID),
			zap.String("command", record.Command),
		)
	}

	return record, nil
}

func (i *IOT) getControlHistory(containmentID uint, limit int) ([]models.ControlCommand, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.ControlCommand
	query := i.Db.Conn.Order("executed_at desc").Limit(limit)
	if containmentID != 0 {
		query = query.Where("containment_id = ?", containmentID)
	}
	err := query.Find(&records).Error
	return records, err
}

type IControlImpl struct {
	iot *IOT
}

func (ic *IControlImpl) Dispatch(containmentID uint, controlType string, desiredState bool, actorID int) (*models.ControlCommand, error) {
	return ic.iot.dispatch(containmentID, controlType, desiredState, actorID)
}

func (ic *IControlImpl) GetControlHistory(containmentID uint, limit int) ([]models.ControlCommand, error) {
	return ic.iot.getControlHistory(containmentID, limit)
}

func (i *IOT) GetIControl() IControl {
	return &IControlImpl{iot: i}
}
