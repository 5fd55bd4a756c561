package iot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/models"
	_ "iot-containment-service/pkg/testing"
)

func TestProcessIncomingStatusCreatesSnapshot(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	containmentID := NextContainmentID()
	payload := `{
		"Lighting status": true,
		"selenoid status": true,
		"limit switch front door status": false,
		"Timestamp": "2026-08-30T10:15:00Z"
	}`

	status, err := iotObj.Status.ProcessIncomingStatus(containmentID, payload)
	require.NoError(t, err)
	assert.True(t, status.LightingStatus)
	assert.True(t, status.SolenoidStatus)
	assert.False(t, status.LimitSwitchFrontDoor)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), status.MqttTimestamp.UTC())

	got, err := iotObj.Status.GetLatestStatus(containmentID)
	require.NoError(t, err)
	assert.Equal(t, payload, got.RawPayload)
}

func TestProcessIncomingStatusKeepsSingleRowPerContainment(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	containmentID := NextContainmentID()

	for n := 0; n < 3; n++ {
		_, err := iotObj.Status.ProcessIncomingStatus(containmentID,
			fmt.Sprintf(`{"Lighting status": %t}`, n%2 == 0))
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, iotObj.Db.Conn.Model(&models.ContainmentStatus{}).
		Where("containment_id = ?", containmentID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := iotObj.Status.GetLatestStatus(containmentID)
	require.NoError(t, err)
	assert.True(t, got.LightingStatus)
}

func TestProcessIncomingStatusMergesOverPrevious(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	containmentID := NextContainmentID()

	_, err := iotObj.Status.ProcessIncomingStatus(containmentID,
		`{"Lighting status": true, "open front door status": true}`)
	require.NoError(t, err)

	// second message omits the lighting field; the previous value carries over
	status, err := iotObj.Status.ProcessIncomingStatus(containmentID,
		`{"open front door status": false}`)
	require.NoError(t, err)
	assert.True(t, status.LightingStatus)
	assert.False(t, status.OpenFrontDoorStatus)
}

func TestProcessIncomingStatusInvalidJSON(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	containmentID := NextContainmentID()

	status, err := iotObj.Status.ProcessIncomingStatus(containmentID, `{not json`)
	assert.ErrorIs(t, err, common.ErrValidation)
	require.NotNil(t, status)
	assert.Equal(t, `{not json`, status.RawPayload)

	// the rejected payload must not have produced a snapshot row
	_, err = iotObj.Status.GetLatestStatus(containmentID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProcessIncomingStatusZeroContainmentID(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	_, err := iotObj.Status.ProcessIncomingStatus(0, `{"Lighting status": true}`)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestParseContainmentStatusBadTimestampFallsBackToNow(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	before := time.Now().UTC()
	status, err := iotObj.Status.ParseContainmentStatus(NextContainmentID(),
		`{"Lighting status": true, "Timestamp": "yesterday-ish"}`)
	require.NoError(t, err)
	assert.False(t, status.MqttTimestamp.Before(before))
}

func TestProcessIncomingStatusOpensEmergencyWindow(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, iotObj, _ := GetMockIOTWithMemorySqliteDialector(t)
	defer ctrl.Finish()

	containmentID := NextContainmentID()

	_, err := iotObj.Status.ProcessIncomingStatus(containmentID,
		`{"Smoke Detector status": true}`)
	require.NoError(t, err)

	window, err := iotObj.Emergency.GetActiveWindow(models.EmergencyTypeSmoke)
	require.NoError(t, err)
	assert.True(t, window.IsActive)
	assert.Equal(t, containmentID, window.ContainmentID)

	// clearing the flag ends the window
	_, err = iotObj.Status.ProcessIncomingStatus(containmentID,
		`{"Smoke Detector status": false}`)
	require.NoError(t, err)

	_, err = iotObj.Emergency.GetActiveWindow(models.EmergencyTypeSmoke)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
