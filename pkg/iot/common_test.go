package iot

import (
	"bufio"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"

	"go.uber.org/mock/gomock"
	"iot-containment-service/pkg/db"
	"iot-containment-service/pkg/iot/mocks"
)

var containmentIDCounter atomic.Uint32

// NextContainmentID hands out containment ids unique across the shared
// in-memory database, so tests do not collide on the one-snapshot-per-
// containment unique index.
func NextContainmentID() uint {
	return uint(containmentIDCounter.Add(1)) + 10000
}

func GetMockIOTWithMemorySqliteDialector(t *testing.T) (
	*gomock.Controller,
	*IOT,
	*mocks.MockTransport,
) {
	ctrl := gomock.NewController(t)

	mockTransport := mocks.NewMockTransport(ctrl)
	dialector := db.UseMemorySqliteDialector()
	dbInstance := db.GetInstance(dialector) // ensure migrations
	iotInstance := &IOT{
		Db:        *dbInstance,
		Transport: mockTransport,
	}

	iotInstance.WithServices(ServiceOpts{
		Status:    iotInstance.GetIStatus(),
		Activity:  iotInstance.GetIActivity(),
		Decision:  iotInstance.GetIDecision(),
		Control:   iotInstance.GetIControl(),
		Policy:    iotInstance.GetIPolicy(),
		Emergency: iotInstance.GetIEmergency(),
	})

	return ctrl, iotInstance, mockTransport
}

func ParseLogs(r io.Reader) []any {
	scanner := bufio.NewScanner(r)
	var logs []any

	for scanner.Scan() {
		line := scanner.Text()
		var j any
		if err := json.Unmarshal([]byte(line), &j); err == nil {
			logs = append(logs, j)
		}
	}
	return logs
}
