package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"

	"iot-containment-service/pkg/models"
)

func containmentIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("containment_id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "containment_id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

func (rs *RestfulServer) PostContainmentStatus(c *gin.Context) {
	containmentID, ok := containmentIDParam(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	status, err := rs.Iot.Status.ProcessIncomingStatus(containmentID, string(body))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (rs *RestfulServer) GetContainmentStatus(c *gin.Context) {
	containmentID, ok := containmentIDParam(c)
	if !ok {
		return
	}

	status, err := rs.Iot.Status.GetLatestStatus(containmentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (rs *RestfulServer) PostReading(c *gin.Context) {
	deviceID := c.Param("device_id")

	if !rs.CheckDeviceLimiter(deviceID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	reading, result, err := rs.Iot.Decision.ProcessIncomingReading(withDeviceID(body, deviceID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reading":  reading,
		"decision": result,
	})
}

// withDeviceID stamps the path device id into the payload unless the
// payload already names one.
func withDeviceID(body []byte, deviceID string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return string(body)
	}
	if _, exists := fields["deviceId"]; exists {
		return string(body)
	}
	raw, err := json.Marshal(deviceID)
	if err != nil {
		return string(body)
	}
	fields["deviceId"] = raw
	merged, err := json.Marshal(fields)
	if err != nil {
		return string(body)
	}
	return string(merged)
}

type ControlRequest struct {
	ControlType string `json:"control_type"`
	Enabled     bool   `json:"enabled"`
	ActorID     int    `json:"actor_id"`
}

var controlRequestSchema = z.Struct(z.Shape{
	"ControlType": z.String().Required(),
	"Enabled":     z.Bool(),
	"ActorID":     z.Int(),
})

func (rs *RestfulServer) PostControl(c *gin.Context) {
	containmentID, ok := containmentIDParam(c)
	if !ok {
		return
	}

	var req ControlRequest
	if err := controlRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	record, err := rs.Iot.Control.Dispatch(containmentID, req.ControlType, req.Enabled, req.ActorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (rs *RestfulServer) GetControlHistory(c *gin.Context) {
	containmentID, ok := containmentIDParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := rs.Iot.Control.GetControlHistory(containmentID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

func (rs *RestfulServer) GetDeviceActivity(c *gin.Context) {
	deviceID := c.Param("device_id")
	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"state":     rs.Iot.Activity.GetState(deviceID),
	})
}

func (rs *RestfulServer) GetAllActivity(c *gin.Context) {
	c.JSON(http.StatusOK, rs.Iot.Activity.RecomputeAll())
}

func (rs *RestfulServer) GetEffectiveConfig(c *gin.Context) {
	deviceID := c.Param("device_id")

	containmentID := uint(0)
	if raw := c.Query("containment_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			containmentID = uint(id)
		}
	}

	c.JSON(http.StatusOK, rs.Iot.Policy.Resolve(deviceID, containmentID))
}

type BandRequest struct {
	Name     string  `json:"name"`
	MinValue float64 `json:"min_value"`
	MaxValue float64 `json:"max_value"`
}

type ConfigRequest struct {
	Name                     string        `json:"name"`
	DeviceID                 string        `json:"device_id"`
	ContainmentID            int           `json:"containment_id"`
	IsGlobal                 bool          `json:"is_global"`
	Enabled                  bool          `json:"enabled"`
	IntervalEnabled          bool          `json:"interval_enabled"`
	SaveIntervalSeconds      int           `json:"save_interval_seconds"`
	ThresholdEnabled         bool          `json:"threshold_enabled"`
	LowerThreshold           float64       `json:"lower_threshold"`
	UpperThreshold           float64       `json:"upper_threshold"`
	AutoSaveOnUpperThreshold bool          `json:"auto_save_on_upper_threshold"`
	AutoSaveOnLowerThreshold bool          `json:"auto_save_on_lower_threshold"`
	WarningTimeoutSeconds    int           `json:"warning_timeout_seconds"`
	OfflineTimeoutSeconds    int           `json:"offline_timeout_seconds"`
	Bands                    []BandRequest `json:"bands"`
}

var configRequestSchema = z.Struct(z.Shape{
	"Name":                     z.String().Required(),
	"DeviceID":                 z.String(),
	"ContainmentID":            z.Int(),
	"IsGlobal":                 z.Bool(),
	"Enabled":                  z.Bool(),
	"IntervalEnabled":          z.Bool(),
	"SaveIntervalSeconds":      z.Int(),
	"ThresholdEnabled":         z.Bool(),
	"LowerThreshold":           z.Float64(),
	"UpperThreshold":           z.Float64(),
	"AutoSaveOnUpperThreshold": z.Bool(),
	"AutoSaveOnLowerThreshold": z.Bool(),
	"WarningTimeoutSeconds":    z.Int(),
	"OfflineTimeoutSeconds":    z.Int(),
	"Bands": z.Slice(z.Struct(z.Shape{
		"Name":     z.String().Required(),
		"MinValue": z.Float64(),
		"MaxValue": z.Float64(),
	})),
})

func (rs *RestfulServer) PostConfig(c *gin.Context) {
	var req ConfigRequest
	if err := configRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	config := models.SensorPolicyConfig{
		Name:                     req.Name,
		IsGlobal:                 req.IsGlobal,
		Enabled:                  req.Enabled,
		IntervalEnabled:          req.IntervalEnabled,
		SaveIntervalSeconds:      req.SaveIntervalSeconds,
		ThresholdEnabled:         req.ThresholdEnabled,
		LowerThreshold:           req.LowerThreshold,
		UpperThreshold:           req.UpperThreshold,
		AutoSaveOnUpperThreshold: req.AutoSaveOnUpperThreshold,
		AutoSaveOnLowerThreshold: req.AutoSaveOnLowerThreshold,
		WarningTimeoutSeconds:    req.WarningTimeoutSeconds,
		OfflineTimeoutSeconds:    req.OfflineTimeoutSeconds,
	}
	if req.DeviceID != "" {
		deviceID := req.DeviceID
		config.DeviceID = &deviceID
	}
	if req.ContainmentID != 0 {
		containmentID := uint(req.ContainmentID)
		config.ContainmentID = &containmentID
	}
	for _, band := range req.Bands {
		config.Bands = append(config.Bands, models.SensorPolicyBand{
			Name:     band.Name,
			MinValue: band.MinValue,
			MaxValue: band.MaxValue,
		})
	}

	saved, err := rs.Iot.Policy.UpsertPolicy(&config)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

func (rs *RestfulServer) GetConfigs(c *gin.Context) {
	configs, err := rs.Iot.Policy.ListPolicies()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (rs *RestfulServer) GetEmergencies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	windows, err := rs.Iot.Emergency.ListWindows(limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

type CloseEmergencyRequest struct {
	Notes string `json:"notes"`
}

var closeEmergencyRequestSchema = z.Struct(z.Shape{
	"Notes": z.String(),
})

func (rs *RestfulServer) PostCloseEmergency(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return
	}

	var req CloseEmergencyRequest
	if err := closeEmergencyRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	window, err := rs.Iot.Emergency.CloseWindow(uint(id), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, window)
}

type LimiterRequest struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

var limiterRequestSchema = z.Struct(z.Shape{
	"rate":  z.Float64().Required(),
	"burst": z.Int().Required(),
})

func (rs *RestfulServer) PostLimiter(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req LimiterRequest
	if err := limiterRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	rs.SetLimiter(deviceID, req.Rate, req.Burst)

	c.Status(http.StatusOK)
}

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
