package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"iot-containment-service/pkg/common"
	"iot-containment-service/pkg/iot"
)

type RestfulServer struct {
	Server           *gin.Engine
	Iot              *iot.IOT
	RateLimiterStore *iot.RateLimiterStore
}

func (rs *RestfulServer) GetLimiter(deviceID string) *rate.Limiter {
	if rs.RateLimiterStore == nil {
		return nil
	} else {
		return rs.RateLimiterStore.GetLimiter(deviceID)
	}
}

func (rs *RestfulServer) CheckDeviceLimiter(deviceID string) bool {
	limiter := rs.GetLimiter(deviceID)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (rs *RestfulServer) SetLimiter(deviceID string, deviceRate float64, deviceBurst int) {
	if rs.RateLimiterStore == nil {
		return
	}
	rs.RateLimiterStore.SetLimiter(deviceID, rate.Limit(deviceRate), deviceBurst)
}

func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)

	containments := rs.Server.Group("/containments/:containment_id")
	{
		containments.POST("/status", rs.PostContainmentStatus)
		containments.GET("/status", rs.GetContainmentStatus)
		containments.POST("/control", rs.PostControl)
		containments.GET("/controls", rs.GetControlHistory)
	}

	devices := rs.Server.Group("/devices")
	{
		devices.GET("/activity", rs.GetAllActivity)
		devices.POST("/:device_id/readings", rs.PostReading)
		devices.GET("/:device_id/activity", rs.GetDeviceActivity)
		devices.GET("/:device_id/config", rs.GetEffectiveConfig)
		devices.POST("/:device_id/limiter", rs.PostLimiter)
	}

	rs.Server.POST("/configs", rs.PostConfig)
	rs.Server.GET("/configs", rs.GetConfigs)

	rs.Server.GET("/emergencies", rs.GetEmergencies)
	rs.Server.POST("/emergencies/:id/close", rs.PostCloseEmergency)
}

// writeError maps the service error kinds onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrTransport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		common.GetLoggerWith(common.LoggerNameRestfulServer).Error("Unhandled service error",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
