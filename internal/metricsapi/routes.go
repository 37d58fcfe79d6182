// Package metricsapi exposes the /metrics and /healthz surface the
// backpressure controller and orchestrator publish into.
package metricsapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/swap-sentinel/internal/backpressure"
)

// StatusProvider is the minimal read surface the routes need from the
// orchestrator — kept narrow so this package never imports the orchestrator
// package itself.
type StatusProvider interface {
	Mode() backpressure.Mode
	ConsumerLag() time.Duration
	BufferLen() int64
	Uptime() time.Duration
}

// NewRouter builds a gin engine serving /healthz and /metrics.
func NewRouter(status StatusProvider) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_s": status.Uptime().Seconds()})
	})

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"mode":          status.Mode().String(),
			"lag_s":         status.ConsumerLag().Seconds(),
			"buffer_len":    status.BufferLen(),
			"uptime_s":      status.Uptime().Seconds(),
		})
	})

	return r
}
