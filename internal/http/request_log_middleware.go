package http

import (
	"time"

	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/echolog/echolog-server/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogMiddleware logs each request with sensitive query values masked
// and records it in the HTTP metrics under its route template.
func RequestLogMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.RecordHTTPRequest(c.Request.Method, route, status, latency.Seconds())

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + util.MaskSensitiveQuery(raw)
		}
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"latency": latency.String(),
			"client":  c.ClientIP(),
		})
		if userID := UserID(c); userID != 0 {
			entry = entry.WithField("user_id", userID)
		}
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}
