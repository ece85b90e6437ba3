package interfaces

import (
	"time"

	"github.com/gin-gonic/gin"

	"interview-coordinator/infrastructure/logger"
)

// RequestLogger logs every request after it has been served.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.WithFields(map[string]interface{}{"component": "http"})
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"clientIp": c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request failed", fields)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			log.Debug("request served", fields)
		default:
			log.Info("request served", fields)
		}
	}
}
