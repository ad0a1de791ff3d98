package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GreyyDaze/orbit-server/pkg/logger"
)

// Logger writes a concise structured access log for each request. Ghost and
// account identifiers are logged when present so support can trace a claim
// flow end to end.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if ghost := c.GetHeader(GhostHeader); ghost != "" {
			fields = append(fields, zap.String("ghost_id", ghost))
		}

		logger.WithModule("http").Info("request", fields...)
	}
}
