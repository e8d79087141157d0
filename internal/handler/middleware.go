package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// WriteAudit logs every state-changing /api request with its outcome. Reads
// are only logged at debug level.
func WriteAudit(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		method := strings.ToUpper(c.Request.Method)
		status := c.Writer.Status()
		level := levelFromStatus(status)
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			level = zapcore.DebugLevel
		}
		if ce := logger.Check(level, "api request"); ce != nil {
			ce.Write(
				zap.String("method", method),
				zap.String("route", c.FullPath()),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Duration("took", time.Since(start)),
				zap.String("client_ip", c.ClientIP()),
			)
		}
	}
}

func levelFromStatus(status int) zapcore.Level {
	if status >= 500 {
		return zapcore.ErrorLevel
	}
	if status >= 400 {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
