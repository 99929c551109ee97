package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftlabs/mixpool/internal/idgen"
	"github.com/driftlabs/mixpool/internal/logging"
)

// requestIDMiddleware assigns each request an ID (honoring X-Request-ID from
// the caller) and stores a request-scoped logger in the context.
func requestIDMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, base.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// loggingMiddleware logs each completed request at a level chosen by status.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger := logging.L(c.Request.Context())
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			logger.Error("request failed", attrs...)
		case status >= 400:
			logger.Warn("request error", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}
