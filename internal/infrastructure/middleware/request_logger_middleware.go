package middleware

import (
	"time"

	rlog "github.com/bzinkan/ClassPilot-sub005/pkg/logger"
	"github.com/bzinkan/ClassPilot-sub005/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLoggerMiddleware assigns each admin request an id, threads it
// through the request context and logs the outcome.
func RequestLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	cl := rlog.NewContextLogger(logger)

	return func(c *gin.Context) {
		requestID := utils.GenerateRequestID()
		ctx := rlog.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		cl.LogInfo(ctx, "admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
