package dashboard

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wsa/simfeed/pkg/ginx"
	"wsa/simfeed/pkg/logger"
)

const headerRequestID = "X-Request-ID"

// RequestLogger 记录请求日志，并把 trace_id 写入请求 Context
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(headerRequestID)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Header(headerRequestID, traceID)
		ctx := logger.With(c.Request.Context(), logger.KeyTraceID, traceID)
		if name := c.Param("name"); name != "" {
			ctx = logger.With(ctx, logger.KeyDashboard, name)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case status >= 500:
			log.Errorf(ctx, "[HTTP] %s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
		case status >= 400:
			log.Warnf(ctx, "[HTTP] %s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
		default:
			log.Debugf(ctx, "[HTTP] %s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
		}
	}
}

// ErrorHandler 统一错误处理：处理器通过 c.Error 上报且尚未写响应时，按错误分类输出
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		ginx.FromError(c, c.Errors.Last().Err)
	}
}
