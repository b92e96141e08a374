package middleware

import (
	"validibot/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID 请求 ID 头，支持上游网关传递
const HeaderRequestID = "X-Request-ID"

// RequestID 请求 ID 中间件
// 为每个请求注入 trace_id，使同一请求的全部日志可以串联
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), requestID))
		c.Writer.Header().Set(HeaderRequestID, requestID)

		c.Next()
	}
}
