package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderTraceID = "X-Trace-Id"
	traceIDKey    = "traceId"
)

// TraceID reuses the caller's trace id or mints one, and echoes it back.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDKey, traceID)
		c.Writer.Header().Set(HeaderTraceID, traceID)
		c.Next()
	}
}

// GetTraceID returns the id set by TraceID, or "" outside that middleware.
func GetTraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
