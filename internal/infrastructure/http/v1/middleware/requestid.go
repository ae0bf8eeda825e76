package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ventapos/pkg/logger"
)

const HeaderRequestID = "X-Request-ID"

// RequestID propagates or generates a request id and binds a request-scoped
// logger into the context so downstream layers tag their lines with it.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := logger.WithLogger(c.Request.Context(), log.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Set("request_id", requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}
