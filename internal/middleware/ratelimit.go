package middleware

import (
	"subscription-checkout/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit rejects requests beyond the limiter's budget with 429.
func RateLimit(logger *zap.Logger, limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			resp := apperr.ToErrorResponse(logger, GetTraceID(c),
				apperr.New(apperr.CodeRateLimited, apperr.CodeRateLimited.Message, nil))
			c.AbortWithStatusJSON(resp.Status, resp)
			return
		}
		c.Next()
	}
}
