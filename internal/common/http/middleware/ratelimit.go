package middleware

import (
	"fmt"

	"codexec/internal/common/ratelimit"
	"codexec/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware charges each request to the authenticated user when
// there is one, otherwise to the client IP. A nil limiter admits everything.
func RateLimitMiddleware(limiter ratelimit.Limiter, routeKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := fmt.Sprintf("ip:%s:%s", c.ClientIP(), routeKey)
		if userID := c.GetString(userIDContextKey); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, routeKey)
		}
		if err := limiter.Allow(c.Request.Context(), key); err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
