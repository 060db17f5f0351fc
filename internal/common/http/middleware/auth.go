package middleware

import (
	"context"
	"strings"

	"codexec/internal/common/auth"
	pkgerrors "codexec/pkg/errors"
	"codexec/pkg/utils/contextkey"
	"codexec/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"
)

// AuthMiddleware enforces bearer-token validation and optional role checks.
// A nil authenticator admits every request.
func AuthMiddleware(authenticator *auth.Authenticator, roles []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticator == nil {
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		principal, err := authenticator.Authenticate(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(roles) > 0 && !hasRole(principal.Role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}

		c.Set(userIDContextKey, principal.Subject)
		c.Set(userRoleContextKey, principal.Role)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, principal.Subject))
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
