package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"skywatch/internal/utils"
	pkgutils "skywatch/pkg/utils"
)

const (
	// AuthorizationHeader header carrying the bearer token
	AuthorizationHeader = "Authorization"
	// BearerPrefix token scheme prefix
	BearerPrefix = "Bearer "
	// ExternalUserIDKey context key for the authenticated user
	ExternalUserIDKey = "external_user_id"
)

// Auth verifies the bearer token and stores the external user id on the
// context. Requests without a valid token are rejected.
func Auth(manager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthorizationHeader)
		if header == "" || !strings.HasPrefix(header, BearerPrefix) {
			pkgutils.ErrorResponse(c, http.StatusUnauthorized, "missing or malformed authorization header")
			c.Abort()
			return
		}

		claims, err := manager.Verify(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			pkgutils.ErrorResponse(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set(ExternalUserIDKey, claims.ExternalUserID)
		c.Next()
	}
}

// RequireSelf checks that the authenticated user matches the userId path
// parameter, so users can only touch their own subscriptions.
func RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Param(param)
		if target == "" {
			c.Next()
			return
		}
		authenticated := c.GetString(ExternalUserIDKey)
		if authenticated != "" && authenticated != target {
			pkgutils.ErrorResponse(c, http.StatusForbidden, "forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetExternalUserID returns the authenticated user from the context.
func GetExternalUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ExternalUserIDKey)
	return id, id != ""
}
