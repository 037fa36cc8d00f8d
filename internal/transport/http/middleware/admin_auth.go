package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Markers an admin session token must contain after the secret prefix.
var adminMarkers = []string{"admin", "jaguar"}

// RequireAdmin gates operator endpoints behind the session-secret bearer
// scheme: the token must be prefixed by the configured secret and carry an
// admin marker. There is no user database; the prefix check is the whole
// authentication.
func RequireAdmin(sessionSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "Authorization required"})
			return
		}

		if sessionSecret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "Server configuration error"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || !strings.HasPrefix(token, sessionSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "Invalid token"})
			return
		}

		isAdmin := false
		for _, marker := range adminMarkers {
			if strings.Contains(token, marker) {
				isAdmin = true
				break
			}
		}
		if !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden,
				gin.H{"error": "Admin access required"})
			return
		}

		c.Next()
	}
}
