package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/assessment-bridge/internal/vault"
)

// Authorized reports whether the request carries secret verbatim in header.
// An empty configured secret authorizes nothing.
func Authorized(c *gin.Context, header, secret string) bool {
	if secret == "" {
		return false
	}
	return vault.Equal(c.GetHeader(header), secret)
}

// RequireAPIKey aborts with 401 unless the shared secret is present.
func RequireAPIKey(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Authorized(c, header, secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}
