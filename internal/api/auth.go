package api

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Bearer Token Authentication Middleware
//
// Reads API_AUTH_TOKEN from environment. If set, the trace lifecycle
// routes require: Authorization: Bearer <token>
//
// Read-only endpoints (health, websocket stream, alert history,
// batch window) stay public for dashboards.

// AuthMiddleware returns a Gin middleware that validates bearer tokens.
// If API_AUTH_TOKEN is not set, all requests are allowed (dev mode).
// In GIN_MODE=release an unset token leaves trace submission open to
// the public internet, so the middleware warns loudly at startup.
func AuthMiddleware() gin.HandlerFunc {
	token := os.Getenv("API_AUTH_TOKEN")

	if token == "" && os.Getenv("GIN_MODE") == "release" {
		log.Warn().Msg("API_AUTH_TOKEN is not set in release mode; trace endpoints are publicly accessible")
	}

	return func(c *gin.Context) {
		// No token configured: development mode, skip auth
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <API_AUTH_TOKEN>",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			c.Abort()
			return
		}

		// Constant-time comparison prevents timing-based token enumeration.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
