// README: Bearer token auth and role checks for patient, driver and admin callers.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ambulance/internal/infra"
)

const (
	RolePatient = "patient"
	RoleDriver  = "driver"
	RoleAdmin   = "admin"

	ctxUID  = "caller_uid"
	ctxRole = "caller_role"

	// CallbackTokenHeader carries the shared secret on gateway callbacks.
	CallbackTokenHeader = "X-Callback-Token"
)

// Auth verifies the bearer token and stores the caller's uid and role on the
// context. Websocket clients that cannot set headers may pass ?token=.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if h := c.GetHeader("Authorization"); h != "" {
			if !strings.HasPrefix(h, "Bearer ") {
				abort(c, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		} else {
			raw = c.Query("token")
		}
		if raw == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tok, err := verifier.VerifyToken(c.Request.Context(), raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		role := tok.Role
		if role == "" {
			role = RolePatient
		}
		c.Set(ctxUID, tok.UID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "forbidden")
	}
}

// CallbackToken checks the gateway's shared secret. An empty token disables the check.
func CallbackToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(CallbackTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid callback token")
			return
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
