// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. Token verification is
// decoupled behind a narrow function type so the middleware stays ignorant of
// the signing scheme; the HTTP layer wires it to the auth service.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthVerify validates a bearer token and returns the authenticated subject
// (the user ID). Implementations should return an error for any token that is
// expired, malformed, or signed with the wrong key.
type AuthVerify func(token string) (subject string, err error)

// RequireAuth returns a Gin middleware that enforces a valid Authorization
// bearer token on the request.
//
// Behavior:
//   - Missing or non-Bearer Authorization header: 401 with a compact JSON body.
//   - Verification failure: 401 (the underlying error is logged, not echoed).
//   - On success: stores the subject under the "userID" Gin context key, where
//     the logging, rate-limit, and idempotency middleware expect to find it.
func RequireAuth(verify AuthVerify) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if raw == "" || !strings.HasPrefix(raw, prefix) {
			unauthorized(c, "missing bearer token")
			return
		}
		tok := strings.TrimSpace(strings.TrimPrefix(raw, prefix))
		if tok == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		sub, err := verify(tok)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("token rejected")
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set("userID", sub)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
