// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"net/http"

	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/pkg/response"
	"condo-session/internal/service/session"

	"github.com/gin-gonic/gin"
)

const userKey = "session_user"

// SessionGuard is what the guards read from the session manager.
type SessionGuard interface {
	State() session.State
	RequireWritable() error
}

// AuthMiddleware gates local API routes on the current session.
type AuthMiddleware struct {
	session SessionGuard
}

func NewAuthMiddleware(sess SessionGuard) *AuthMiddleware {
	return &AuthMiddleware{session: sess}
}

// Auth requires a signed-in user, online or not, and stores it in the
// request context.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := m.session.State()
		if st.User == nil {
			response.Unauthorized(c, "no active session")
			return
		}
		c.Set(userKey, st.User)
		c.Next()
	}
}

// RequireWritable rejects mutations while the session is offline or read-only.
func (m *AuthMiddleware) RequireWritable() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := m.session.RequireWritable()
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, xerrors.ErrReadOnly):
			response.Error(c, http.StatusForbidden, "session is read-only", err)
		case errors.Is(err, xerrors.ErrOffline):
			response.Error(c, http.StatusServiceUnavailable, "device is offline", err)
		default:
			response.Error(c, http.StatusInternalServerError, "session unavailable", err)
		}
	}
}

// WithWritableUser is Auth followed by RequireWritable.
func (m *AuthMiddleware) WithWritableUser() []gin.HandlerFunc {
	return []gin.HandlerFunc{m.Auth(), m.RequireWritable()}
}
