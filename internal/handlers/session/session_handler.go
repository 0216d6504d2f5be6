// internal/handlers/session/session_handler.go
package session

import (
	"context"
	"net/http"

	"condo-session/internal/domain/auth"
	"condo-session/internal/middleware"
	"condo-session/internal/pkg/jwt"
	"condo-session/internal/pkg/response"
	sessionsvc "condo-session/internal/service/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionService is the session manager as the local API drives it.
type SessionService interface {
	State() sessionsvc.State
	SignIn(ctx context.Context, email, password string) sessionsvc.SignInResult
	SignOut(ctx context.Context)
	RefreshSession(ctx context.Context) bool
	IsSessionValid(ctx context.Context) bool
	EnsureFreshToken(ctx context.Context) string
	RefreshUserProfile(ctx context.Context)
	UpdatePushToken(ctx context.Context, token string)
}

type SessionHandler struct {
	session SessionService
	logger  *zap.Logger
}

func NewSessionHandler(sess SessionService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		session: sess,
		logger:  logger,
	}
}

// ToResponse flattens a session state for the API.
func ToResponse(st sessionsvc.State) auth.SessionResponse {
	return auth.SessionResponse{
		Phase:       st.Phase.String(),
		User:        st.User,
		Loading:     st.Loading,
		Initialized: st.Initialized,
		IsOffline:   st.IsOffline(),
		IsReadOnly:  st.IsReadOnly(),
	}
}

// ========== Session ==========

// GetSession returns the current session snapshot
func (h *SessionHandler) GetSession(c *gin.Context) {
	response.Success(c, http.StatusOK, "session retrieved", ToResponse(h.session.State()))
}

// SignIn handles password sign-in
func (h *SessionHandler) SignIn(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result := h.session.SignIn(c.Request.Context(), req.Email, req.Password)
	if !result.Success {
		status := http.StatusBadGateway
		switch result.Error {
		case sessionsvc.MsgInvalidCredentials:
			status = http.StatusUnauthorized
		case sessionsvc.MsgProfileNotFound:
			status = http.StatusForbidden
		}
		response.Error(c, status, result.Error, nil, result)
		return
	}

	h.logger.Info("user signed in", zap.String("user_id", result.User.UserID))
	response.Success(c, http.StatusOK, "sign in successful", result)
}

// SignOut always succeeds; the local session is cleared either way.
func (h *SessionHandler) SignOut(c *gin.Context) {
	h.session.SignOut(c.Request.Context())
	response.Success(c, http.StatusOK, "signed out", ToResponse(h.session.State()))
}

// Refresh asks the provider for a new access token
func (h *SessionHandler) Refresh(c *gin.Context) {
	refreshed := h.session.RefreshSession(c.Request.Context())
	response.Success(c, http.StatusOK, "refresh attempted", gin.H{
		"refreshed": refreshed,
		"session":   ToResponse(h.session.State()),
	})
}

// Token returns a bearer token, refreshed first when close to expiry
func (h *SessionHandler) Token(c *gin.Context) {
	ctx := c.Request.Context()
	token := h.session.EnsureFreshToken(ctx)
	if token == "" {
		response.NotFound(c, "no access token stored")
		return
	}

	resp := auth.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		Valid:       h.session.IsSessionValid(ctx),
	}
	if exp, err := jwt.ExpiresAt(token); err == nil {
		resp.ExpiresAt = &exp
	}
	response.Success(c, http.StatusOK, "token retrieved", resp)
}

// ========== Profile ==========

// RefreshProfile re-resolves the signed-in user's profile
func (h *SessionHandler) RefreshProfile(c *gin.Context) {
	h.session.RefreshUserProfile(c.Request.Context())
	response.Success(c, http.StatusOK, "profile refreshed", ToResponse(h.session.State()))
}

// UpdatePushToken stores the device push token on the profile
func (h *SessionHandler) UpdatePushToken(c *gin.Context) {
	var req auth.PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	u := middleware.MustGetUser(c)
	h.session.UpdatePushToken(c.Request.Context(), req.Token)

	current := h.session.State().User
	if current == nil || current.PushToken != req.Token {
		h.logger.Warn("push token not stored", zap.String("user_id", u.UserID))
		response.Error(c, http.StatusBadGateway, "push token not stored", nil)
		return
	}
	response.Success(c, http.StatusOK, "push token updated", current)
}
