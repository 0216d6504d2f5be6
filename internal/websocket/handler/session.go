// internal/websocket/handler/session.go
package handlers

import (
	"context"

	wstypes "condo-session/internal/domain/websocket"
	ws "condo-session/internal/websocket"

	"go.uber.org/zap"
)

// SessionControl is the part of the session manager server events drive.
type SessionControl interface {
	SignOut(ctx context.Context)
	RefreshSession(ctx context.Context) bool
}

type SessionHandler struct {
	session SessionControl
	logger  *zap.Logger
}

func NewSessionHandler(sess SessionControl, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{session: sess, logger: logger}
}

func (h *SessionHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeForceLogout,
		wstypes.EventTypeSessionExpired,
	}
}

// HandleMessage signs out on a forced logout. On session:expired it tries a
// refresh first; the session manager signs out itself if the refresh token is
// also rejected.
func (h *SessionHandler) HandleMessage(ctx context.Context, _ ws.Sender, msg *wstypes.WSMessage) error {
	var data wstypes.SessionEventData
	_ = ws.DecodeData(msg.Data, &data)

	// Signing out drops the connection that carried this message, which
	// cancels ctx.
	ctx = context.WithoutCancel(ctx)

	switch msg.Type {
	case wstypes.EventTypeForceLogout:
		h.logger.Info("server forced logout", zap.String("reason", data.Reason))
		h.session.SignOut(ctx)
	case wstypes.EventTypeSessionExpired:
		if !h.session.RefreshSession(ctx) {
			h.logger.Warn("session refresh after server expiry notice failed", zap.String("reason", data.Reason))
		}
	}
	return nil
}
