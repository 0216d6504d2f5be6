package session

import (
	"context"

	"condo-session/internal/domain/user"

	"go.uber.org/zap"
)

// LogNotifier is the default SessionExpiredNotifier. It records the prompt
// in the log; UIs supply their own.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) NotifySessionExpired(_ context.Context, u *user.User) {
	if n.Logger == nil {
		return
	}
	fields := []zap.Field{}
	if u != nil {
		fields = append(fields, zap.String("user_id", u.UserID))
	}
	n.Logger.Warn("session expired, please log in again", fields...)
}
