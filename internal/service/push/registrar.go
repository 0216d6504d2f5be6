// internal/service/push/registrar.go
package push

import (
	"context"
	"sync"

	"condo-session/internal/domain/user"
	"condo-session/internal/service/session"

	"go.uber.org/zap"
)

// TokenSource yields this device's push token.
type TokenSource interface {
	DeviceToken(ctx context.Context) (string, error)
}

// StaticTokenSource is a token fixed at startup.
type StaticTokenSource string

func (s StaticTokenSource) DeviceToken(context.Context) (string, error) {
	return string(s), nil
}

// Session is what the registrar needs from the session manager.
type Session interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
	UpdatePushToken(ctx context.Context, token string)
}

// Registrar keeps the signed-in user's profile pointing at this device's
// push token. It re-registers whenever a user appears online.
type Registrar struct {
	source  TokenSource
	session Session
	logger  *zap.Logger

	kick chan struct{}

	// send serializes Register so the sign-in hook and Run never write the
	// same token twice.
	send sync.Mutex

	mu         sync.Mutex
	registered string // user id the current token was sent for
}

func NewRegistrar(source TokenSource, sess Session, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{
		source:  source,
		session: sess,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Run watches the session until ctx ends.
func (r *Registrar) Run(ctx context.Context) {
	unsubscribe := r.session.Subscribe(func(st session.State) {
		if st.User == nil {
			r.forget()
			return
		}
		if st.IsOffline() {
			return
		}
		select {
		case r.kick <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	select {
	case r.kick <- struct{}{}:
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
			st := r.session.State()
			if st.User != nil && !st.IsOffline() {
				if err := r.Register(ctx, st.User); err != nil {
					r.logger.Warn("push registration failed", zap.String("user_id", st.User.UserID), zap.Error(err))
				}
			}
		}
	}
}

// Register sends the device token for u unless it was already sent.
func (r *Registrar) Register(ctx context.Context, u *user.User) error {
	if u == nil {
		return nil
	}
	token, err := r.source.DeviceToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	r.send.Lock()
	defer r.send.Unlock()

	if st := r.session.State(); st.User != nil && st.User.UserID == u.UserID {
		u = st.User
	}
	r.mu.Lock()
	done := r.registered == u.UserID && u.PushToken == token
	r.mu.Unlock()
	if done {
		return nil
	}

	r.session.UpdatePushToken(ctx, token)
	if st := r.session.State(); st.User != nil && st.User.PushToken == token {
		r.mu.Lock()
		r.registered = st.User.UserID
		r.mu.Unlock()
		r.logger.Info("push token registered",
			zap.String("user_id", st.User.UserID),
			zap.String("user_type", string(st.User.UserType)),
		)
	}
	return nil
}

func (r *Registrar) forget() {
	r.mu.Lock()
	r.registered = ""
	r.mu.Unlock()
}
