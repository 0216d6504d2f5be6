package session

import (
	"context"

	"condo-session/internal/domain/user"
)

// Accessor is the read-only view of the session for code outside the
// manager. It cannot change the session; it can only read it and ask for a
// usable token.
type Accessor struct {
	m *Manager
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (a *Accessor) CurrentUser() *user.User {
	return a.m.State().User
}

func (a *Accessor) State() State {
	return a.m.State()
}

func (a *Accessor) RequireWritable() error {
	return a.m.RequireWritable()
}

// AccessToken returns a bearer token for outbound calls, or "".
func (a *Accessor) AccessToken(ctx context.Context) string {
	return a.m.EnsureFreshToken(ctx)
}

func (a *Accessor) Subscribe(fn func(State)) func() {
	return a.m.Subscribe(fn)
}
