// Package identity defines the identity-provider contract the session
// manager drives, and an OAuth2 implementation of it.
package identity

import (
	"context"
	"sync"
	"time"
)

// EventType is an auth-state change emitted by the provider.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// User is the identity as the provider knows it, before any application
// profile is resolved.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a provider session.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	ExpiresAt    time.Time
	User         *User
}

// AuthEvent is delivered to OnAuthStateChange listeners.
type AuthEvent struct {
	Type    EventType
	Session *Session
}

// Provider is the identity-provider client.
type Provider interface {
	// GetSession returns the live session, or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	RefreshSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers a listener; the returned func removes it.
	OnAuthStateChange(fn func(AuthEvent)) func()
}

// RefreshTokenStore persists the provider refresh token across restarts.
type RefreshTokenStore interface {
	GetRefreshToken(ctx context.Context) string
	SaveRefreshToken(ctx context.Context, token string) error
	DeleteRefreshToken(ctx context.Context) error
}

// listeners fans events out to registered callbacks.
type listeners struct {
	mu     sync.Mutex
	fns    map[int]func(AuthEvent)
	nextID int
}

func (l *listeners) add(fn func(AuthEvent)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(AuthEvent))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(ev AuthEvent) {
	l.mu.Lock()
	fns := make([]func(AuthEvent), 0, len(l.fns))
	for id := 0; id < l.nextID; id++ {
		if fn, ok := l.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
