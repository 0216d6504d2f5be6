// internal/domain/auth/dto.go
package auth

import (
	"time"

	"condo-session/internal/domain/user"
)

// LoginRequest for user login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// PushTokenRequest registers a device push token on the profile.
type PushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// AppStateRequest reports a foreground/background transition.
type AppStateRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// NetworkStatusRequest is a raw connectivity sample. A nil reachability
// means the platform could not tell.
type NetworkStatusRequest struct {
	IsConnected         bool  `json:"is_connected"`
	IsInternetReachable *bool `json:"is_internet_reachable"`
}

// SessionResponse is the externally visible session snapshot.
type SessionResponse struct {
	Phase       string     `json:"phase"`
	User        *user.User `json:"user"`
	Loading     bool       `json:"loading"`
	Initialized bool       `json:"initialized"`
	IsOffline   bool       `json:"is_offline"`
	IsReadOnly  bool       `json:"is_read_only"`
}

// TokenResponse carries a bearer token for local callers.
type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Valid       bool       `json:"valid"`
}
