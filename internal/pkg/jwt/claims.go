// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the identity provider's access-token payload the
// client reads. Signatures are never checked on the device; the backend does that.
type Claims struct {
	Email        string                 `json:"email,omitempty"`
	Role         string                 `json:"role,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the auth-identity id carried in the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}
