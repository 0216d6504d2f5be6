// internal/pkg/jwt/decode.go
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("token carries no exp claim")

var parser = jwt.NewParser()

// Decode reads the token payload without verifying the signature.
func Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// ExpiresAt returns the instant carried in the exp claim.
func ExpiresAt(token string) (time.Time, error) {
	claims, err := Decode(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// IsTokenValid reports whether the token's exp claim lies after now. It never
// fails: any decoding problem means the token is not valid.
func IsTokenValid(token string, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return false
	}
	return exp.After(now)
}

// TimeUntilExpiry returns how long the token has left. Undecodable tokens
// report zero.
func TimeUntilExpiry(token string, now time.Time) time.Duration {
	exp, err := ExpiresAt(token)
	if err != nil {
		return 0
	}
	return exp.Sub(now)
}
