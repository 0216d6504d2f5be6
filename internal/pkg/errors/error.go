package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Common reusable application errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrSessionExpired     = errors.New("session expired or invalid")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrReadOnly           = errors.New("session is read-only")
	ErrOffline            = errors.New("device is offline")
	ErrNoSession          = errors.New("no active session")
)

// expiredSignatures are lowercase fragments that identify an expired bearer
// token surfaced by the identity provider or the data API.
var expiredSignatures = []string{
	"jwt expired",
	"token is expired",
	"token has expired",
	"invalid refresh token",
	"refresh token not found",
	"pgrst301",
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsExpiredCredential reports whether err means the stored credential is no
// longer accepted and the user has to sign in again.
func IsExpiredCredential(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) && strings.EqualFold(coded.SQLState(), "PGRST301") {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range expiredSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
