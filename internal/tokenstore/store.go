// Package tokenstore persists the bearer token, the refresh token and the
// last resolved user snapshot across process restarts.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"condo-session/internal/domain/user"
	"condo-session/internal/pkg/clock"
	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/pkg/jwt"
	"condo-session/internal/storage"

	"go.uber.org/zap"
)

// DefaultSaveDebounce collapses repeated saves of the same token.
const DefaultSaveDebounce = time.Second

// Store writes to the secure tier and falls back to the plain tier when a
// secure write fails.
type Store struct {
	secure   storage.KV
	fallback storage.KV
	clock    clock.Clock
	logger   *zap.Logger
	debounce time.Duration

	mu          sync.Mutex
	lastToken   string
	lastTokenAt time.Time
	migrated    bool
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithSaveDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

func New(secure, fallback storage.KV, opts ...Option) *Store {
	s := &Store{
		secure:   secure,
		fallback: fallback,
		debounce: DefaultSaveDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// IsTokenValid decodes the token's exp claim and compares it with the
// current time. It never fails.
func IsTokenValid(token string) bool {
	return jwt.IsTokenValid(token, time.Now())
}

// ========== Bearer token ==========

// SaveToken persists token. Saving the value that was just saved within the
// debounce window is a no-op. A positive expiresIn records the expiry.
func (s *Store) SaveToken(ctx context.Context, token string, expiresIn time.Duration) error {
	if token == "" {
		return fmt.Errorf("save token: %w", xerrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if token == s.lastToken && now.Sub(s.lastTokenAt) < s.debounce {
		return nil
	}
	if err := s.saveSecurely(ctx, keyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.lastToken = token
	s.lastTokenAt = now

	if expiresIn > 0 {
		expiry := strconv.FormatInt(now.Add(expiresIn).UnixMilli(), 10)
		if err := s.saveSecurely(ctx, keyTokenExpiry, expiry); err != nil {
			s.logger.Warn("failed to persist token expiry", zap.Error(err))
		}
	}
	return nil
}

// GetToken returns the stored token or "" when none is readable.
func (s *Store) GetToken(ctx context.Context) string {
	s.migrateLegacy(ctx)
	token, err := s.getSecurely(ctx, keyToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read token", zap.Error(err))
		}
		return ""
	}
	return token
}

// TokenExpiry returns the expiry recorded at save time.
func (s *Store) TokenExpiry(ctx context.Context) (time.Time, bool) {
	return s.readMillis(ctx, keyTokenExpiry)
}

// ========== Refresh token ==========

func (s *Store) SaveRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return s.DeleteRefreshToken(ctx)
	}
	return s.saveSecurely(ctx, keyRefreshToken, token)
}

func (s *Store) GetRefreshToken(ctx context.Context) string {
	token, err := s.getSecurely(ctx, keyRefreshToken)
	if err != nil {
		return ""
	}
	return token
}

func (s *Store) DeleteRefreshToken(ctx context.Context) error {
	return s.deleteEverywhere(ctx, keyRefreshToken)
}

// ========== Last authentication ==========

// TouchLastAuth records that the session was confirmed live at the current time.
func (s *Store) TouchLastAuth(ctx context.Context) error {
	now := s.clock.Now()
	return s.saveSecurely(ctx, keyLastAuth, strconv.FormatInt(now.UnixMilli(), 10))
}

// LastAuth returns the last confirmed-live instant, or the zero time.
func (s *Store) LastAuth(ctx context.Context) time.Time {
	t, _ := s.readMillis(ctx, keyLastAuth)
	return t
}

// ========== User snapshot ==========

func (s *Store) SaveUserData(ctx context.Context, u *user.User) error {
	if u == nil || u.ID == "" || u.Email == "" {
		return fmt.Errorf("save user data: %w", xerrors.ErrInvalidInput)
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user data: %w", err)
	}
	return s.saveSecurely(ctx, keyUserData, string(raw))
}

// GetUserData returns the cached snapshot. A payload that does not decode or
// lacks id/email wipes every durable key and yields nil.
func (s *Store) GetUserData(ctx context.Context) *user.User {
	raw, err := s.getSecurely(ctx, keyUserData)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read user data", zap.Error(err))
		}
		return nil
	}

	var u user.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.ID == "" || u.Email == "" {
		s.logger.Error("corrupted user data in storage, wiping credentials",
			zap.Bool("parse_error", err != nil),
		)
		if cerr := s.ClearAll(ctx); cerr != nil {
			s.logger.Error("failed to wipe corrupted storage", zap.Error(cerr))
		}
		return nil
	}
	return &u
}

// UpdateUserData merges patch into the stored snapshot.
func (s *Store) UpdateUserData(ctx context.Context, patch map[string]interface{}) (*user.User, error) {
	raw, err := s.getSecurely(ctx, keyUserData)
	if err != nil {
		return nil, fmt.Errorf("update user data: %w", err)
	}
	current := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return nil, fmt.Errorf("update user data: stored snapshot unreadable: %w", err)
	}
	for k, v := range patch {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged user data: %w", err)
	}
	var u user.User
	if err := json.Unmarshal(merged, &u); err != nil {
		return nil, fmt.Errorf("merged user data invalid: %w", err)
	}
	if err := s.SaveUserData(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ========== Clearing ==========

// ClearToken removes the bearer token, its expiry and the refresh token.
func (s *Store) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	s.lastToken = ""
	s.lastTokenAt = time.Time{}
	s.mu.Unlock()

	return errors.Join(
		s.deleteEverywhere(ctx, keyToken),
		s.deleteEverywhere(ctx, keyTokenExpiry),
		s.deleteEverywhere(ctx, keyRefreshToken),
	)
}

// ClearAll removes every durable key this store owns.
func (s *Store) ClearAll(ctx context.Context) error {
	err := errors.Join(
		s.ClearToken(ctx),
		s.deleteEverywhere(ctx, keyUserData),
		s.deleteEverywhere(ctx, keyLastAuth),
		s.deleteEverywhere(ctx, keyMigrationDone),
	)
	s.mu.Lock()
	s.migrated = false
	s.mu.Unlock()
	return err
}

// ========== Tiers ==========

// saveSecurely writes to the secure tier, falling back to the plain tier.
// The tier that did not receive the write is cleared so reads never see a
// stale copy.
func (s *Store) saveSecurely(ctx context.Context, key, value string) error {
	err := writeValue(ctx, s.secure, key, value)
	if err == nil {
		_ = deleteValue(ctx, s.fallback, key)
		return nil
	}
	s.logger.Warn("secure storage write failed, using fallback tier",
		zap.String("key", key),
		zap.Error(err),
	)
	if ferr := writeValue(ctx, s.fallback, key, value); ferr != nil {
		return errors.Join(err, ferr)
	}
	_ = deleteValue(ctx, s.secure, key)
	return nil
}

func (s *Store) getSecurely(ctx context.Context, key string) (string, error) {
	v, err := readValue(ctx, s.secure, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("secure storage read failed", zap.String("key", key), zap.Error(err))
	}
	v, ferr := readValue(ctx, s.fallback, key)
	if ferr == nil {
		return v, nil
	}
	if errors.Is(ferr, storage.ErrNotFound) && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	return "", ferr
}

func (s *Store) deleteEverywhere(ctx context.Context, key string) error {
	return errors.Join(deleteValue(ctx, s.secure, key), deleteValue(ctx, s.fallback, key))
}

func (s *Store) readMillis(ctx context.Context, key string) (time.Time, bool) {
	raw, err := s.getSecurely(ctx, key)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
