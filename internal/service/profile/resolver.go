// internal/service/profile/resolver.go
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"condo-session/internal/domain/user"
	"condo-session/internal/pkg/clock"
	xerrors "condo-session/internal/pkg/errors"

	"go.uber.org/zap"
)

const (
	DefaultCooldown         = time.Second
	DefaultLastSeenInterval = 5 * time.Minute
)

// ErrResolveInProgress is returned to a caller that overlaps an in-flight or
// just-started resolution of the same identity.
var ErrResolveInProgress = errors.New("profile resolution already in progress")

// Repository is the backing store for the two profile tables.
type Repository interface {
	FindProfileByUserID(ctx context.Context, userID string) (*user.Profile, error)
	TouchProfileLastSeen(ctx context.Context, userID string, at time.Time) error
	FindActiveAdminByUserID(ctx context.Context, userID string) (*user.AdminProfile, error)
	TouchAdmin(ctx context.Context, userID string, at time.Time) error
}

// Snapshotter persists the resolved user for optimistic paint on next start.
type Snapshotter interface {
	SaveUserData(ctx context.Context, u *user.User) error
}

type Resolver struct {
	repo             Repository
	snapshots        Snapshotter
	clock            clock.Clock
	logger           *zap.Logger
	cooldown         time.Duration
	lastSeenInterval time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
	started  map[string]time.Time
}

type Option func(*Resolver)

func WithClock(c clock.Clock) Option { return func(r *Resolver) { r.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.logger = l } }

func WithCooldown(d time.Duration) Option { return func(r *Resolver) { r.cooldown = d } }

func WithLastSeenInterval(d time.Duration) Option {
	return func(r *Resolver) { r.lastSeenInterval = d }
}

func NewResolver(repo Repository, snapshots Snapshotter, opts ...Option) *Resolver {
	r := &Resolver{
		repo:             repo,
		snapshots:        snapshots,
		cooldown:         DefaultCooldown,
		lastSeenInterval: DefaultLastSeenInterval,
		inFlight:         make(map[string]bool),
		started:          make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = clock.OrReal(r.clock)
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Resolve loads the application user for an auth identity. The regular
// profile table wins; the admin table is only consulted when no regular row
// exists. It returns (nil, nil) when neither table has an active record.
//
// Expired-credential errors from the store are returned unchanged so the
// caller can classify them.
func (r *Resolver) Resolve(ctx context.Context, authID, email string) (*user.User, error) {
	if authID == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if !r.acquire(authID) {
		r.logger.Debug("profile resolution skipped, already in progress", zap.String("user_id", authID))
		return nil, ErrResolveInProgress
	}
	defer r.release(authID)

	u, err := r.resolveRegular(ctx, authID, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u, err = r.resolveAdmin(ctx, authID, email)
		if err != nil {
			return nil, err
		}
	}
	if u == nil {
		r.logger.Info("no application profile for identity", zap.String("user_id", authID))
		return nil, nil
	}

	if r.snapshots != nil {
		if err := r.snapshots.SaveUserData(ctx, u); err != nil {
			r.logger.Warn("failed to persist user snapshot", zap.String("user_id", authID), zap.Error(err))
		}
	}
	return u, nil
}

func (r *Resolver) resolveRegular(ctx context.Context, authID, email string) (*user.User, error) {
	p, err := r.repo.FindProfileByUserID(ctx, authID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	u := &user.User{
		ID:         p.ID,
		UserID:     p.UserID,
		Email:      p.Email.String,
		FullName:   p.FullName.String,
		UserType:   NormalizeType(p),
		BuildingID: p.BuildingID.String,
		PushToken:  p.PushToken.String,
	}
	if u.Email == "" {
		u.Email = email
	}
	if p.LastSeen.Valid {
		seen := p.LastSeen.Time
		u.LastSeen = &seen
	}

	now := r.clock.Now()
	if u.LastSeen == nil || now.Sub(*u.LastSeen) > r.lastSeenInterval {
		if err := r.repo.TouchProfileLastSeen(ctx, authID, now); err != nil {
			if xerrors.IsExpiredCredential(err) {
				return nil, err
			}
			r.logger.Warn("failed to update last_seen", zap.String("user_id", authID), zap.Error(err))
		} else {
			u.LastSeen = &now
		}
	}
	return u, nil
}

func (r *Resolver) resolveAdmin(ctx context.Context, authID, email string) (*user.User, error) {
	a, err := r.repo.FindActiveAdminByUserID(ctx, authID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load admin profile: %w", err)
	}
	if !a.IsActive {
		return nil, nil
	}

	if err := r.repo.TouchAdmin(ctx, authID, r.clock.Now()); err != nil {
		if xerrors.IsExpiredCredential(err) {
			return nil, err
		}
		r.logger.Warn("failed to touch admin profile", zap.String("user_id", authID), zap.Error(err))
	}

	u := &user.User{
		ID:        a.ID,
		UserID:    a.UserID,
		Email:     a.Email.String,
		FullName:  a.FullName.String,
		UserType:  user.TypeAdmin,
		PushToken: a.PushToken.String,
	}
	if u.Email == "" {
		u.Email = email
	}
	return u, nil
}

// NormalizeType picks the canonical user_type, falls back to the legacy role
// column, and defaults to the least-privileged type. A regular profile never
// resolves to admin.
func NormalizeType(p *user.Profile) user.UserType {
	for _, col := range []struct {
		valid bool
		value string
	}{
		{p.UserType.Valid, p.UserType.String},
		{p.Role.Valid, p.Role.String},
	} {
		if !col.valid {
			continue
		}
		if t, ok := user.ParseType(col.value); ok && t != user.TypeAdmin {
			return t
		}
	}
	return user.DefaultType
}

func (r *Resolver) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if r.inFlight[id] {
		return false
	}
	if last, ok := r.started[id]; ok && now.Sub(last) < r.cooldown {
		return false
	}
	r.inFlight[id] = true
	r.started[id] = now
	return true
}

func (r *Resolver) release(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}
