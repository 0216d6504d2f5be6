// internal/repository/postgres/profile_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"condo-session/internal/domain/user"
	xerrors "condo-session/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ========== REGULAR PROFILES ==========

// FindProfileByUserID returns the resident / doorstaff profile linked to an
// auth identity.
func (r *ProfileRepository) FindProfileByUserID(ctx context.Context, userID string) (*user.Profile, error) {
	query := `
		SELECT id, user_id, email, full_name, user_type, role,
		       building_id, push_token, last_seen
		FROM profiles
		WHERE user_id = $1
		LIMIT 1
	`

	var p user.Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.UserID, &p.Email, &p.FullName, &p.UserType, &p.Role,
		&p.BuildingID, &p.PushToken, &p.LastSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return &p, nil
}

func (r *ProfileRepository) TouchProfileLastSeen(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE profiles SET last_seen = $2 WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to update last_seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ========== ADMIN PROFILES ==========

// FindActiveAdminByUserID returns the admin profile linked to an auth
// identity. Inactive admins are treated as absent.
func (r *ProfileRepository) FindActiveAdminByUserID(ctx context.Context, userID string) (*user.AdminProfile, error) {
	query := `
		SELECT id, user_id, email, full_name, push_token, is_active, updated_at
		FROM admin_profiles
		WHERE user_id = $1 AND is_active = true
		LIMIT 1
	`

	var a user.AdminProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&a.ID, &a.UserID, &a.Email, &a.FullName, &a.PushToken, &a.IsActive, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin profile: %w", err)
	}
	return &a, nil
}

func (r *ProfileRepository) TouchAdmin(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE admin_profiles SET updated_at = $2 WHERE user_id = $1`

	if _, err := r.db.Exec(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to update admin profile: %w", err)
	}
	return nil
}

// ========== PUSH TOKENS ==========

// UpdatePushToken stores the device push token on whichever table holds the
// user.
func (r *ProfileRepository) UpdatePushToken(ctx context.Context, userID string, userType user.UserType, token string) error {
	table := "profiles"
	if userType == user.TypeAdmin {
		table = "admin_profiles"
	}
	query := fmt.Sprintf(`UPDATE %s SET push_token = $2 WHERE user_id = $1`, table)

	tag, err := r.db.Exec(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
