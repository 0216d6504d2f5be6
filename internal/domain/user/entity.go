// internal/domain/user/entity.go
package user

import (
	"database/sql"
	"time"
)

// UserType discriminates the two profile shapes.
type UserType string

const (
	TypeMorador  UserType = "morador"
	TypePorteiro UserType = "porteiro"
	TypeAdmin    UserType = "admin"
)

// DefaultType is the least-privileged role, used when a profile row carries
// neither user_type nor a recognised legacy role.
const DefaultType = TypeMorador

// ParseType maps a stored value onto a known type.
func ParseType(s string) (UserType, bool) {
	switch UserType(s) {
	case TypeMorador, TypePorteiro, TypeAdmin:
		return UserType(s), true
	}
	return "", false
}

// User is the unified application user exposed by the session.
type User struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name,omitempty"`
	UserType   UserType   `json:"user_type"`
	BuildingID string     `json:"building_id,omitempty"`
	PushToken  string     `json:"push_token,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// IsAdmin reports whether the user came from the admin table.
func (u *User) IsAdmin() bool {
	return u != nil && u.UserType == TypeAdmin
}

// Equal reports structural equality. Two nil users are equal.
func (u *User) Equal(o *User) bool {
	if u == nil || o == nil {
		return u == o
	}
	if u.ID != o.ID || u.UserID != o.UserID || u.Email != o.Email || u.FullName != o.FullName ||
		u.UserType != o.UserType || u.BuildingID != o.BuildingID || u.PushToken != o.PushToken {
		return false
	}
	if u.LastSeen == nil || o.LastSeen == nil {
		return u.LastSeen == o.LastSeen
	}
	return u.LastSeen.Equal(*o.LastSeen)
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastSeen != nil {
		t := *u.LastSeen
		c.LastSeen = &t
	}
	return &c
}

// Profile is a row of the regular (resident / doorstaff) profile table.
type Profile struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	Email      sql.NullString `db:"email"`
	FullName   sql.NullString `db:"full_name"`
	UserType   sql.NullString `db:"user_type"`
	Role       sql.NullString `db:"role"` // legacy column
	BuildingID sql.NullString `db:"building_id"`
	PushToken  sql.NullString `db:"push_token"`
	LastSeen   sql.NullTime   `db:"last_seen"`
}

// AdminProfile is a row of the admin profile table.
type AdminProfile struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Email     sql.NullString `db:"email"`
	FullName  sql.NullString `db:"full_name"`
	PushToken sql.NullString `db:"push_token"`
	IsActive  bool           `db:"is_active"`
	UpdatedAt sql.NullTime   `db:"updated_at"`
}
