package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"condo-session/internal/domain/user"
	xerrors "condo-session/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch x := d.(type) {
		case *string:
			*x = r.values[i].(string)
		case *bool:
			*x = r.values[i].(bool)
		case sql.Scanner:
			if err := x.Scan(r.values[i]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	rows     map[string]fakeRow // keyed by table name
	affected int64
	execs    []execCall
}

func (f *fakeDB) QueryRow(_ context.Context, q string, _ ...any) pgx.Row {
	for table, row := range f.rows {
		if strings.Contains(q, "FROM "+table+"\n") {
			return row
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (f *fakeDB) Exec(_ context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: q, args: args})
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", f.affected)), nil
}

func TestFindProfileByUserID(t *testing.T) {
	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: map[string]fakeRow{
		"profiles": {values: []any{"p-1", "auth-1", "ana@condo.app", "Ana", nil, "porteiro", "b-9", nil, seen}},
	}}
	repo := NewProfileRepository(db)

	p, err := repo.FindProfileByUserID(context.Background(), "auth-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.ID != "p-1" || p.UserType.Valid || p.Role.String != "porteiro" || !p.LastSeen.Time.Equal(seen) {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.PushToken.Valid {
		t.Errorf("push token should be null")
	}
}

func TestFindProfileNotFound(t *testing.T) {
	repo := NewProfileRepository(&fakeDB{})

	if _, err := repo.FindProfileByUserID(context.Background(), "auth-1"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("profile: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.FindActiveAdminByUserID(context.Background(), "auth-1"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("admin: expected ErrNotFound, got %v", err)
	}
}

func TestFindProfileQueryError(t *testing.T) {
	boom := errors.New("connection reset")
	repo := NewProfileRepository(&fakeDB{rows: map[string]fakeRow{"profiles": {err: boom}}})

	_, err := repo.FindProfileByUserID(context.Background(), "auth-1")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped driver error, got %v", err)
	}
}

func TestFindActiveAdmin(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{
		"admin_profiles": {values: []any{"a-1", "auth-2", "sindico@condo.app", "Sindico", nil, true, nil}},
	}}
	a, err := NewProfileRepository(db).FindActiveAdminByUserID(context.Background(), "auth-2")
	if err != nil {
		t.Fatalf("find admin: %v", err)
	}
	if !a.IsActive || a.Email.String != "sindico@condo.app" || a.UpdatedAt.Valid {
		t.Errorf("unexpected admin: %+v", a)
	}
}

func TestUpdatePushTokenPicksTable(t *testing.T) {
	db := &fakeDB{affected: 1}
	repo := NewProfileRepository(db)

	if err := repo.UpdatePushToken(context.Background(), "auth-1", user.TypeMorador, "tok"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := repo.UpdatePushToken(context.Background(), "auth-2", user.TypeAdmin, "tok"); err != nil {
		t.Fatalf("update admin: %v", err)
	}
	if !strings.Contains(db.execs[0].sql, "UPDATE profiles") {
		t.Errorf("regular user should hit profiles: %s", db.execs[0].sql)
	}
	if !strings.Contains(db.execs[1].sql, "UPDATE admin_profiles") {
		t.Errorf("admin should hit admin_profiles: %s", db.execs[1].sql)
	}
}

func TestTouchProfileLastSeenMissingRow(t *testing.T) {
	repo := NewProfileRepository(&fakeDB{affected: 0})
	err := repo.TouchProfileLastSeen(context.Background(), "auth-1", time.Now())
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
