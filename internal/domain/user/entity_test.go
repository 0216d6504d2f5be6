package user

import (
	"testing"
	"time"
)

func TestUserEqual(t *testing.T) {
	seen := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	a := &User{ID: "p1", UserID: "a1", Email: "a@b.com", UserType: TypeMorador, LastSeen: &seen}
	b := a.Clone()

	if !a.Equal(b) {
		t.Fatal("clone should be equal")
	}
	later := seen.Add(time.Minute)
	b.LastSeen = &later
	if a.Equal(b) {
		t.Fatal("different last_seen should not be equal")
	}
	var nilUser *User
	if !nilUser.Equal(nil) {
		t.Fatal("nil users should be equal")
	}
	if a.Equal(nil) {
		t.Fatal("user should not equal nil")
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"morador", "porteiro", "admin"} {
		if _, ok := ParseType(s); !ok {
			t.Errorf("ParseType(%q) rejected a known type", s)
		}
	}
	if _, ok := ParseType("sindico"); ok {
		t.Error("ParseType accepted an unknown type")
	}
}
