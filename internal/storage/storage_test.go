package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileKVPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	kv, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("OpenFileKV: %v", err)
	}
	if err := kv.Set(ctx, "user_data", `{"id":"u1"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "gone", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reopened, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, err := reopened.Get(ctx, "user_data")
	if err != nil || v != `{"id":"u1"}` {
		t.Fatalf("Get after reopen = %q, %v", v, err)
	}
	if _, err := reopened.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted key, got %v", err)
	}
	if err := reopened.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("Delete of absent key: %v", err)
	}
}

func TestSealedKVRoundTripAndCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryKV()
	sealed, err := NewSealedKV(inner, []byte("0123456789abcdef-device"), "device-1", 0)
	if err != nil {
		t.Fatalf("NewSealedKV: %v", err)
	}

	if err := sealed.Set(ctx, "auth_token", "secret-bearer"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, _ := inner.Get(ctx, "auth_token")
	if strings.Contains(raw, "secret-bearer") {
		t.Fatal("plaintext leaked into inner store")
	}
	got, err := sealed.Get(ctx, "auth_token")
	if err != nil || got != "secret-bearer" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	// A ciphertext moved to another key must not open.
	_ = inner.Set(ctx, "other", raw)
	if _, err := sealed.Get(ctx, "other"); err == nil {
		t.Fatal("expected error opening ciphertext under a different key")
	}
}

func TestSealedKVEntryLimit(t *testing.T) {
	sealed, err := NewSealedKV(NewMemoryKV(), []byte("0123456789abcdef"), "", 8)
	if err != nil {
		t.Fatalf("NewSealedKV: %v", err)
	}
	if err := sealed.Set(context.Background(), "k", "123456789"); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
	if _, err := NewSealedKV(NewMemoryKV(), []byte("short"), "", 0); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestMemoryKVLimitAndWrites(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.MaxValueSize = 4
	if err := kv.Set(ctx, "a", "12345"); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
	if err := kv.Set(ctx, "a", "1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if kv.Writes() != 1 {
		t.Fatalf("Writes = %d, want 1", kv.Writes())
	}
}
