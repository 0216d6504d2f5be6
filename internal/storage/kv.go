// Package storage provides the key/value tiers the session agent persists
// credentials, snapshots and queued actions into.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrValueTooLarge = errors.New("storage: value exceeds entry size limit")
)

// KV is a string key/value store. Get returns ErrNotFound for absent keys;
// Delete of an absent key is not an error.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
