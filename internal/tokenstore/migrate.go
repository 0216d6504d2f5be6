package tokenstore

import (
	"context"
	"errors"

	"condo-session/internal/storage"

	"go.uber.org/zap"
)

// migrateLegacy moves a token written by older builds into the plain tier
// over to the secure tier. It runs once per process unless ClearAll resets it.
func (s *Store) migrateLegacy(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated {
		return
	}

	if _, err := s.secure.Get(ctx, keyMigrationDone); err == nil {
		s.migrated = true
		return
	}

	legacy, err := readValue(ctx, s.fallback, keyToken)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.logger.Warn("failed to read legacy token", zap.Error(err))
		return
	default:
		if werr := writeValue(ctx, s.secure, keyToken, legacy); werr != nil {
			// Leave it in the plain tier; reads still find it there.
			s.logger.Warn("legacy token migration failed", zap.Error(werr))
			return
		}
		if derr := deleteValue(ctx, s.fallback, keyToken); derr != nil {
			s.logger.Warn("failed to remove legacy token", zap.Error(derr))
		}
		s.logger.Info("migrated legacy token to secure storage")
	}

	if err := s.secure.Set(ctx, keyMigrationDone, "1"); err != nil {
		s.logger.Warn("failed to record token migration", zap.Error(err))
		return
	}
	s.migrated = true
}
