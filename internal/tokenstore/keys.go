package tokenstore

import "fmt"

// Durable key layout.
const (
	keyToken         = "auth_token"
	keyTokenExpiry   = "auth_token_expiry"
	keyRefreshToken  = "auth_refresh_token"
	keyUserData      = "user_data"
	keyLastAuth      = "last_auth_timestamp"
	keyMigrationDone = "token_migration_v2"
)

// ChunkSize is the largest value written as a single entry. Longer values
// are split so each piece fits the secure tier's per-entry ceiling.
const ChunkSize = 1800

func chunkCountKey(key string) string {
	return key + "_chunks"
}

func chunkKey(key string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", key, i)
}
