package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"condo-session/internal/storage"
)

// writeValue stores value under key, chunking when it exceeds ChunkSize.
// The chunk-count marker is the switch readers look at, so it is written
// after the chunks and removed after a plain value lands.
func writeValue(ctx context.Context, kv storage.KV, key, value string) error {
	prev := storedChunkCount(ctx, kv, key)

	if len(value) <= ChunkSize {
		if err := kv.Set(ctx, key, value); err != nil {
			return err
		}
		if prev > 0 {
			_ = kv.Delete(ctx, chunkCountKey(key))
			deleteChunks(ctx, kv, key, 0, prev)
		}
		return nil
	}

	chunks := splitChunks(value)
	n := len(chunks)
	for i, part := range chunks {
		if err := kv.Set(ctx, chunkKey(key, i), part); err != nil {
			return fmt.Errorf("write chunk %d of %s: %w", i, key, err)
		}
	}
	if err := kv.Set(ctx, chunkCountKey(key), strconv.Itoa(n)); err != nil {
		return fmt.Errorf("write chunk marker for %s: %w", key, err)
	}
	_ = kv.Delete(ctx, key)
	if prev > n {
		deleteChunks(ctx, kv, key, n, prev)
	}
	return nil
}

// splitChunks cuts value into pieces of at most ChunkSize bytes. Cuts land on
// rune boundaries so every piece is valid UTF-8 on its own.
func splitChunks(value string) []string {
	var chunks []string
	for len(value) > ChunkSize {
		cut := ChunkSize
		for cut > ChunkSize-utf8.UTFMax && !utf8.RuneStart(value[cut]) {
			cut--
		}
		if !utf8.RuneStart(value[cut]) {
			cut = ChunkSize
		}
		chunks = append(chunks, value[:cut])
		value = value[cut:]
	}
	return append(chunks, value)
}

// readValue reverses writeValue. A missing marker means the value was
// stored unchunked.
func readValue(ctx context.Context, kv storage.KV, key string) (string, error) {
	marker, err := kv.Get(ctx, chunkCountKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return kv.Get(ctx, key)
	}
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(marker)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("corrupt chunk marker for %s: %q", key, marker)
	}
	buf := make([]byte, 0, n*ChunkSize)
	for i := 0; i < n; i++ {
		part, err := kv.Get(ctx, chunkKey(key, i))
		if err != nil {
			return "", fmt.Errorf("read chunk %d of %s: %w", i, key, err)
		}
		buf = append(buf, part...)
	}
	return string(buf), nil
}

// deleteValue removes both the plain and chunked representations.
func deleteValue(ctx context.Context, kv storage.KV, key string) error {
	n := storedChunkCount(ctx, kv, key)
	err := kv.Delete(ctx, key)
	deleteChunks(ctx, kv, key, 0, n)
	if derr := kv.Delete(ctx, chunkCountKey(key)); err == nil {
		err = derr
	}
	return err
}

func storedChunkCount(ctx context.Context, kv storage.KV, key string) int {
	marker, err := kv.Get(ctx, chunkCountKey(key))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(marker)
	if err != nil {
		return 0
	}
	return n
}

func deleteChunks(ctx context.Context, kv storage.KV, key string, from, to int) {
	for i := from; i < to; i++ {
		_ = kv.Delete(ctx, chunkKey(key, i))
	}
}
