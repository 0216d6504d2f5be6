package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DefaultSealedEntryLimit mirrors the 2048-byte per-item ceiling of mobile
// keychain stores.
const DefaultSealedEntryLimit = 2048

// SealedKV encrypts values with XChaCha20-Poly1305 before handing them to the
// underlying KV. The key is bound to the entry name through the AEAD's
// additional data, so ciphertexts cannot be swapped between keys.
type SealedKV struct {
	inner        KV
	aead         cipher.AEAD
	maxEntrySize int
}

// NewSealedKV derives a 256-bit key from secret with HKDF-SHA256.
// maxEntrySize caps plaintext length per entry; zero uses DefaultSealedEntryLimit.
func NewSealedKV(inner KV, secret []byte, salt string, maxEntrySize int) (*SealedKV, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("sealed storage secret must be at least 16 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, []byte(salt), []byte("condo-session sealed kv v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	if maxEntrySize <= 0 {
		maxEntrySize = DefaultSealedEntryLimit
	}
	return &SealedKV{inner: inner, aead: aead, maxEntrySize: maxEntrySize}, nil
}

func (s *SealedKV) Get(ctx context.Context, key string) (string, error) {
	enc, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawStdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("sealed entry %q is not base64: %w", key, err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("sealed entry %q is truncated", key)
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("failed to open sealed entry %q: %w", key, err)
	}
	return string(plain), nil
}

func (s *SealedKV) Set(ctx context.Context, key, value string) error {
	if len(value) > s.maxEntrySize {
		return ErrValueTooLarge
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (s *SealedKV) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
