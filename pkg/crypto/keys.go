package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// GenerateKey returns a fresh random 32-byte key suitable for
// AES-256-GCM. The caller owns the buffer and must Zeroize it once the
// key is no longer needed.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return key, nil
}

// GenerateNonce returns a fresh random 96-bit nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	return nonce, nil
}

// DeriveKey derives a 32-byte subkey from a master secret using
// HKDF-SHA256. The info string separates key purposes: two derivations
// with different info values never produce related keys. The salt may
// be nil, in which case a zeroed salt is used per RFC 5869.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Zeroize overwrites b with zeros. It is a best-effort scrub of key
// material from process memory; callers should invoke it in a defer so
// that every exit path, including error paths, clears the buffer.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
