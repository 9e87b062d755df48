package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Algorithm identifies an AEAD algorithm used to protect a value.
type Algorithm string

const (
	// AlgorithmAES256GCM is AES-256 in Galois/Counter Mode.
	AlgorithmAES256GCM Algorithm = "aes-256-gcm"
)

const (
	// KeySize is the size of an AES-256 key in bytes.
	KeySize = 32

	// NonceSize is the size of an AES-GCM nonce in bytes (96 bits).
	NonceSize = 12

	// TagSize is the size of the GCM authentication tag in bytes.
	TagSize = 16
)

// EncryptError indicates that sealing a plaintext failed.
type EncryptError struct {
	Cause error
}

// Error implements the error interface.
func (e *EncryptError) Error() string {
	return fmt.Sprintf("encryption failed: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *EncryptError) Unwrap() error { return e.Cause }

// DecryptError indicates that opening a ciphertext failed. This covers
// both malformed inputs and authentication-tag mismatches; callers must
// treat the two identically and never act on partial plaintext.
type DecryptError struct {
	Cause error
}

// Error implements the error interface.
func (e *DecryptError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DecryptError) Unwrap() error { return e.Cause }

// Encrypt seals plaintext under key with AES-256-GCM using a freshly
// generated nonce. The aad context, if non-empty, is bound into the
// authentication tag and must be presented unchanged to Decrypt.
//
// The returned nonce and ciphertext (which includes the trailing
// authentication tag) must both be stored.
func Encrypt(key, plaintext []byte, aad string) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, &EncryptError{Cause: err}
	}

	nonce, err = GenerateNonce()
	if err != nil {
		return nil, nil, &EncryptError{Cause: err}
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, []byte(aad))
	return nonce, ciphertext, nil
}

// Decrypt opens a ciphertext produced by Encrypt. It fails closed: any
// tampering with the ciphertext, nonce, or aad context yields a
// DecryptError and no plaintext.
func Decrypt(key, nonce, ciphertext []byte, aad string) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, &DecryptError{Cause: fmt.Errorf("invalid nonce length %d, want %d", len(nonce), NonceSize)}
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, &DecryptError{Cause: err}
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(aad))
	if err != nil {
		return nil, &DecryptError{Cause: err}
	}
	return plaintext, nil
}

// newAEAD builds an AES-256-GCM AEAD from a 32-byte key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d, want %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
