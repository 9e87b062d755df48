package kms

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyUnavailable indicates that the named KEK cannot be reached or
// does not exist. Callers must treat this as a dependency outage, not
// as proof that the key was never provisioned.
var ErrKeyUnavailable = errors.New("kms: key unavailable")

// KeyManager wraps and unwraps data-encryption keys under a named
// key-encryption key. Implementations must never expose KEK material.
type KeyManager interface {
	// Wrap encrypts a DEK under the KEK identified by kekID.
	// Returns ErrKeyUnavailable if the KEK cannot be reached.
	Wrap(ctx context.Context, dek []byte, kekID string) ([]byte, error)

	// Unwrap decrypts a wrapped DEK under the KEK identified by kekID.
	// The caller owns the returned buffer and is responsible for
	// zeroing it after use.
	Unwrap(ctx context.Context, wrapped []byte, kekID string) ([]byte, error)

	// Provider returns the provider name (local, aws_kms, gcp_kms, vault).
	Provider() string
}

// keyError decorates ErrKeyUnavailable with the KEK id so operators can
// tell which key is missing without leaking key material.
func keyError(kekID string) error {
	return fmt.Errorf("%w: kek %q", ErrKeyUnavailable, kekID)
}
