package secrets

import "fmt"

// DecryptionError indicates that opening an EncryptedValue failed,
// either because the DEK could not be unwrapped or because the
// ciphertext failed its integrity check. The two cases are not
// distinguished to the caller; both fail closed with no plaintext.
//
// A DecryptionError on a stored value is a security signal: it means
// the ciphertext, its envelope, or the key hierarchy has been
// tampered with or misconfigured.
type DecryptionError struct {
	KeyID string
	Cause error
}

// Error implements the error interface.
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed for %q: %v", e.KeyID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DecryptionError) Unwrap() error { return e.Cause }

// RotationError indicates a rotation step failed. The rotation record
// it belongs to transitions to RolledBack; the previous secret version
// remains the sole valid version.
type RotationError struct {
	SecretID string
	State    RotationState
	Cause    error
}

// Error implements the error interface.
func (e *RotationError) Error() string {
	return fmt.Sprintf("rotation of %q failed in state %s: %v", e.SecretID, e.State, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RotationError) Unwrap() error { return e.Cause }
