// Package secrets converts between plaintext configuration values and
// their encrypted-at-rest representation, and manages the secret
// rotation lifecycle.
//
// Values are protected with envelope encryption: Seal generates a
// fresh data-encryption key (DEK) per call, encrypts the plaintext
// with AES-256-GCM, wraps the DEK under a named key-encryption key
// (KEK) held by a kms.KeyManager, and returns the ciphertext together
// with the wrapped DEK. Open reverses the process and fails closed on
// any integrity or key-unwrap failure.
//
// Rotation is modelled as an explicit persisted state machine
// (Scheduled -> Generating -> DualValid -> Verifying -> Retiring ->
// Rotated, with RolledBack as the failure terminal) so that a crash
// mid-rotation resumes deterministically rather than depending on
// in-memory goroutine state. At most one rotation is in flight per
// secret at a time.
package secrets
