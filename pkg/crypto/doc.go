// Package crypto provides the cryptographic primitives used by the
// configuration engine: AES-256-GCM authenticated encryption, secure
// random key and nonce generation, HKDF-based key derivation, and
// best-effort zeroization of key material.
//
// All sensitive configuration values are protected with envelope
// encryption built on these primitives: a fresh data-encryption key
// (DEK) encrypts the value, and the DEK itself is wrapped by a
// key-encryption key (KEK) managed by the kms package.
//
// Key material handling:
//
//   - DEKs are short-lived buffers that callers must zero with
//     Zeroize on every exit path, including error paths.
//   - Ciphertext carries the nonce and an algorithm tag so that
//     values encrypted under older parameters remain decryptable.
//   - An optional additional-authenticated-data (AAD) context binds
//     a ciphertext to its logical location (namespace/key/environment)
//     so that ciphertexts cannot be swapped between entries.
package crypto
