package secrets

import (
	"context"
	"fmt"
	"log/slog"

	"meridian-hq/vesta/pkg/crypto"
	"meridian-hq/vesta/pkg/kms"
)

// Manager performs envelope encryption of configuration values.
//
// Manager is safe for concurrent use. It holds no mutable state of its
// own; all key material lives either in the key manager (KEKs) or in
// short-lived DEK buffers that are zeroed before each call returns.
type Manager struct {
	keys   kms.KeyManager
	logger *slog.Logger
}

// NewManager creates a secrets manager backed by the given key manager.
func NewManager(keys kms.KeyManager) *Manager {
	return &Manager{
		keys:   keys,
		logger: slog.Default().With("component", "secrets.manager"),
	}
}

// Seal envelope-encrypts plaintext under the KEK named by kekID.
//
// A fresh DEK is generated per call, used to encrypt the plaintext,
// wrapped under the KEK, and zeroed before Seal returns on every path
// including error paths. The keyID is bound into the authentication
// tag as AAD.
func (m *Manager) Seal(ctx context.Context, plaintext []byte, keyID, kekID string) (EncryptedValue, error) {
	dek, err := crypto.GenerateKey()
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("seal %q: %w", keyID, err)
	}
	defer crypto.Zeroize(dek)

	nonce, ciphertext, err := crypto.Encrypt(dek, plaintext, keyID)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("seal %q: %w", keyID, err)
	}

	wrapped, err := m.keys.Wrap(ctx, dek, kekID)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("seal %q: %w", keyID, err)
	}

	m.logger.Debug("value sealed", "key_id", keyID, "kek_id", kekID)

	return EncryptedValue{
		Algorithm:  crypto.AlgorithmAES256GCM,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		KeyID:      keyID,
		Envelope: Envelope{
			EncryptedDEK: wrapped,
			KEKID:        kekID,
			Provider:     m.keys.Provider(),
		},
	}, nil
}

// Open decrypts an EncryptedValue produced by Seal. It fails closed:
// if the DEK cannot be unwrapped or the ciphertext fails its integrity
// check, Open returns a DecryptionError and never partial plaintext.
//
// The unwrapped DEK is zeroed before Open returns on every path.
func (m *Manager) Open(ctx context.Context, v EncryptedValue) ([]byte, error) {
	if v.Algorithm != crypto.AlgorithmAES256GCM {
		return nil, &DecryptionError{KeyID: v.KeyID, Cause: fmt.Errorf("unsupported algorithm %q", v.Algorithm)}
	}

	dek, err := m.keys.Unwrap(ctx, v.Envelope.EncryptedDEK, v.Envelope.KEKID)
	if err != nil {
		m.logger.Warn("dek unwrap failed", "key_id", v.KeyID, "kek_id", v.Envelope.KEKID, "error", err)
		return nil, &DecryptionError{KeyID: v.KeyID, Cause: err}
	}
	defer crypto.Zeroize(dek)

	plaintext, err := crypto.Decrypt(dek, v.Nonce, v.Ciphertext, v.KeyID)
	if err != nil {
		m.logger.Warn("value integrity check failed", "key_id", v.KeyID)
		return nil, &DecryptionError{KeyID: v.KeyID, Cause: err}
	}
	return plaintext, nil
}
