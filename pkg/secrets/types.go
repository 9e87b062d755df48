package secrets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"meridian-hq/vesta/pkg/crypto"
)

// EncryptedValue is the encrypted-at-rest representation of a
// sensitive configuration value. It carries everything needed to
// decrypt except the KEK itself: the ciphertext, the nonce, the AEAD
// algorithm tag, and the envelope holding the wrapped DEK.
type EncryptedValue struct {
	// Algorithm identifies the AEAD used for the value ciphertext.
	Algorithm crypto.Algorithm `json:"algorithm"`

	// Nonce is the AEAD nonce for the value ciphertext.
	Nonce []byte `json:"nonce"`

	// Ciphertext is the encrypted value including the trailing
	// authentication tag.
	Ciphertext []byte `json:"ciphertext"`

	// KeyID identifies the logical secret this value belongs to. Used
	// as AAD so ciphertexts cannot be swapped between entries.
	KeyID string `json:"key_id"`

	// Envelope holds the wrapped DEK and the KEK that wrapped it.
	Envelope Envelope `json:"envelope"`
}

// Envelope is the wrapped-DEK portion of an EncryptedValue.
type Envelope struct {
	// EncryptedDEK is the DEK wrapped under the KEK.
	EncryptedDEK []byte `json:"encrypted_dek"`

	// KEKID names the key-encryption key that wrapped the DEK.
	KEKID string `json:"kek_id"`

	// Provider tags the key manager that performed the wrap
	// (local, aws_kms, gcp_kms, vault).
	Provider string `json:"provider"`
}

// encryptedValueJSON is the wire form with binary fields base64
// encoded, matching how values are stored in the authoritative store.
type encryptedValueJSON struct {
	Algorithm    string `json:"algorithm"`
	Nonce        string `json:"nonce"`
	Ciphertext   string `json:"ciphertext"`
	KeyID        string `json:"key_id"`
	EncryptedDEK string `json:"encrypted_dek"`
	KEKID        string `json:"kek_id"`
	Provider     string `json:"provider"`
}

// MarshalJSON encodes binary fields as base64.
func (v EncryptedValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(encryptedValueJSON{
		Algorithm:    string(v.Algorithm),
		Nonce:        base64.StdEncoding.EncodeToString(v.Nonce),
		Ciphertext:   base64.StdEncoding.EncodeToString(v.Ciphertext),
		KeyID:        v.KeyID,
		EncryptedDEK: base64.StdEncoding.EncodeToString(v.Envelope.EncryptedDEK),
		KEKID:        v.Envelope.KEKID,
		Provider:     v.Envelope.Provider,
	})
}

// UnmarshalJSON decodes the base64 wire form.
func (v *EncryptedValue) UnmarshalJSON(data []byte) error {
	var w encryptedValueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	nonce, err := base64.StdEncoding.DecodeString(w.Nonce)
	if err != nil {
		return fmt.Errorf("invalid nonce encoding: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(w.Ciphertext)
	if err != nil {
		return fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	dek, err := base64.StdEncoding.DecodeString(w.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("invalid encrypted_dek encoding: %w", err)
	}

	v.Algorithm = crypto.Algorithm(w.Algorithm)
	v.Nonce = nonce
	v.Ciphertext = ciphertext
	v.KeyID = w.KeyID
	v.Envelope = Envelope{
		EncryptedDEK: dek,
		KEKID:        w.KEKID,
		Provider:     w.Provider,
	}
	return nil
}
