package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Signer seals checkpoints with an Ed25519 key. The private key never
// leaves the signer; verification needs only the public key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 keypair.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("audit: signer key generation: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// NewSignerFromSeed derives a deterministic keypair from a 32-byte
// seed, so checkpoints sealed before a restart stay verifiable.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("audit: signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign seals a checkpoint by signing its index and head hash.
func (s *Signer) Sign(cp *Checkpoint) {
	cp.Signature = ed25519.Sign(s.priv, cp.signingPayload())
}

// VerifySignature reports whether the checkpoint's signature is valid
// under the signer's public key.
func (s *Signer) VerifySignature(cp *Checkpoint) bool {
	return ed25519.Verify(s.pub, cp.signingPayload(), cp.Signature)
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }
