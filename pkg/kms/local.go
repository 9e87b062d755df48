package kms

import (
	"context"
	"fmt"
	"sync"

	"meridian-hq/vesta/pkg/crypto"
)

// Local is an in-process KeyManager that derives its KEKs from a master
// seed with HKDF-SHA256. KEKs are derived lazily on first use and held
// in memory; the same seed always yields the same KEKs, so values
// wrapped before a restart remain unwrappable after it.
//
// Local carries its own concurrency discipline: the KEK index is
// guarded by an RWMutex and the struct is passed explicitly to every
// consumer rather than living in a package-level singleton.
type Local struct {
	seed []byte

	mu   sync.RWMutex
	keks map[string][]byte

	// allowed restricts which KEK ids may be derived. Empty means any.
	allowed map[string]struct{}
}

// LocalConfig configures a Local key manager.
type LocalConfig struct {
	// Seed is the master secret KEKs are derived from. Required.
	Seed []byte

	// AllowedKEKs optionally restricts Wrap/Unwrap to a fixed set of
	// KEK ids. Requests for other ids fail with ErrKeyUnavailable.
	AllowedKEKs []string
}

// NewLocal creates a Local key manager from the given configuration.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if len(cfg.Seed) == 0 {
		return nil, fmt.Errorf("kms: empty master seed")
	}

	l := &Local{
		seed: append([]byte(nil), cfg.Seed...),
		keks: make(map[string][]byte),
	}
	if len(cfg.AllowedKEKs) > 0 {
		l.allowed = make(map[string]struct{}, len(cfg.AllowedKEKs))
		for _, id := range cfg.AllowedKEKs {
			l.allowed[id] = struct{}{}
		}
	}
	return l, nil
}

// Provider returns the provider name.
func (l *Local) Provider() string { return "local" }

// Wrap encrypts dek under the derived KEK for kekID.
func (l *Local) Wrap(ctx context.Context, dek []byte, kekID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kek, err := l.kek(kekID)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext, err := crypto.Encrypt(kek, dek, "kms/"+kekID)
	if err != nil {
		return nil, fmt.Errorf("kms: wrap under kek %q: %w", kekID, err)
	}

	// Wire format: nonce || ciphertext. The nonce length is fixed by
	// the algorithm, so no framing is needed.
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Unwrap decrypts a wrapped DEK produced by Wrap.
func (l *Local) Unwrap(ctx context.Context, wrapped []byte, kekID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(wrapped) <= crypto.NonceSize {
		return nil, fmt.Errorf("kms: wrapped dek too short")
	}

	kek, err := l.kek(kekID)
	if err != nil {
		return nil, err
	}

	nonce := wrapped[:crypto.NonceSize]
	ciphertext := wrapped[crypto.NonceSize:]

	dek, err := crypto.Decrypt(kek, nonce, ciphertext, "kms/"+kekID)
	if err != nil {
		return nil, fmt.Errorf("kms: unwrap under kek %q: %w", kekID, err)
	}
	return dek, nil
}

// kek returns the derived KEK for kekID, deriving and caching it on
// first use.
func (l *Local) kek(kekID string) ([]byte, error) {
	if kekID == "" {
		return nil, keyError(kekID)
	}
	if l.allowed != nil {
		if _, ok := l.allowed[kekID]; !ok {
			return nil, keyError(kekID)
		}
	}

	l.mu.RLock()
	kek, ok := l.keks[kekID]
	l.mu.RUnlock()
	if ok {
		return kek, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if kek, ok := l.keks[kekID]; ok {
		return kek, nil
	}

	kek, err := crypto.DeriveKey(l.seed, nil, "vesta/kek/"+kekID)
	if err != nil {
		return nil, keyError(kekID)
	}
	l.keks[kekID] = kek
	return kek, nil
}
