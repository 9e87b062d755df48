package kms

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"meridian-hq/vesta/pkg/crypto"
)

func newTestLocal(t *testing.T, allowed ...string) *Local {
	t.Helper()
	l, err := NewLocal(LocalConfig{
		Seed:        []byte("test-master-seed"),
		AllowedKEKs: allowed,
	})
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return l
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	dek, _ := crypto.GenerateKey()

	wrapped, err := l.Wrap(ctx, dek, "tenant-a")
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if bytes.Contains(wrapped, dek) {
		t.Error("wrapped DEK contains plaintext DEK")
	}

	unwrapped, err := l.Unwrap(ctx, wrapped, "tenant-a")
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(unwrapped, dek) {
		t.Error("unwrapped DEK differs from original")
	}
}

func TestUnwrapWrongKEKFails(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	dek, _ := crypto.GenerateKey()
	wrapped, err := l.Wrap(ctx, dek, "tenant-a")
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	if _, err := l.Unwrap(ctx, wrapped, "tenant-b"); err == nil {
		t.Error("Unwrap under wrong KEK succeeded, want error")
	}
}

func TestAllowedKEKsEnforced(t *testing.T) {
	l := newTestLocal(t, "tenant-a")
	ctx := context.Background()

	dek, _ := crypto.GenerateKey()

	if _, err := l.Wrap(ctx, dek, "tenant-a"); err != nil {
		t.Errorf("Wrap under allowed KEK failed: %v", err)
	}

	_, err := l.Wrap(ctx, dek, "tenant-z")
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("Wrap under disallowed KEK: error = %v, want ErrKeyUnavailable", err)
	}
}

func TestKEKsStableAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dek, _ := crypto.GenerateKey()

	l1 := newTestLocal(t)
	wrapped, err := l1.Wrap(ctx, dek, "tenant-a")
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	// A new instance with the same seed must unwrap values wrapped
	// before a restart.
	l2 := newTestLocal(t)
	unwrapped, err := l2.Unwrap(ctx, wrapped, "tenant-a")
	if err != nil {
		t.Fatalf("Unwrap on new instance failed: %v", err)
	}
	if !bytes.Equal(unwrapped, dek) {
		t.Error("unwrapped DEK differs across instances")
	}
}

func TestEmptySeedRejected(t *testing.T) {
	if _, err := NewLocal(LocalConfig{}); err == nil {
		t.Error("NewLocal with empty seed succeeded, want error")
	}
}

func TestCancelledContext(t *testing.T) {
	l := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dek, _ := crypto.GenerateKey()
	if _, err := l.Wrap(ctx, dek, "tenant-a"); err == nil {
		t.Error("Wrap with cancelled context succeeded, want error")
	}
}
