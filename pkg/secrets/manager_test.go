package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"meridian-hq/vesta/pkg/kms"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	keys, err := kms.NewLocal(kms.LocalConfig{Seed: []byte("test-seed")})
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return NewManager(keys)
}

func TestSealOpenRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	plaintexts := [][]byte{
		[]byte("db-pass-123"),
		[]byte(""),
		[]byte("multi\nline\nsecret with spaces"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, plaintext := range plaintexts {
		sealed, err := m.Seal(ctx, plaintext, "app/db.password", "tenant-a")
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		if sealed.Envelope.KEKID != "tenant-a" {
			t.Errorf("kek_id = %q, want tenant-a", sealed.Envelope.KEKID)
		}
		if sealed.Envelope.Provider != "local" {
			t.Errorf("provider = %q, want local", sealed.Envelope.Provider)
		}

		opened, err := m.Open(ctx, sealed)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("opened %d bytes, differs from original %d bytes", len(opened), len(plaintext))
		}
	}
}

func TestSealFreshDEKPerCall(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Seal(ctx, []byte("same"), "k", "tenant-a")
	b, _ := m.Seal(ctx, []byte("same"), "k", "tenant-a")

	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("two seals of the same plaintext produced identical ciphertext")
	}
	if bytes.Equal(a.Envelope.EncryptedDEK, b.Envelope.EncryptedDEK) {
		t.Error("two seals share a wrapped DEK")
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sealed, _ := m.Seal(ctx, []byte("secret"), "k", "tenant-a")
	sealed.Ciphertext[0] ^= 0x01

	_, err := m.Open(ctx, sealed)
	var de *DecryptionError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecryptionError", err)
	}
}

func TestOpenSwappedKeyIDFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// A ciphertext moved to a different logical key must not decrypt:
	// the key id is bound in as AAD.
	sealed, _ := m.Seal(ctx, []byte("secret"), "app/db.password", "tenant-a")
	sealed.KeyID = "app/other.password"

	if _, err := m.Open(ctx, sealed); err == nil {
		t.Error("Open with swapped key id succeeded, want error")
	}
}

func TestOpenUnknownKEKFails(t *testing.T) {
	keys, _ := kms.NewLocal(kms.LocalConfig{
		Seed:        []byte("test-seed"),
		AllowedKEKs: []string{"tenant-a"},
	})
	m := NewManager(keys)
	ctx := context.Background()

	sealed, err := m.Seal(ctx, []byte("secret"), "k", "tenant-a")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	sealed.Envelope.KEKID = "tenant-z"

	_, err = m.Open(ctx, sealed)
	var de *DecryptionError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecryptionError", err)
	}
	if !errors.Is(err, kms.ErrKeyUnavailable) {
		t.Errorf("error chain missing ErrKeyUnavailable: %v", err)
	}
}

func TestEncryptedValueJSONRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sealed, _ := m.Seal(ctx, []byte("db-pass-123"), "app/db.password", "tenant-a")

	data, err := json.Marshal(sealed)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if bytes.Contains(data, []byte("db-pass-123")) {
		t.Fatal("serialized EncryptedValue contains plaintext")
	}

	var restored EncryptedValue
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	opened, err := m.Open(ctx, restored)
	if err != nil {
		t.Fatalf("Open of restored value failed: %v", err)
	}
	if string(opened) != "db-pass-123" {
		t.Errorf("opened = %q, want db-pass-123", opened)
	}
}
