package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKeyLength(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("key length = %d, want %d", len(key), KeySize)
	}
}

func TestGenerateKeyUnique(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	if bytes.Equal(key1, key2) {
		t.Error("two generated keys are identical")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := []byte("master-seed-material")

	key1, err := DeriveKey(secret, nil, "vesta/kek/tenant-a")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	key2, err := DeriveKey(secret, nil, "vesta/kek/tenant-a")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	if !bytes.Equal(key1, key2) {
		t.Error("same secret and info produced different keys")
	}
	if len(key1) != KeySize {
		t.Errorf("derived key length = %d, want %d", len(key1), KeySize)
	}
}

func TestDeriveKeyPurposeSeparation(t *testing.T) {
	secret := []byte("master-seed-material")

	keyA, _ := DeriveKey(secret, nil, "vesta/kek/tenant-a")
	keyB, _ := DeriveKey(secret, nil, "vesta/kek/tenant-b")

	if bytes.Equal(keyA, keyB) {
		t.Error("different info strings produced identical keys")
	}
}

func TestZeroize(t *testing.T) {
	key, _ := GenerateKey()
	Zeroize(key)
	for i, b := range key {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}
