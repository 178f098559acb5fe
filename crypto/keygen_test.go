package crypto

import (
	"encoding/hex"
	"testing"
)

func TestNewSessionKey(t *testing.T) {
	keyHex, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey() error = %v", err)
	}
	if len(keyHex) != SessionKeyBytes*2 {
		t.Fatalf("NewSessionKey() length = %d, want %d hex chars", len(keyHex), SessionKeyBytes*2)
	}
	if _, err := hex.DecodeString(keyHex); err != nil {
		t.Fatalf("NewSessionKey() is not valid hex: %v", err)
	}

	other, err := NewSessionKey()
	if err != nil {
		t.Fatal(err)
	}
	if keyHex == other {
		t.Error("two generated session keys are identical")
	}

	// A freshly generated key must be directly usable for field encryption.
	field, err := EncryptField("generated key smoke test", keyHex)
	if err != nil {
		t.Fatalf("EncryptField() with generated key error = %v", err)
	}
	got, err := DecryptField(field, keyHex)
	if err != nil {
		t.Fatal(err)
	}
	if got != "generated key smoke test" {
		t.Errorf("round trip = %q", got)
	}
}

func TestGenerateKeyPairUsable(t *testing.T) {
	priv, pub := testKeyPair(t)

	sig, err := Sign("keygen smoke test", priv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	ok, err := Verify("keygen smoke test", sig, pub)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("generated pair failed to verify its own signature")
	}
}
