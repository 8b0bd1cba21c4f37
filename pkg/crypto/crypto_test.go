package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(b byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(0x42), 1)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}

	tests := []string{"", "api-key-abc123", "secret with spaces\nand newlines"}
	for _, plaintext := range tests {
		ct, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if !strings.HasPrefix(ct, "ENC[v1]:") {
			t.Fatalf("missing version prefix: %s", ct)
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc1, _ := NewEncryptor(testKey(0x01), 1)
	enc2, _ := NewEncryptor(testKey(0x02), 1)

	ct, err := enc1.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := enc2.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptRejectsMalformed(t *testing.T) {
	enc, _ := NewEncryptor(testKey(0x01), 1)
	for _, ct := range []string{"", "plaintext", "ENC[v1]", "ENC[v1]:!!!not-base64", "ENC[v1]:" + "QQ=="} {
		if _, err := enc.Decrypt(ct); err == nil {
			t.Fatalf("expected error for %q", ct)
		}
	}
}

func TestKeyManagerVersionSelection(t *testing.T) {
	t.Setenv("CREDENTIAL_KEY", base64.StdEncoding.EncodeToString(testKey(0x0a)))
	t.Setenv("CREDENTIAL_KEY_V2", base64.StdEncoding.EncodeToString(testKey(0x0b)))

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}

	// New secrets use v2, old v1 ciphertexts still decrypt.
	ct, err := km.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ParseVersion(ct) != 2 {
		t.Fatalf("expected v2 ciphertext, got %s", ct)
	}

	v1, _ := NewEncryptor(testKey(0x0a), 1)
	old, _ := v1.Encrypt("legacy")
	got, err := km.Decrypt(old)
	if err != nil || got != "legacy" {
		t.Fatalf("v1 decrypt failed: %q %v", got, err)
	}
}

func TestKeyManagerRequiresPrimaryKey(t *testing.T) {
	t.Setenv("CREDENTIAL_KEY", "")
	if _, err := NewKeyManager(); err == nil {
		t.Fatal("expected error without CREDENTIAL_KEY")
	}
}
