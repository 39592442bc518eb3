package crypto

import (
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := KeyFromHex(strings.Repeat("0f", 32))
	if err != nil {
		t.Fatalf("KeyFromHex() error = %v", err)
	}
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	key := testKey(t)

	enc, err := Encrypt(key, "ya29.refresh-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if strings.Contains(enc, "refresh-token") {
		t.Fatal("ciphertext leaks plaintext")
	}

	other, _ := Encrypt(key, "ya29.refresh-token")
	if other == enc {
		t.Error("two encryptions of the same value must differ (random nonce)")
	}

	dec, err := Decrypt(key, enc)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if dec != "ya29.refresh-token" {
		t.Errorf("Decrypt() = %q", dec)
	}
}

func TestDecrypt_Errors(t *testing.T) {
	key := testKey(t)

	if _, err := Decrypt(key, "AAAA"); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("short ciphertext: got %v", err)
	}

	enc, _ := Encrypt(key, "secret")
	wrong, _ := KeyFromHex(strings.Repeat("f0", 32))
	if _, err := Decrypt(wrong, enc); err == nil {
		t.Error("decrypt with wrong key must fail")
	}

	if _, err := Encrypt([]byte("short"), "x"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key: got %v", err)
	}
}

func TestHashEqual(t *testing.T) {
	h := Hash("channel-token")
	if !Equal(h, "channel-token") {
		t.Error("Equal() = false for matching value")
	}
	if Equal(h, "other") {
		t.Error("Equal() = true for different value")
	}
}
