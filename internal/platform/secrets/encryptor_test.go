package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func TestNewEncryptor_KeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 64} {
		if _, err := NewEncryptor(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte key", n)
		}
	}
	if _, err := NewEncryptor(generateTestKey(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(generateTestKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}
	for _, plain := range []string{"", "api-key-123", strings.Repeat("x", 4096)} {
		ct, err := enc.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if plain != "" && ct == plain {
			t.Error("ciphertext equals plaintext")
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plain {
			t.Errorf("round trip mismatch: got %q", got)
		}
	}
}

func TestEncrypt_UniqueNonces(t *testing.T) {
	enc, _ := NewEncryptor(generateTestKey(t))
	a, _ := enc.Encrypt("same")
	b, _ := enc.Encrypt("same")
	if a == b {
		t.Error("expected different ciphertexts for the same plaintext")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, _ := NewEncryptor(generateTestKey(t))
	b, _ := NewEncryptor(generateTestKey(t))
	ct, _ := a.Encrypt("secret")
	if _, err := b.Decrypt(ct); err == nil {
		t.Fatal("expected error decrypting with another key")
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	enc, _ := NewEncryptor(generateTestKey(t))
	if _, err := enc.Decrypt("not base64!!"); err == nil {
		t.Error("expected base64 error")
	}
	if _, err := enc.Decrypt("AAAA"); err == nil {
		t.Error("expected short ciphertext error")
	}
}

func TestNewEncryptorFromHex(t *testing.T) {
	key := generateTestKey(t)
	if _, err := NewEncryptorFromHex(hex.EncodeToString(key)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewEncryptorFromHex("zz"); err == nil {
		t.Fatal("expected hex error")
	}
}

func TestPlaintext(t *testing.T) {
	var c Cipher = Plaintext{}
	ct, _ := c.Encrypt("k")
	pt, _ := c.Decrypt(ct)
	if ct != "k" || pt != "k" {
		t.Errorf("expected pass-through, got %q/%q", ct, pt)
	}
}
