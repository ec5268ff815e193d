package security

import (
	"bytes"
	"testing"

	"github.com/keygrant/keygrant/domain"
)

func testKey() []byte {
	key := make([]byte, AESKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewSecretKeyCipher(t *testing.T) {
	tests := []struct {
		name      string
		algorithm byte
		key       []byte
		wantErr   bool
	}{
		{name: "valid", algorithm: SecretKeyAESCBC, key: testKey()},
		{name: "unknown algorithm", algorithm: 0x7f, key: testKey(), wantErr: true},
		{name: "short key", algorithm: SecretKeyAESCBC, key: make([]byte, 8), wantErr: true},
		{name: "long key", algorithm: SecretKeyAESCBC, key: make([]byte, 32), wantErr: true},
		{name: "nil key", algorithm: SecretKeyAESCBC, key: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretKeyCipher(tt.algorithm, tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretKeyCipher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSecretKeyCipherRoundTrip(t *testing.T) {
	cipher, err := NewSecretKeyCipher(SecretKeyAESCBC, testKey())
	if err != nil {
		t.Fatalf("NewSecretKeyCipher() error = %v", err)
	}

	tests := []string{
		"client-secret",
		"",
		"a",
		"exactly sixteen!",
		"a much longer secret spanning several AES blocks to exercise padding",
	}

	for _, plaintext := range tests {
		encrypted, err := cipher.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if encrypted[0] != SecretKeyAESCBC {
			t.Errorf("Encrypt(%q) symbol = %#x, want %#x", plaintext, encrypted[0], SecretKeyAESCBC)
		}
		decrypted, err := cipher.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestSecretKeyCipherRandomIV(t *testing.T) {
	cipher, err := NewSecretKeyCipher(SecretKeyAESCBC, testKey())
	if err != nil {
		t.Fatalf("NewSecretKeyCipher() error = %v", err)
	}

	a, err := cipher.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := cipher.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("Encrypt() produced identical containers for the same plaintext")
	}
}

func TestSecretKeyCipherDecryptFailures(t *testing.T) {
	cipher, err := NewSecretKeyCipher(SecretKeyAESCBC, testKey())
	if err != nil {
		t.Fatalf("NewSecretKeyCipher() error = %v", err)
	}
	valid, err := cipher.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	t.Run("unknown symbol", func(t *testing.T) {
		tampered := append(domain.EncryptedSecretKey(nil), valid...)
		tampered[0] = 0x7f
		_, err := cipher.Decrypt(tampered)
		if err == nil {
			t.Fatal("Decrypt() accepted an unknown algorithm symbol")
		}
		if !domain.IsUnknownAlgorithm(err) {
			t.Errorf("Decrypt() error kind = %v, want unknown algorithm", err)
		}
	})

	t.Run("empty container", func(t *testing.T) {
		if _, err := cipher.Decrypt(nil); err == nil {
			t.Error("Decrypt() accepted an empty container")
		}
	})

	t.Run("truncated payload", func(t *testing.T) {
		if _, err := cipher.Decrypt(valid[:10]); err == nil {
			t.Error("Decrypt() accepted a truncated payload")
		}
	})

	t.Run("misaligned payload", func(t *testing.T) {
		if _, err := cipher.Decrypt(valid[:len(valid)-3]); err == nil {
			t.Error("Decrypt() accepted a misaligned payload")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		otherKey := testKey()
		otherKey[0] ^= 0xff
		other, err := NewSecretKeyCipher(SecretKeyAESCBC, otherKey)
		if err != nil {
			t.Fatalf("NewSecretKeyCipher() error = %v", err)
		}
		// Garbage padding usually fails; a lucky unpad still must not
		// recover the plaintext
		if got, err := other.Decrypt(valid); err == nil && got == "secret" {
			t.Error("Decrypt() with the wrong key recovered the plaintext")
		}
	})
}

func TestTokenValueCipherRoundTrip(t *testing.T) {
	cipher, err := NewTokenValueCipher(TokenValueAESCBC, testKey())
	if err != nil {
		t.Fatalf("NewTokenValueCipher() error = %v", err)
	}

	value := "eyJhbGciOiJIUzI1NiJ9.signed.token"
	encrypted, err := cipher.Encrypt(value)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if encrypted[0] != TokenValueAESCBC {
		t.Errorf("symbol = %#x, want %#x", encrypted[0], TokenValueAESCBC)
	}
	decrypted, err := cipher.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted != value {
		t.Errorf("Decrypt() = %q, want %q", decrypted, value)
	}
}

func TestGenerateEncryptionKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != AESKeySize {
		t.Errorf("GenerateKey() length = %d, want %d", len(key), AESKeySize)
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("GenerateKey() returned identical keys")
	}
}

func TestKeyFromPassphrase(t *testing.T) {
	key := KeyFromPassphrase("correct horse battery staple")
	if len(key) != AESKeySize {
		t.Fatalf("KeyFromPassphrase() length = %d, want %d", len(key), AESKeySize)
	}
	if !bytes.Equal(key, KeyFromPassphrase("correct horse battery staple")) {
		t.Error("KeyFromPassphrase() is not deterministic")
	}
	if bytes.Equal(key, KeyFromPassphrase("other")) {
		t.Error("distinct passphrases produced the same key")
	}

	// Keys derived this way must work with the ciphers
	cipher, err := NewSecretKeyCipher(SecretKeyAESCBC, key)
	if err != nil {
		t.Fatalf("NewSecretKeyCipher() error = %v", err)
	}
	encrypted, err := cipher.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	decrypted, err := cipher.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted != "secret" {
		t.Errorf("Decrypt() = %q, want %q", decrypted, "secret")
	}
}
