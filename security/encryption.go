// Package security provides the engine's cryptographic primitives: versioned
// secret-key and token-value encryption, password hashing, audit logging, and
// rate limiting.
//
// Every ciphertext and hash the package produces is self-describing: the first
// byte is an algorithm symbol from a fixed, append-only table, the remainder is
// that algorithm's payload. The current algorithm is an explicit configuration
// value, never package-level state, so old data stays decodable when the
// current algorithm changes.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"fmt"

	"github.com/keygrant/keygrant/domain"
)

// Secret-key algorithm symbols. The table is append-only: never reassign a
// used symbol.
const (
	// SecretKeyAESCBC is AES-128-CBC with PKCS#7 padding and an IV-prefixed payload
	SecretKeyAESCBC byte = 0x01
)

// Token-value algorithm symbols. The table is append-only: never reassign a
// used symbol.
const (
	// TokenValueAESCBC is AES-128-CBC with PKCS#7 padding and an IV-prefixed payload
	TokenValueAESCBC byte = 0x01
)

// AESKeySize is the key size for the AES-128-CBC algorithms
const AESKeySize = 16

const aesBlockSize = aes.BlockSize

// SecretKeyCipher encrypts application secret keys at rest
type SecretKeyCipher struct {
	algorithm byte
	key       []byte
}

// NewSecretKeyCipher creates a cipher with an explicit current algorithm.
// The key must be exactly 16 bytes for AES-128.
func NewSecretKeyCipher(algorithm byte, key []byte) (*SecretKeyCipher, error) {
	if algorithm != SecretKeyAESCBC {
		return nil, domain.ErrUnknownAlgorithm(fmt.Sprintf("Unknown secret key algorithm symbol %#x.", algorithm))
	}
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("secret key encryption key must be exactly %d bytes, got %d", AESKeySize, len(key))
	}
	return &SecretKeyCipher{algorithm: algorithm, key: key}, nil
}

// Encrypt seals a plaintext secret key into a versioned container
func (c *SecretKeyCipher) Encrypt(secret string) (domain.EncryptedSecretKey, error) {
	if secret == "" {
		return nil, domain.ErrInvalidArgument("Secret key must not be empty.")
	}
	payload, err := aesCBCEncrypt(c.key, []byte(secret))
	if err != nil {
		return nil, err
	}
	return domain.EncryptedSecretKey(seal(c.algorithm, payload)), nil
}

// Decrypt opens a versioned container produced by any known algorithm
func (c *SecretKeyCipher) Decrypt(encrypted domain.EncryptedSecretKey) (string, error) {
	symbol, payload, err := open(encrypted)
	if err != nil {
		return "", err
	}
	switch symbol {
	case SecretKeyAESCBC:
		plaintext, err := aesCBCDecrypt(c.key, payload)
		if err != nil {
			return "", err
		}
		return string(plaintext), nil
	default:
		return "", domain.ErrUnknownAlgorithm(fmt.Sprintf("Unknown secret key algorithm symbol %#x.", symbol))
	}
}

// TokenValueCipher encrypts encoded token values at rest
type TokenValueCipher struct {
	algorithm byte
	key       []byte
}

// NewTokenValueCipher creates a cipher with an explicit current algorithm.
// The key must be exactly 16 bytes for AES-128.
func NewTokenValueCipher(algorithm byte, key []byte) (*TokenValueCipher, error) {
	if algorithm != TokenValueAESCBC {
		return nil, domain.ErrUnknownAlgorithm(fmt.Sprintf("Unknown token value algorithm symbol %#x.", algorithm))
	}
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("token value encryption key must be exactly %d bytes, got %d", AESKeySize, len(key))
	}
	return &TokenValueCipher{algorithm: algorithm, key: key}, nil
}

// Encrypt seals an encoded token value into a versioned container
func (c *TokenValueCipher) Encrypt(value string) (domain.EncryptedTokenValue, error) {
	if value == "" {
		return nil, domain.ErrInvalidArgument("Token value must not be empty.")
	}
	payload, err := aesCBCEncrypt(c.key, []byte(value))
	if err != nil {
		return nil, err
	}
	return domain.EncryptedTokenValue(seal(c.algorithm, payload)), nil
}

// Decrypt opens a versioned container produced by any known algorithm
func (c *TokenValueCipher) Decrypt(encrypted domain.EncryptedTokenValue) (string, error) {
	symbol, payload, err := open(encrypted)
	if err != nil {
		return "", err
	}
	switch symbol {
	case TokenValueAESCBC:
		plaintext, err := aesCBCDecrypt(c.key, payload)
		if err != nil {
			return "", err
		}
		return string(plaintext), nil
	default:
		return "", domain.ErrUnknownAlgorithm(fmt.Sprintf("Unknown token value algorithm symbol %#x.", symbol))
	}
}

// seal wraps an algorithm payload as [symbol][payload]
func seal(symbol byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = symbol
	copy(out[1:], payload)
	return out
}

// open splits a container into its algorithm symbol and payload
func open(blob []byte) (byte, []byte, error) {
	if len(blob) < 2 {
		return 0, nil, domain.ErrInvalidArgument("Versioned container is empty or truncated.")
	}
	return blob[0], blob[1:], nil
}

// aesCBCEncrypt produces [IV][CBC/PKCS7 ciphertext] with a random 16-byte IV.
// Encrypting the same plaintext twice yields different bytes.
func aesCBCEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext)
	out := make([]byte, aesBlockSize+len(padded))
	iv := out[:aesBlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aesBlockSize:], padded)
	return out, nil
}

// aesCBCDecrypt splits [IV][ciphertext] and decrypts. The payload must be
// non-empty and a multiple of the block size.
func aesCBCDecrypt(key, payload []byte) ([]byte, error) {
	if len(payload) < 2*aesBlockSize || len(payload)%aesBlockSize != 0 {
		return nil, domain.ErrInvalidArgument("Ciphertext length must be a non-zero multiple of the block size.")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	iv, ciphertext := payload[:aesBlockSize], payload[aesBlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte) []byte {
	padding := aesBlockSize - len(data)%aesBlockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, domain.ErrInvalidArgument("Ciphertext payload is empty.")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aesBlockSize || padding > len(data) {
		return nil, domain.ErrInvalidArgument("Ciphertext padding is malformed.")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, domain.ErrInvalidArgument("Ciphertext padding is malformed.")
		}
	}
	return data[:len(data)-padding], nil
}

// GenerateKey generates a random 16-byte key for the AES-128 algorithms
func GenerateKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromPassphrase derives a 16-byte AES key as the MD5 digest of a
// passphrase. This reproduces the legacy key-derivation contract so existing
// ciphertexts stay decryptable. MD5 of a fixed passphrase is a weak KDF; new
// deployments should generate key material with GenerateKey and manage it
// externally instead.
func KeyFromPassphrase(passphrase string) []byte {
	sum := md5.Sum([]byte(passphrase))
	return sum[:]
}
