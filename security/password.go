package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/keygrant/keygrant/domain"
)

// Password algorithm symbols. The table is append-only: never reassign a
// used symbol.
const (
	// PasswordPBKDF2SHA256 is PBKDF2 with a SHA-256 PRF, 50,000 iterations,
	// a 16-byte salt, and a 32-byte derived subkey
	PasswordPBKDF2SHA256 byte = 0x01
)

const (
	pbkdf2Iterations = 50_000
	pbkdf2SaltSize   = 16
	pbkdf2SubkeySize = 32
	pbkdf2PayloadLen = pbkdf2SaltSize + pbkdf2SubkeySize
)

// PasswordHasher hashes and verifies user passwords. Hash output is the
// versioned container [symbol][salt][subkey]; verification re-derives the
// subkey and compares in constant time.
type PasswordHasher struct {
	algorithm byte
}

// NewPasswordHasher creates a hasher with an explicit current algorithm
func NewPasswordHasher(algorithm byte) (*PasswordHasher, error) {
	if algorithm != PasswordPBKDF2SHA256 {
		return nil, domain.ErrUnknownAlgorithm(fmt.Sprintf("Unknown password algorithm symbol %#x.", algorithm))
	}
	return &PasswordHasher{algorithm: algorithm}, nil
}

// Hash derives a salted hash of the password
func (h *PasswordHasher) Hash(password string) (domain.HashedPassword, error) {
	if password == "" {
		return nil, domain.ErrInvalidArgument("Password must not be empty.")
	}

	salt := make([]byte, pbkdf2SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	subkey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2SubkeySize, sha256.New)

	payload := make([]byte, 0, pbkdf2PayloadLen)
	payload = append(payload, salt...)
	payload = append(payload, subkey...)
	return domain.HashedPassword(seal(h.algorithm, payload)), nil
}

// Verify reports whether the candidate password matches the stored hash.
// A mismatch is a normal false result, never an error; errors are reserved for
// malformed containers and unknown algorithm symbols. The subkey comparison is
// constant-time to prevent timing attacks.
func (h *PasswordHasher) Verify(hashed domain.HashedPassword, candidate string) (bool, error) {
	symbol, payload, err := open(hashed)
	if err != nil {
		return false, err
	}

	switch symbol {
	case PasswordPBKDF2SHA256:
		if len(payload) != pbkdf2PayloadLen {
			return false, domain.ErrInvalidArgument(fmt.Sprintf("Password hash payload must be exactly %d bytes.", pbkdf2PayloadLen))
		}
		salt, stored := payload[:pbkdf2SaltSize], payload[pbkdf2SaltSize:]
		derived := pbkdf2.Key([]byte(candidate), salt, pbkdf2Iterations, pbkdf2SubkeySize, sha256.New)
		return subtle.ConstantTimeCompare(stored, derived) == 1, nil
	default:
		return false, domain.ErrUnknownAlgorithm(fmt.Sprintf("Unknown password algorithm symbol %#x.", symbol))
	}
}
