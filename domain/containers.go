package domain

// Versioned ciphertext and hash containers. The first byte of each container is
// an algorithm symbol from a fixed, append-only table; the remainder is the
// algorithm's payload. Shape validation beyond non-emptiness belongs to the
// algorithm declared by the symbol.

// EncryptedSecretKey holds an application's secret key ciphertext at rest
type EncryptedSecretKey []byte

// IsZero reports whether the container is empty
func (k EncryptedSecretKey) IsZero() bool { return len(k) == 0 }

// EncryptedTokenValue holds a token value ciphertext at rest
type EncryptedTokenValue []byte

// IsZero reports whether the container is empty
func (v EncryptedTokenValue) IsZero() bool { return len(v) == 0 }

// HashedPassword holds a salted one-way password hash
type HashedPassword []byte

// IsZero reports whether the container is empty
func (p HashedPassword) IsZero() bool { return len(p) == 0 }
