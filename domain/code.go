package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CodeLength is the exact length of a plaintext authorization code
const CodeLength = 32

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Code is the opaque authorization-code secret handed to a client out-of-band.
// Only its one-way hash is ever persisted.
type Code struct {
	value string
}

// NewCode generates a cryptographically random authorization code
func NewCode() (Code, error) {
	// Rejection sampling: bytes at or above the largest multiple of the
	// charset size are discarded so every character is equally likely
	const limit = 256 - 256%len(codeCharset)
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return Code{}, fmt.Errorf("failed to generate authorization code: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, codeCharset[int(b)%len(codeCharset)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return Code{value: string(out)}, nil
}

// ParseCode validates the exact length and charset of a client-supplied code
func ParseCode(s string) (Code, error) {
	if len(s) != CodeLength {
		return Code{}, ErrInvalidArgument(fmt.Sprintf("Authorization code must be exactly %d characters.", CodeLength))
	}
	if !isAlphanumeric(s) {
		return Code{}, ErrInvalidArgument("Authorization code must be alphanumeric.")
	}
	return Code{value: s}, nil
}

func (c Code) String() string { return c.value }

// IsZero reports whether the code is unset
func (c Code) IsZero() bool { return c.value == "" }

// AuthorizationCodeID identifies a persisted authorization code by the one-way
// hash of its plaintext code, scoped to the owning application. The hash is
// irreversible; uniqueness is enforced by storage.
type AuthorizationCodeID struct {
	hashedCode    string
	applicationID ApplicationID
}

// NewAuthorizationCodeID hashes the plaintext code and scopes it to an application
func NewAuthorizationCodeID(code Code, applicationID ApplicationID) (AuthorizationCodeID, error) {
	if code.IsZero() {
		return AuthorizationCodeID{}, ErrInvalidArgument("Authorization code must not be empty.")
	}
	if applicationID.IsZero() {
		return AuthorizationCodeID{}, ErrInvalidArgument("Application id must not be empty.")
	}
	sum := sha256.Sum256([]byte(code.value))
	return AuthorizationCodeID{
		hashedCode:    hex.EncodeToString(sum[:]),
		applicationID: applicationID,
	}, nil
}

// RestoreAuthorizationCodeID rebuilds an identifier from its persisted hashed
// form. Storage implementations use this when loading codes; it never hashes.
func RestoreAuthorizationCodeID(hashedCode string, applicationID ApplicationID) (AuthorizationCodeID, error) {
	if len(hashedCode) != sha256.Size*2 {
		return AuthorizationCodeID{}, ErrInvalidArgument("Hashed authorization code has the wrong length.")
	}
	if _, err := hex.DecodeString(hashedCode); err != nil {
		return AuthorizationCodeID{}, ErrInvalidArgument("Hashed authorization code must be hex-encoded.")
	}
	if applicationID.IsZero() {
		return AuthorizationCodeID{}, ErrInvalidArgument("Application id must not be empty.")
	}
	return AuthorizationCodeID{hashedCode: hashedCode, applicationID: applicationID}, nil
}

// HashedCode returns the hex-encoded hash of the plaintext code
func (id AuthorizationCodeID) HashedCode() string { return id.hashedCode }

// ApplicationID returns the owning application
func (id AuthorizationCodeID) ApplicationID() ApplicationID { return id.applicationID }

func (id AuthorizationCodeID) String() string {
	return fmt.Sprintf("%s:%s", id.applicationID, id.hashedCode)
}

// IsZero reports whether the identifier is unset
func (id AuthorizationCodeID) IsZero() bool { return id.hashedCode == "" }
