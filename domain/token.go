package domain

import (
	"time"
)

// TokenType enumerates the two token kinds and carries each kind's default
// expiration policy. The policy lives here, not inside issued tokens.
type TokenType int

const (
	// TokenTypeAccess is a short-lived bearer token for resource access
	TokenTypeAccess TokenType = iota
	// TokenTypeRefresh is a long-lived, single-use token for rotation
	TokenTypeRefresh
)

const (
	// AccessTokenLifetime is the default validity window for access tokens
	AccessTokenLifetime = 24 * time.Hour
	// RefreshTokenLifetime is the default validity window for refresh tokens
	RefreshTokenLifetime = 365 * 24 * time.Hour
)

// ParseTokenType resolves a token-type claim name. Unrecognized names are an
// invalid-token failure so decoders leak nothing about which check failed.
func ParseTokenType(name string) (TokenType, error) {
	switch name {
	case "Access":
		return TokenTypeAccess, nil
	case "Refresh":
		return TokenTypeRefresh, nil
	default:
		return 0, ErrInvalidToken("Token is invalid.")
	}
}

// Name returns the claim name for the token type
func (t TokenType) Name() string {
	if t == TokenTypeRefresh {
		return "Refresh"
	}
	return "Access"
}

// ExpiresAt applies the type-default expiration policy to the given instant
func (t TokenType) ExpiresAt(now time.Time) time.Time {
	if t == TokenTypeRefresh {
		return now.Add(RefreshTokenLifetime)
	}
	return now.Add(AccessTokenLifetime)
}

// TokenID carries everything a token asserts: a unique id, the issuing
// application, the token type, the granted permission set, and the expiry.
// Value is the signed compact encoding handed to clients.
type TokenID struct {
	ID            string
	ApplicationID ApplicationID
	Type          TokenType
	Permissions   []PermissionID
	ExpiresAt     time.Time
	Value         string
}

// IsZero reports whether the token id is unset
func (t TokenID) IsZero() bool { return t.ID == "" }

// TokenEncoder mints signed token ids. Implemented by the token package's
// claims codec; domain depends only on this capability.
type TokenEncoder interface {
	Encode(applicationID ApplicationID, tokenType TokenType, permissions []PermissionID, expiresAt time.Time) (TokenID, error)
}

// AccessToken is an issued bearer token for resource access
type AccessToken struct {
	ID TokenID
}

// NewAccessToken wraps a token id, rejecting refresh-typed ids
func NewAccessToken(id TokenID) (*AccessToken, error) {
	if id.IsZero() {
		return nil, ErrInvalidArgument("Token id must not be empty.")
	}
	if id.Type != TokenTypeAccess {
		return nil, ErrInvalidArgument("Token id is not an access token id.")
	}
	return &AccessToken{ID: id}, nil
}

// Verify checks the token's validity at the given instant
func (t *AccessToken) Verify(now time.Time) error {
	if now.After(t.ID.ExpiresAt) {
		return ErrInvalidToken("Token has expired.")
	}
	return nil
}

// RefreshToken is an issued rotation token. It is single-use: Use flips the
// Used flag exactly once.
type RefreshToken struct {
	ID   TokenID
	Used bool
}

// NewRefreshToken wraps a token id, rejecting access-typed ids
func NewRefreshToken(id TokenID) (*RefreshToken, error) {
	if id.IsZero() {
		return nil, ErrInvalidArgument("Token id must not be empty.")
	}
	if id.Type != TokenTypeRefresh {
		return nil, ErrInvalidArgument("Token id is not a refresh token id.")
	}
	return &RefreshToken{ID: id}, nil
}

// Verify checks expiry first, then prior use
func (t *RefreshToken) Verify(now time.Time) error {
	if now.After(t.ID.ExpiresAt) {
		return ErrInvalidToken("Token has expired.")
	}
	if t.Used {
		return ErrInvalidToken("Token was used before.")
	}
	return nil
}

// Use consumes the token. The transition is one-way; a token that fails
// verification cannot be consumed.
func (t *RefreshToken) Use(now time.Time) error {
	if err := t.Verify(now); err != nil {
		return err
	}
	t.Used = true
	return nil
}

// Clone returns an independent copy
func (t *RefreshToken) Clone() *RefreshToken {
	c := *t
	c.ID.Permissions = append([]PermissionID(nil), t.ID.Permissions...)
	return &c
}
