package domain

import (
	"time"
)

// AuthorizationCodeLifetime is the default validity window for authorization codes
const AuthorizationCodeLifetime = 60 * time.Second

// AuthorizationCode is a single authorization grant: short-lived, consumed at
// most once. Only the hashed id is persisted; the plaintext code never is.
type AuthorizationCode struct {
	ID          AuthorizationCodeID
	ExpiresAt   time.Time
	Used        bool
	Permissions []PermissionID
}

// NewAuthorizationCode builds an unused grant. The permission set must be
// non-empty at creation.
func NewAuthorizationCode(id AuthorizationCodeID, expiresAt time.Time, permissions []PermissionID) (*AuthorizationCode, error) {
	if id.IsZero() {
		return nil, ErrInvalidArgument("Authorization code id must not be empty.")
	}
	if len(permissions) == 0 {
		return nil, ErrInvalidArgument("Authorization code must carry at least one permission.")
	}
	return &AuthorizationCode{
		ID:          id,
		ExpiresAt:   expiresAt,
		Used:        false,
		Permissions: append([]PermissionID(nil), permissions...),
	}, nil
}

// Use consumes the grant. Expired or already-consumed grants cannot be used;
// the transition to Used is irreversible.
func (c *AuthorizationCode) Use(now time.Time) error {
	if now.After(c.ExpiresAt) {
		return ErrInvalidOperation("Authorization code has expired.")
	}
	if c.Used {
		return ErrInvalidOperation("Authorization code was used.")
	}
	c.Used = true
	return nil
}

// Clone returns an independent copy
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	cp := *c
	cp.Permissions = append([]PermissionID(nil), c.Permissions...)
	return &cp
}
