// Package token encodes token claims into signed compact values and validates
// them on the way back in. Every decode failure, from a bad signature to a
// malformed permission claim, surfaces as the same invalid-token error so
// callers cannot probe which check failed.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keygrant/keygrant/domain"
)

// Claim names beyond the registered set
const (
	claimTokenType   = "tokenType"
	claimPermissions = "permissions"
)

type claims struct {
	jwt.RegisteredClaims
	TokenType   string `json:"tokenType"`
	Permissions string `json:"permissions"`
}

// Codec signs and validates token values with HMAC-SHA256. Issuer and
// audience are fixed at construction, embedded at encode time, and re-checked
// at decode time.
type Codec struct {
	signingKey []byte
	issuer     string
	audience   string
}

// NewCodec creates a codec. The signing key must not be empty.
func NewCodec(signingKey []byte, issuer, audience string) (*Codec, error) {
	if len(signingKey) == 0 {
		return nil, domain.ErrInvalidArgument("Token signing key must not be empty.")
	}
	if issuer == "" || audience == "" {
		return nil, domain.ErrInvalidArgument("Token issuer and audience must not be empty.")
	}
	return &Codec{signingKey: signingKey, issuer: issuer, audience: audience}, nil
}

// Compile-time check: the codec is the engine's token encoder
var _ domain.TokenEncoder = (*Codec)(nil)

// Encode mints a signed token id for the application, type, permission set,
// and expiry
func (c *Codec) Encode(applicationID domain.ApplicationID, tokenType domain.TokenType, permissions []domain.PermissionID, expiresAt time.Time) (domain.TokenID, error) {
	if applicationID.IsZero() {
		return domain.TokenID{}, domain.ErrInvalidArgument("Application id must not be empty.")
	}
	if len(permissions) == 0 {
		return domain.TokenID{}, domain.ErrInvalidArgument("Token must carry at least one permission.")
	}
	if expiresAt.IsZero() {
		return domain.TokenID{}, domain.ErrInvalidArgument("Token expiration must not be empty.")
	}

	names := make([]string, len(permissions))
	for i, p := range permissions {
		if p.IsZero() {
			return domain.TokenID{}, domain.ErrInvalidArgument("Token permission must not be empty.")
		}
		names[i] = p.String()
	}

	id := uuid.NewString()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   applicationID.String(),
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType:   tokenType.Name(),
		Permissions: strings.Join(names, " "),
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.signingKey)
	if err != nil {
		return domain.TokenID{}, err
	}

	return domain.TokenID{
		ID:            id,
		ApplicationID: applicationID,
		Type:          tokenType,
		Permissions:   append([]domain.PermissionID(nil), permissions...),
		ExpiresAt:     expiresAt,
		Value:         value,
	}, nil
}

// Decode validates a token value's signature and claims and rebuilds its
// token id. Expiration is deliberately not enforced here; the token entities'
// Verify methods own that check, so expired values still decode.
func (c *Codec) Decode(value string) (domain.TokenID, error) {
	if value == "" {
		return domain.TokenID{}, errInvalid()
	}

	var cl claims
	parsed, err := jwt.ParseWithClaims(value, &cl,
		func(t *jwt.Token) (any, error) { return c.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return domain.TokenID{}, errInvalid()
	}

	if cl.Issuer != c.issuer {
		return domain.TokenID{}, errInvalid()
	}
	if len(cl.Audience) != 1 || cl.Audience[0] != c.audience {
		return domain.TokenID{}, errInvalid()
	}
	if cl.ID == "" {
		return domain.TokenID{}, errInvalid()
	}
	if cl.ExpiresAt == nil {
		return domain.TokenID{}, errInvalid()
	}

	applicationID, err := domain.ParseApplicationID(cl.Subject)
	if err != nil {
		return domain.TokenID{}, errInvalid()
	}

	tokenType, err := domain.ParseTokenType(cl.TokenType)
	if err != nil {
		return domain.TokenID{}, errInvalid()
	}

	permissions, err := parsePermissions(cl.Permissions)
	if err != nil {
		return domain.TokenID{}, errInvalid()
	}

	return domain.TokenID{
		ID:            cl.ID,
		ApplicationID: applicationID,
		Type:          tokenType,
		Permissions:   permissions,
		ExpiresAt:     cl.ExpiresAt.Time,
		Value:         value,
	}, nil
}

// parsePermissions splits the space-joined claim; each entry must be a
// well-formed "Resource.Name" pair
func parsePermissions(claim string) ([]domain.PermissionID, error) {
	if claim == "" {
		return nil, errInvalid()
	}
	parts := strings.Split(claim, " ")
	permissions := make([]domain.PermissionID, len(parts))
	for i, part := range parts {
		p, err := domain.ParsePermissionID(part)
		if err != nil {
			return nil, errInvalid()
		}
		permissions[i] = p
	}
	return permissions, nil
}

func errInvalid() *domain.Error {
	return domain.ErrInvalidToken("Token is invalid.")
}
