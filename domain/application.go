package domain

import (
	"net/url"
	"time"
)

// Application is the aggregate root for a registered OAuth client. It owns
// token issuance: authorization codes, access/refresh token minting, and
// refresh rotation all go through the aggregate so its invariants hold.
type Application struct {
	ID          ApplicationID
	OwnerID     UserID
	Name        string
	SecretKey   EncryptedSecretKey
	HomepageURL string
	CallbackURL string
}

// NewApplication validates and builds an application
func NewApplication(id ApplicationID, ownerID UserID, name string, secretKey EncryptedSecretKey, homepageURL, callbackURL string) (*Application, error) {
	if id.IsZero() {
		return nil, ErrInvalidArgument("Application id must not be empty.")
	}
	if ownerID.IsZero() {
		return nil, ErrInvalidArgument("Application owner must not be empty.")
	}
	if name == "" {
		return nil, ErrInvalidArgument("Application name must not be empty.")
	}
	if secretKey.IsZero() {
		return nil, ErrInvalidArgument("Application secret key must not be empty.")
	}
	if err := validateWebURL(homepageURL, "homepage"); err != nil {
		return nil, err
	}
	if err := validateWebURL(callbackURL, "callback"); err != nil {
		return nil, err
	}
	return &Application{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		SecretKey:   secretKey,
		HomepageURL: homepageURL,
		CallbackURL: callbackURL,
	}, nil
}

// RegenerateSecretKey replaces the stored ciphertext; the old one is discarded
func (a *Application) RegenerateSecretKey(secretKey EncryptedSecretKey) error {
	if secretKey.IsZero() {
		return ErrInvalidArgument("Application secret key must not be empty.")
	}
	a.SecretKey = secretKey
	return nil
}

// CreateAuthorizationCode mints a fresh grant for the given permission set.
// The returned plaintext Code is for out-of-band transmission to the client;
// only the hashed id inside the AuthorizationCode is ever persisted.
func (a *Application) CreateAuthorizationCode(permissions []PermissionID, now time.Time, lifetime time.Duration) (*AuthorizationCode, Code, error) {
	if lifetime <= 0 {
		lifetime = AuthorizationCodeLifetime
	}
	code, err := NewCode()
	if err != nil {
		return nil, Code{}, err
	}
	id, err := NewAuthorizationCodeID(code, a.ID)
	if err != nil {
		return nil, Code{}, err
	}
	ac, err := NewAuthorizationCode(id, now.Add(lifetime), permissions)
	if err != nil {
		return nil, Code{}, err
	}
	return ac, code, nil
}

// CreateAccessToken mints an access token with the type-default expiration
func (a *Application) CreateAccessToken(encoder TokenEncoder, permissions []PermissionID, now time.Time) (*AccessToken, error) {
	id, err := encoder.Encode(a.ID, TokenTypeAccess, permissions, TokenTypeAccess.ExpiresAt(now))
	if err != nil {
		return nil, err
	}
	return NewAccessToken(id)
}

// CreateRefreshToken mints a refresh token with the type-default expiration
func (a *Application) CreateRefreshToken(encoder TokenEncoder, permissions []PermissionID, now time.Time) (*RefreshToken, error) {
	id, err := encoder.Encode(a.ID, TokenTypeRefresh, permissions, TokenTypeRefresh.ExpiresAt(now))
	if err != nil {
		return nil, err
	}
	return NewRefreshToken(id)
}

// RefreshAccessToken mints a new access token against a still-valid refresh
// token owned by this application
func (a *Application) RefreshAccessToken(encoder TokenEncoder, refreshToken *RefreshToken, now time.Time) (*AccessToken, error) {
	if err := a.checkRefreshToken(refreshToken, now); err != nil {
		return nil, err
	}
	return a.CreateAccessToken(encoder, refreshToken.ID.Permissions, now)
}

// RefreshRefreshToken mints the rotation successor of a refresh token. The new
// token inherits the original expiration timestamp, so rotation never extends
// the absolute session lifetime.
func (a *Application) RefreshRefreshToken(encoder TokenEncoder, refreshToken *RefreshToken, now time.Time) (*RefreshToken, error) {
	if err := a.checkRefreshToken(refreshToken, now); err != nil {
		return nil, err
	}
	id, err := encoder.Encode(a.ID, TokenTypeRefresh, refreshToken.ID.Permissions, refreshToken.ID.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return NewRefreshToken(id)
}

func (a *Application) checkRefreshToken(refreshToken *RefreshToken, now time.Time) error {
	if refreshToken == nil {
		return ErrInvalidArgument("Refresh token must not be nil.")
	}
	if refreshToken.ID.ApplicationID != a.ID {
		return ErrInvalidToken("Wrong refresh token given.")
	}
	return refreshToken.Verify(now)
}

// Clone returns an independent copy
func (a *Application) Clone() *Application {
	c := *a
	c.SecretKey = append(EncryptedSecretKey(nil), a.SecretKey...)
	return &c
}

func validateWebURL(raw, which string) error {
	if raw == "" {
		return ErrInvalidArgument("Application " + which + " URL must not be empty.")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidArgument("Application " + which + " URL must be an absolute http or https URL.")
	}
	return nil
}
