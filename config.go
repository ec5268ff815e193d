package keygrant

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/keygrant/keygrant/security"
	"github.com/keygrant/keygrant/storage"
)

// Config holds engine configuration
type Config struct {
	// Issuer is the value stamped into every token's issuer claim (required)
	Issuer string

	// Audience is the value stamped into every token's audience claim (required)
	Audience string

	// SigningKey is the HMAC key for token signatures (required)
	SigningKey []byte

	// SecretKeyEncryptionKey is the AES key protecting application secret
	// keys at rest (required, 16 bytes)
	SecretKeyEncryptionKey []byte

	// TokenValueEncryptionKey optionally enables encryption of refresh token
	// values at rest (16 bytes when set). The store, supplied or default,
	// must support a token value cipher.
	TokenValueEncryptionKey []byte

	// Store is the storage backend. Default: in-memory store.
	Store storage.Store

	// AuthorizationCodeLifetime is the validity window for authorization
	// codes. Default: 60 seconds.
	AuthorizationCodeLifetime time.Duration

	// EnableAudit turns security audit logging on
	EnableAudit bool

	// RateLimitPerSecond is the per-application token request rate.
	// Zero disables rate limiting.
	RateLimitPerSecond int

	// RateLimitBurst is the rate limiter burst size. Default: 2x the rate.
	RateLimitBurst int

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger

	// ServiceName names the service in telemetry resources. Default: "keygrant".
	ServiceName string

	// ServiceVersion is the version stamped into telemetry resources
	ServiceVersion string
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("audience is required")
	}
	if len(c.SigningKey) == 0 {
		return fmt.Errorf("signing key is required")
	}
	if len(c.SecretKeyEncryptionKey) != security.AESKeySize {
		return fmt.Errorf("secret key encryption key must be %d bytes", security.AESKeySize)
	}
	if len(c.TokenValueEncryptionKey) != 0 && len(c.TokenValueEncryptionKey) != security.AESKeySize {
		return fmt.Errorf("token value encryption key must be %d bytes", security.AESKeySize)
	}
	return nil
}
