package keygrant

import (
	"context"
	"log/slog"
	"testing"

	"github.com/keygrant/keygrant/internal/testutil"
	"github.com/keygrant/keygrant/storage"
	"github.com/keygrant/keygrant/storage/memory"
)

func testConfig() Config {
	return Config{
		Issuer:                 "https://auth.example.com",
		Audience:               "https://api.example.com",
		SigningKey:             []byte("test-signing-key-0123456789abcdef"),
		SecretKeyEncryptionKey: testutil.TestKey(1),
		Logger:                 slog.New(slog.DiscardHandler),
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing issuer", func(c *Config) { c.Issuer = "" }},
		{"missing audience", func(c *Config) { c.Audience = "" }},
		{"missing signing key", func(c *Config) { c.SigningKey = nil }},
		{"missing secret key encryption key", func(c *Config) { c.SecretKeyEncryptionKey = nil }},
		{"short secret key encryption key", func(c *Config) { c.SecretKeyEncryptionKey = []byte("short") }},
		{"short token value encryption key", func(c *Config) { c.TokenValueEncryptionKey = []byte("short") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() accepted an invalid configuration")
			}
		})
	}
}

// opaqueStore hides the underlying store's concrete type so only the
// storage.Store methods remain visible.
type opaqueStore struct {
	storage.Store
}

func TestNewTokenValueEncryptionWithSuppliedStore(t *testing.T) {
	mem := memory.NewWithInterval(0)
	t.Cleanup(mem.Stop)

	cfg := testConfig()
	cfg.Store = mem
	cfg.TokenValueEncryptionKey = testutil.TestKey(2)

	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer engine.Close()
	if engine.Store() != mem {
		t.Error("Store() did not return the supplied store")
	}

	// Refresh tokens round-trip through the encrypted store
	ctx := context.Background()
	owner, err := engine.RegisterUser(ctx, "owner@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	permissions := lifecyclePermissions(t)
	for _, p := range permissions {
		if err := engine.GrantUserPermission(ctx, owner.ID, p); err != nil {
			t.Fatalf("GrantUserPermission() error = %v", err)
		}
	}
	app, secret, err := engine.RegisterApplication(ctx, owner.ID, "Billing Portal",
		"https://billing.example.com", "https://billing.example.com/callback")
	if err != nil {
		t.Fatalf("RegisterApplication() error = %v", err)
	}
	code, err := engine.GenerateAuthorizationCode(ctx, app.ID, app.CallbackURL, permissions)
	if err != nil {
		t.Fatalf("GenerateAuthorizationCode() error = %v", err)
	}
	pair, err := engine.GenerateTokens(ctx, app.ID, secret, app.CallbackURL, code.String())
	if err != nil {
		t.Fatalf("GenerateTokens() error = %v", err)
	}
	if _, err := engine.RefreshTokens(ctx, pair.RefreshToken, app.CallbackURL); err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
}

func TestNewTokenValueEncryptionUnsupportedStore(t *testing.T) {
	mem := memory.NewWithInterval(0)
	t.Cleanup(mem.Stop)

	cfg := testConfig()
	cfg.Store = opaqueStore{Store: mem}
	cfg.TokenValueEncryptionKey = testutil.TestKey(2)

	if _, err := New(cfg); err == nil {
		t.Error("New() accepted an encryption key for a store that cannot apply it")
	}
}

func TestEngineLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.TokenValueEncryptionKey = testutil.TestKey(2)
	cfg.RateLimitPerSecond = 100
	cfg.EnableAudit = true

	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer engine.Close()

	if engine.Store() == nil {
		t.Fatal("Store() = nil")
	}

	ctx := context.Background()
	owner, err := engine.RegisterUser(ctx, "owner@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	permissions := lifecyclePermissions(t)
	for _, p := range permissions {
		if err := engine.GrantUserPermission(ctx, owner.ID, p); err != nil {
			t.Fatalf("GrantUserPermission() error = %v", err)
		}
	}

	app, secret, err := engine.RegisterApplication(ctx, owner.ID, "Billing Portal",
		"https://billing.example.com", "https://billing.example.com/callback")
	if err != nil {
		t.Fatalf("RegisterApplication() error = %v", err)
	}

	code, err := engine.GenerateAuthorizationCode(ctx, app.ID, app.CallbackURL, permissions)
	if err != nil {
		t.Fatalf("GenerateAuthorizationCode() error = %v", err)
	}
	pair, err := engine.GenerateTokens(ctx, app.ID, secret, app.CallbackURL, code.String())
	if err != nil {
		t.Fatalf("GenerateTokens() error = %v", err)
	}

	tokenID, err := engine.VerifyAccessToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if tokenID.ApplicationID != app.ID {
		t.Errorf("ApplicationID = %v, want %v", tokenID.ApplicationID, app.ID)
	}

	rotated, err := engine.RefreshTokens(ctx, pair.RefreshToken, app.CallbackURL)
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if _, err := engine.VerifyAccessToken(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("VerifyAccessToken(rotated) error = %v", err)
	}
}

func lifecyclePermissions(t *testing.T) []PermissionID {
	t.Helper()
	read, err := ParsePermissionID("Invoices.Read")
	if err != nil {
		t.Fatalf("ParsePermissionID() error = %v", err)
	}
	return []PermissionID{read}
}
