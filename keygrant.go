// Package keygrant implements an authorization and token engine built around
// the authorization-code grant: applications obtain short-lived single-use
// codes and exchange them for signed access and refresh token pairs, refresh
// tokens rotate on every use, and permissions resolve through users' direct
// grants and roles.
//
// The package is transport-agnostic. Embedders call the engine from their own
// HTTP handlers, RPC servers, or CLIs; nothing here listens on a socket.
package keygrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keygrant/keygrant/events"
	"github.com/keygrant/keygrant/instrumentation"
	"github.com/keygrant/keygrant/security"
	"github.com/keygrant/keygrant/server"
	"github.com/keygrant/keygrant/storage"
	"github.com/keygrant/keygrant/storage/memory"
	"github.com/keygrant/keygrant/token"
)

// Engine is the top-level entry point. It bundles the crypto primitives, the
// token codec, and the orchestration server behind one constructor.
type Engine struct {
	*server.Server

	store   storage.Store
	limiter *security.RateLimiter
	inst    *instrumentation.Instrumentation
}

// New creates an engine from the given configuration
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := token.NewCodec(cfg.SigningKey, cfg.Issuer, cfg.Audience)
	if err != nil {
		return nil, err
	}

	secrets, err := security.NewSecretKeyCipher(security.SecretKeyAESCBC, cfg.SecretKeyEncryptionKey)
	if err != nil {
		return nil, err
	}

	hasher, err := security.NewPasswordHasher(security.PasswordPBKDF2SHA256)
	if err != nil {
		return nil, err
	}

	store := cfg.Store
	if store == nil {
		mem := memory.New()
		mem.SetLogger(logger)
		store = mem
	}
	if len(cfg.TokenValueEncryptionKey) != 0 {
		cipher, err := security.NewTokenValueCipher(security.TokenValueAESCBC, cfg.TokenValueEncryptionKey)
		if err != nil {
			return nil, err
		}
		enc, ok := store.(interface {
			SetTokenValueCipher(*security.TokenValueCipher)
		})
		if !ok {
			return nil, fmt.Errorf("keygrant: store %T does not support token value encryption at rest", store)
		}
		enc.SetTokenValueCipher(cipher)
	}

	srv, err := server.New(store, codec, secrets, hasher, &server.Config{
		AuthorizationCodeLifetime: cfg.AuthorizationCodeLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	srv.SetEventSink(events.NewSlogSink(logger))
	srv.SetAuditor(security.NewAuditor(logger, cfg.EnableAudit))

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	})
	if err != nil {
		return nil, err
	}
	srv.SetMetrics(inst.Metrics())

	eng := &Engine{Server: srv, store: store, inst: inst}

	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = cfg.RateLimitPerSecond * 2
		}
		eng.limiter = security.NewRateLimiter(cfg.RateLimitPerSecond, burst, logger)
		srv.SetRateLimiter(eng.limiter)
	}

	return eng, nil
}

// Store returns the engine's storage backend
func (e *Engine) Store() storage.Store {
	return e.store
}

// Instrumentation returns the engine's telemetry components, so embedders can
// reach the meter and tracer providers.
func (e *Engine) Instrumentation() *instrumentation.Instrumentation {
	return e.inst
}

// Close releases the engine's background resources. The storage backend is
// the caller's to close when it was supplied through the configuration.
func (e *Engine) Close() {
	if e.limiter != nil {
		e.limiter.Stop()
	}
	if mem, ok := e.store.(*memory.Store); ok {
		mem.Stop()
	}
	_ = e.inst.Shutdown(context.Background())
}
