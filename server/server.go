// Package server implements the authorization engine's orchestration: the
// authorization-code exchange protocol, refresh token rotation, account and
// role management, and permission resolution. It drives the domain aggregates
// against a storage.Store, using transaction scopes for the operations that
// must commit all-or-nothing.
package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/events"
	"github.com/keygrant/keygrant/instrumentation"
	"github.com/keygrant/keygrant/security"
	"github.com/keygrant/keygrant/storage"
)

// TokenCodec both mints and validates token values
type TokenCodec interface {
	domain.TokenEncoder

	// Decode validates a token value and rebuilds its token id
	Decode(value string) (domain.TokenID, error)
}

// Server coordinates the authorization and token protocols
type Server struct {
	store   storage.Store
	codec   TokenCodec
	secrets *security.SecretKeyCipher
	hasher  *security.PasswordHasher
	sink    events.Sink

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter
	Logger      *slog.Logger
	Config      *Config

	metrics *instrumentation.Metrics
	now     func() time.Time
}

// New creates a new authorization server
func New(
	store storage.Store,
	codec TokenCodec,
	secrets *security.SecretKeyCipher,
	hasher *security.PasswordHasher,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("secret key cipher is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config)

	return &Server{
		store:   store,
		codec:   codec,
		secrets: secrets,
		hasher:  hasher,
		sink:    events.NopSink{},
		Logger:  logger,
		Config:  config,
		now:     time.Now,
	}, nil
}

// SetEventSink sets the domain event sink
func (s *Server) SetEventSink(sink events.Sink) {
	if sink != nil {
		s.sink = sink
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the per-application rate limiter for credential exchanges
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetMetrics sets the instrumentation metrics recorder
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.metrics = m
}

// SetClock overrides the server's time source (used by tests)
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// safeTruncate truncates a string for logging without panicking on short input
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
