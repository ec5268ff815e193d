// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
//
// Every record carries a version. A transaction scope remembers the version of
// everything it read and stages its writes; Complete re-checks the versions
// under the store lock before applying anything, so of two scopes racing over
// the same record exactly one commits and the other fails with ErrConflict.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/security"
	"github.com/keygrant/keygrant/storage"
)

const (
	tableApplications  = "app"
	tableCodes         = "code"
	tableUsers         = "user"
	tableRoles         = "role"
	tableRefreshTokens = "refresh"
)

type record struct {
	value   any
	version uint64
}

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu           sync.RWMutex
	records      map[string]*record
	usersByEmail map[string]string // email -> user id

	// Optional token-value encryption at rest
	cipher *security.TokenValueCipher

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store sweeping expired records at
// the given interval. A non-positive interval disables the sweep.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		records:         make(map[string]*record),
		usersByEmail:    make(map[string]string),
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	if interval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// SetLogger sets the store's logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetTokenValueCipher enables encryption of refresh token values at rest
func (s *Store) SetTokenValueCipher(cipher *security.TokenValueCipher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = cipher
}

// Stop terminates the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func key(table, id string) string {
	return table + ":" + id
}

// ============================================================
// Direct (non-transactional) repository methods
// ============================================================

// SaveApplication stores a new application
func (s *Store) SaveApplication(_ context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key(tableApplications, app.ID.String()), app.Clone(), true)
}

// GetApplication retrieves an application by id
func (s *Store) GetApplication(_ context.Context, id domain.ApplicationID) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(tableApplications, id.String())]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, id)
	}
	return rec.value.(*domain.Application).Clone(), nil
}

// UpdateApplication replaces an existing application
func (s *Store) UpdateApplication(_ context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key(tableApplications, app.ID.String()), app.Clone(), false)
}

// SaveAuthorizationCode stores a new authorization code
func (s *Store) SaveAuthorizationCode(_ context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key(tableCodes, code.ID.String()), code.Clone(), true)
}

// GetAuthorizationCode retrieves an authorization code by its hashed id
func (s *Store) GetAuthorizationCode(_ context.Context, id domain.AuthorizationCodeID) (*domain.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(tableCodes, id.String())]
	if !ok {
		return nil, fmt.Errorf("%w", storage.ErrAuthorizationCodeNotFound)
	}
	return rec.value.(*domain.AuthorizationCode).Clone(), nil
}

// UpdateAuthorizationCode replaces an existing authorization code
func (s *Store) UpdateAuthorizationCode(_ context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key(tableCodes, code.ID.String()), code.Clone(), false)
}

// SaveUser stores a new user
func (s *Store) SaveUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usersByEmail[user.Email]; taken {
		return fmt.Errorf("%w: email %s", storage.ErrAlreadyExists, user.Email)
	}
	if err := s.put(key(tableUsers, user.ID.String()), user.Clone(), true); err != nil {
		return err
	}
	s.usersByEmail[user.Email] = user.ID.String()
	return nil
}

// GetUser retrieves a user by id
func (s *Store) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(tableUsers, id.String())]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	}
	return rec.value.(*domain.User).Clone(), nil
}

// GetUserByEmail retrieves a user by email address
func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, fmt.Errorf("%w: email", storage.ErrUserNotFound)
	}
	rec, ok := s.records[key(tableUsers, id)]
	if !ok {
		return nil, fmt.Errorf("%w: email", storage.ErrUserNotFound)
	}
	return rec.value.(*domain.User).Clone(), nil
}

// UpdateUser replaces an existing user
func (s *Store) UpdateUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key(tableUsers, user.ID.String()), user.Clone(), false)
}

// SaveRole stores a new role
func (s *Store) SaveRole(_ context.Context, role *domain.Role) error {
	if role == nil || role.ID.IsZero() {
		return fmt.Errorf("invalid role")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key(tableRoles, role.ID.String()), role.Clone(), true)
}

// GetRole retrieves a role by id
func (s *Store) GetRole(_ context.Context, id domain.RoleID) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(tableRoles, id.String())]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRoleNotFound, id)
	}
	return rec.value.(*domain.Role).Clone(), nil
}

// SaveRefreshToken stores a new refresh token
func (s *Store) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.sealToken(token)
	if err != nil {
		return err
	}
	return s.put(key(tableRefreshTokens, token.ID.ID), stored, true)
}

// GetRefreshToken retrieves a refresh token by its unique token id
func (s *Store) GetRefreshToken(_ context.Context, tokenID string) (*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(tableRefreshTokens, tokenID)]
	if !ok {
		return nil, fmt.Errorf("%w", storage.ErrRefreshTokenNotFound)
	}
	return s.openToken(rec.value.(*storedToken))
}

// UpdateRefreshToken replaces an existing refresh token
func (s *Store) UpdateRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.sealToken(token)
	if err != nil {
		return err
	}
	return s.put(key(tableRefreshTokens, token.ID.ID), stored, false)
}

// put writes a record under the store lock, bumping its version.
// When mustBeNew is set, an existing record is a collision.
func (s *Store) put(k string, value any, mustBeNew bool) error {
	cur, exists := s.records[k]
	if mustBeNew && exists {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, k)
	}
	if !mustBeNew && !exists {
		return notFoundFor(k)
	}
	var version uint64 = 1
	if exists {
		version = cur.version + 1
	}
	s.records[k] = &record{value: value, version: version}
	return nil
}

func notFoundFor(k string) error {
	switch {
	case strings.HasPrefix(k, tableApplications+":"):
		return storage.ErrApplicationNotFound
	case strings.HasPrefix(k, tableCodes+":"):
		return storage.ErrAuthorizationCodeNotFound
	case strings.HasPrefix(k, tableUsers+":"):
		return storage.ErrUserNotFound
	case strings.HasPrefix(k, tableRoles+":"):
		return storage.ErrRoleNotFound
	default:
		return storage.ErrRefreshTokenNotFound
	}
}

// storedToken is the at-rest form of a refresh token: the token value is
// replaced by its encrypted container when a cipher is configured
type storedToken struct {
	token          *domain.RefreshToken
	encryptedValue domain.EncryptedTokenValue
}

func (s *Store) sealToken(token *domain.RefreshToken) (*storedToken, error) {
	stored := &storedToken{token: token.Clone()}
	if s.cipher != nil {
		enc, err := s.cipher.Encrypt(stored.token.ID.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt token value: %w", err)
		}
		stored.encryptedValue = enc
		stored.token.ID.Value = ""
	}
	return stored, nil
}

func (s *Store) openToken(stored *storedToken) (*domain.RefreshToken, error) {
	token := stored.token.Clone()
	if len(stored.encryptedValue) > 0 {
		if s.cipher == nil {
			return nil, fmt.Errorf("refresh token is encrypted but no cipher is configured")
		}
		value, err := s.cipher.Decrypt(stored.encryptedValue)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token value: %w", err)
		}
		token.ID.Value = value
	}
	return token, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired sweeps expired authorization codes and refresh tokens
func (s *Store) cleanupExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.records {
		switch v := rec.value.(type) {
		case *domain.AuthorizationCode:
			if now.After(v.ExpiresAt) {
				delete(s.records, k)
				removed++
			}
		case *storedToken:
			if now.After(v.token.ID.ExpiresAt) {
				delete(s.records, k)
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Debug("Swept expired records", "removed", removed, "remaining", len(s.records))
	}
}
