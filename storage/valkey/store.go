package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/security"
	"github.com/keygrant/keygrant/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "keygrant:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// expiryGrace keeps expired codes and tokens around a little longer so
	// the engine can answer "expired" instead of "not found" near the boundary
	expiryGrace = time.Minute

	// idLogLength is the number of characters to include when logging identifiers
	idLogLength = 8
)

// Config holds configuration for the Valkey storage backend
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "keygrant:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.Store
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// cipher provides optional refresh token value encryption at rest.
	// Access must be synchronized via cipherMu.
	cipher   *security.TokenValueCipher
	cipherMu sync.RWMutex
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetTokenValueCipher enables encryption of refresh token values at rest
func (s *Store) SetTokenValueCipher(cipher *security.TokenValueCipher) {
	s.cipherMu.Lock()
	defer s.cipherMu.Unlock()
	s.cipher = cipher
	if cipher != nil && s.logger != nil {
		s.logger.Info("Token value encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getCipher() *security.TokenValueCipher {
	s.cipherMu.RLock()
	defer s.cipherMu.RUnlock()
	return s.cipher
}

// ============================================================
// Key Helpers
// ============================================================

// applicationKey returns the key for an application: {prefix}app:{id}
func (s *Store) applicationKey(id string) string {
	return s.prefix + "app:" + id
}

// codeKey returns the key for an authorization code: {prefix}code:{appID}:{hash}
func (s *Store) codeKey(id domain.AuthorizationCodeID) string {
	return s.prefix + "code:" + id.String()
}

// userKey returns the key for a user: {prefix}user:{id}
func (s *Store) userKey(id string) string {
	return s.prefix + "user:" + id
}

// userEmailKey returns the secondary index key mapping an email to a user id
func (s *Store) userEmailKey(email string) string {
	return s.prefix + "user:email:" + email
}

// roleKey returns the key for a role: {prefix}role:{id}
func (s *Store) roleKey(id string) string {
	return s.prefix + "role:" + id
}

// refreshTokenKey returns the key for a refresh token: {prefix}refresh:{tokenID}
func (s *Store) refreshTokenKey(tokenID string) string {
	return s.prefix + "refresh:" + tokenID
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Records are hashes with "version" and "data" fields; the scripts only ever
// touch the version integer and the opaque data blob, so no JSON is decoded
// inside Valkey.

// luaVersionedSave creates a record only if its key does not exist yet.
//
// KEYS[1] = record key
// KEYS[2] = optional secondary index key ("" sentinel not allowed; pass 1 key when unused)
// ARGV[1] = data blob
// ARGV[2] = expiry as Unix milliseconds, or 0 for no TTL
// ARGV[3] = secondary index value, or "" when unused
//
// Returns "OK", or "EXISTS" when the record or index key is already present.
const luaVersionedSave = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 'EXISTS'
end
if ARGV[3] ~= '' and redis.call('EXISTS', KEYS[2]) == 1 then
    return 'EXISTS'
end

redis.call('HSET', KEYS[1], 'version', 1, 'data', ARGV[1])
local expireAt = tonumber(ARGV[2])
if expireAt > 0 then
    redis.call('PEXPIREAT', KEYS[1], expireAt)
end
if ARGV[3] ~= '' then
    redis.call('SET', KEYS[2], ARGV[3])
end

return 'OK'
`

// luaVersionedUpdate replaces the data of an existing record and bumps its
// version, keeping the key's TTL.
//
// KEYS[1] = record key
// ARGV[1] = data blob
//
// Returns "OK", or "NOT_FOUND" when the record does not exist.
const luaVersionedUpdate = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 'NOT_FOUND'
end

redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'data', ARGV[1])

return 'OK'
`

// luaScopeCommit validates the versions a transaction scope read and applies
// its staged writes in one atomic step.
//
// KEYS = one key per entry, reads first is not required; order matches ARGV
// ARGV[i] = JSON spec for KEYS[i]:
//
//	{
//	  "expect":     version the scope read, or -1 for no check,
//	  "write":      true when the entry stages a write,
//	  "isNew":      true when the write must create the record,
//	  "data":       data blob (when write),
//	  "expireAtMs": expiry as Unix milliseconds, or 0,
//	  "index":      secondary index key, or "",
//	  "indexValue": secondary index value
//	}
//
// Returns "OK", "CONFLICT" when any version check fails, or "EXISTS" when a
// create hits an existing record or index entry. Nothing is written unless
// every check passes.
const luaScopeCommit = `
for i = 1, #KEYS do
    local spec = cjson.decode(ARGV[i])
    local version = tonumber(redis.call('HGET', KEYS[i], 'version') or '0')
    if spec.expect >= 0 and version ~= spec.expect then
        return 'CONFLICT'
    end
    if spec.write and spec.isNew then
        if version > 0 then
            return 'EXISTS'
        end
        if spec.index ~= '' and redis.call('EXISTS', spec.index) == 1 then
            return 'EXISTS'
        end
    end
end

for i = 1, #KEYS do
    local spec = cjson.decode(ARGV[i])
    if spec.write then
        redis.call('HINCRBY', KEYS[i], 'version', 1)
        redis.call('HSET', KEYS[i], 'data', spec.data)
        if spec.expireAtMs > 0 then
            redis.call('PEXPIREAT', KEYS[i], spec.expireAtMs)
        end
        if spec.index ~= '' then
            redis.call('SET', spec.index, spec.indexValue)
        end
    end
end

return 'OK'
`

// ============================================================
// Record Access Helpers
// ============================================================

func (s *Store) save(ctx context.Context, key string, doc any, expireAt time.Time, indexKey, indexValue string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if indexKey == "" {
		// The script always takes two keys
		indexKey = key
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaVersionedSave).
			Numkeys(2).
			Key(key, indexKey).
			Arg(string(data), fmt.Sprintf("%d", unixMilli(expireAt)), indexValue).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	if result == "EXISTS" {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, key)
	}
	return nil
}

func (s *Store) load(ctx context.Context, key string, doc any, notFound error) (uint64, error) {
	values, err := s.client.Do(ctx,
		s.client.B().Hmget().Key(key).Field("version", "data").Build(),
	).ToArray()
	if err != nil {
		return 0, fmt.Errorf("failed to load record: %w", err)
	}
	if len(values) != 2 || values[0].IsNil() || values[1].IsNil() {
		return 0, notFound
	}

	version, err := values[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to parse record version: %w", err)
	}
	data, err := values[1].ToString()
	if err != nil {
		return 0, fmt.Errorf("failed to read record data: %w", err)
	}
	if err := json.Unmarshal([]byte(data), doc); err != nil {
		return 0, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return uint64(version), nil
}

func (s *Store) update(ctx context.Context, key string, doc any, notFound error) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaVersionedUpdate).
			Numkeys(1).
			Key(key).
			Arg(string(data)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if result == "NOT_FOUND" {
		return notFound
	}
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ============================================================
// Direct (non-transactional) repository methods
// ============================================================

// SaveApplication stores a new application
func (s *Store) SaveApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	if err := s.save(ctx, s.applicationKey(app.ID.String()), toApplicationJSON(app), time.Time{}, "", ""); err != nil {
		return err
	}
	s.logger.Debug("Stored application", "application_id", app.ID)
	return nil
}

// GetApplication retrieves an application by id
func (s *Store) GetApplication(ctx context.Context, id domain.ApplicationID) (*domain.Application, error) {
	var doc applicationJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, id)
	if _, err := s.load(ctx, s.applicationKey(id.String()), &doc, notFound); err != nil {
		return nil, err
	}
	return fromApplicationJSON(&doc)
}

// UpdateApplication replaces an existing application
func (s *Store) UpdateApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	notFound := fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, app.ID)
	return s.update(ctx, s.applicationKey(app.ID.String()), toApplicationJSON(app), notFound)
}

// SaveAuthorizationCode stores a new authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	err := s.save(ctx, s.codeKey(code.ID), toAuthorizationCodeJSON(code), code.ExpiresAt.Add(expiryGrace), "", "")
	if err != nil {
		return err
	}
	s.logger.Debug("Stored authorization code",
		"code_hash_prefix", safeTruncate(code.ID.HashedCode(), idLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code by its hashed id
func (s *Store) GetAuthorizationCode(ctx context.Context, id domain.AuthorizationCodeID) (*domain.AuthorizationCode, error) {
	var doc authorizationCodeJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrAuthorizationCodeNotFound, safeTruncate(id.HashedCode(), idLogLength))
	if _, err := s.load(ctx, s.codeKey(id), &doc, notFound); err != nil {
		return nil, err
	}
	return fromAuthorizationCodeJSON(&doc)
}

// UpdateAuthorizationCode replaces an existing authorization code
func (s *Store) UpdateAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	notFound := fmt.Errorf("%w: %s", storage.ErrAuthorizationCodeNotFound, safeTruncate(code.ID.HashedCode(), idLogLength))
	return s.update(ctx, s.codeKey(code.ID), toAuthorizationCodeJSON(code), notFound)
}

// SaveUser stores a new user and indexes it by email
func (s *Store) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	err := s.save(ctx, s.userKey(user.ID.String()), toUserJSON(user), time.Time{},
		s.userEmailKey(user.Email), user.ID.String())
	if err != nil {
		return err
	}
	s.logger.Debug("Stored user", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by id
func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var doc userJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	if _, err := s.load(ctx, s.userKey(id.String()), &doc, notFound); err != nil {
		return nil, err
	}
	return fromUserJSON(&doc)
}

// GetUserByEmail retrieves a user by email address
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.userEmailKey(email)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, fmt.Errorf("%w: email", storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to resolve user email: %w", err)
	}
	userID, err := domain.ParseUserID(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt user email index: %w", err)
	}
	return s.GetUser(ctx, userID)
}

// UpdateUser replaces an existing user
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	notFound := fmt.Errorf("%w: %s", storage.ErrUserNotFound, user.ID)
	return s.update(ctx, s.userKey(user.ID.String()), toUserJSON(user), notFound)
}

// SaveRole stores a new role
func (s *Store) SaveRole(ctx context.Context, role *domain.Role) error {
	if role == nil || role.ID.IsZero() {
		return fmt.Errorf("invalid role")
	}
	return s.save(ctx, s.roleKey(role.ID.String()), toRoleJSON(role), time.Time{}, "", "")
}

// GetRole retrieves a role by id
func (s *Store) GetRole(ctx context.Context, id domain.RoleID) (*domain.Role, error) {
	var doc roleJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrRoleNotFound, id)
	if _, err := s.load(ctx, s.roleKey(id.String()), &doc, notFound); err != nil {
		return nil, err
	}
	return fromRoleJSON(&doc)
}

// SaveRefreshToken stores a new refresh token, sealing its value when a
// cipher is configured
func (s *Store) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	doc, err := s.sealRefreshTokenJSON(token)
	if err != nil {
		return err
	}
	err = s.save(ctx, s.refreshTokenKey(token.ID.ID), doc, token.ID.ExpiresAt.Add(expiryGrace), "", "")
	if err != nil {
		return err
	}
	s.logger.Debug("Stored refresh token",
		"token_id_prefix", safeTruncate(token.ID.ID, idLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token by its unique token id
func (s *Store) GetRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshToken, error) {
	var doc refreshTokenJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrRefreshTokenNotFound, safeTruncate(tokenID, idLogLength))
	if _, err := s.load(ctx, s.refreshTokenKey(tokenID), &doc, notFound); err != nil {
		return nil, err
	}
	return s.openRefreshTokenJSON(&doc)
}

// UpdateRefreshToken replaces an existing refresh token
func (s *Store) UpdateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	doc, err := s.sealRefreshTokenJSON(token)
	if err != nil {
		return err
	}
	notFound := fmt.Errorf("%w: %s", storage.ErrRefreshTokenNotFound, safeTruncate(token.ID.ID, idLogLength))
	return s.update(ctx, s.refreshTokenKey(token.ID.ID), doc, notFound)
}

// safeTruncate truncates a string for logging without panicking on short input
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
