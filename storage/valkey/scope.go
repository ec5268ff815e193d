package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/storage"
)

// scope is an optimistic transaction over the store. Reads remember the
// version of every record they touch; writes are staged locally. Complete
// hands both to a Lua script that re-checks the versions and applies the
// writes atomically on the server.
type scope struct {
	store  *Store
	reads  map[string]uint64
	writes map[string]*stagedWrite
	order  []string
	closed bool
}

type stagedWrite struct {
	doc        any
	isNew      bool
	expireAtMs int64
	indexKey   string
	indexValue string
}

// commitSpec is the per-key instruction handed to the commit script. Data is
// the record's JSON document carried as a string, so the script stores it
// verbatim without re-encoding.
type commitSpec struct {
	Expect     int64  `json:"expect"`
	Write      bool   `json:"write"`
	IsNew      bool   `json:"isNew"`
	Data       string `json:"data"`
	ExpireAtMs int64  `json:"expireAtMs"`
	Index      string `json:"index"`
	IndexValue string `json:"indexValue"`
}

// BeginScope starts a transaction scope
func (s *Store) BeginScope(_ context.Context) (storage.TransactionScope, error) {
	return &scope{
		store:  s,
		reads:  make(map[string]uint64),
		writes: make(map[string]*stagedWrite),
	}, nil
}

// Applications returns the scoped application repository
func (sc *scope) Applications() storage.ApplicationStore { return scopeApplications{sc} }

// AuthorizationCodes returns the scoped authorization code repository
func (sc *scope) AuthorizationCodes() storage.AuthorizationCodeStore { return scopeCodes{sc} }

// Users returns the scoped user repository
func (sc *scope) Users() storage.UserStore { return scopeUsers{sc} }

// Roles returns the scoped role repository
func (sc *scope) Roles() storage.RoleStore { return scopeRoles{sc} }

// RefreshTokens returns the scoped refresh token repository
func (sc *scope) RefreshTokens() storage.RefreshTokenStore { return scopeTokens{sc} }

// load reads a record through the scope, recording the observed version. A
// staged write shadows the stored record. Absent records are recorded at
// version 0 so Complete still detects a concurrent create.
func (sc *scope) load(ctx context.Context, key string, doc any, notFound error) error {
	if sc.closed {
		return storage.ErrScopeClosed
	}
	if w, ok := sc.writes[key]; ok {
		data, err := json.Marshal(w.doc)
		if err != nil {
			return fmt.Errorf("failed to marshal staged write: %w", err)
		}
		return json.Unmarshal(data, doc)
	}

	version, err := sc.store.load(ctx, key, doc, notFound)
	if err != nil {
		if err == notFound {
			sc.reads[key] = 0
		}
		return err
	}
	sc.reads[key] = version
	return nil
}

func (sc *scope) stage(key string, w *stagedWrite) error {
	if sc.closed {
		return storage.ErrScopeClosed
	}
	if _, ok := sc.writes[key]; !ok {
		sc.order = append(sc.order, key)
	}
	sc.writes[key] = w
	return nil
}

// Complete commits the scope. Every version recorded by a read must still be
// current and every create must still be absent, or nothing is applied and
// ErrConflict is returned.
func (sc *scope) Complete(ctx context.Context) error {
	if sc.closed {
		return storage.ErrScopeClosed
	}
	sc.closed = true

	if len(sc.writes) == 0 && len(sc.reads) == 0 {
		return nil
	}

	keys := make([]string, 0, len(sc.reads)+len(sc.writes))
	args := make([]string, 0, cap(keys))

	appendSpec := func(key string, spec commitSpec) error {
		data, err := json.Marshal(spec)
		if err != nil {
			return fmt.Errorf("failed to marshal commit spec: %w", err)
		}
		keys = append(keys, key)
		args = append(args, string(data))
		return nil
	}

	// Read-only keys first, then writes in staging order
	for key, version := range sc.reads {
		if _, ok := sc.writes[key]; ok {
			continue
		}
		if err := appendSpec(key, commitSpec{Expect: int64(version), Index: ""}); err != nil {
			return err
		}
	}
	for _, key := range sc.order {
		w := sc.writes[key]
		data, err := json.Marshal(w.doc)
		if err != nil {
			return fmt.Errorf("failed to marshal staged write: %w", err)
		}
		expect := int64(-1)
		if version, ok := sc.reads[key]; ok {
			expect = int64(version)
		} else if w.isNew {
			expect = 0
		}
		err = appendSpec(key, commitSpec{
			Expect:     expect,
			Write:      true,
			IsNew:      w.isNew,
			Data:       string(data),
			ExpireAtMs: w.expireAtMs,
			Index:      w.indexKey,
			IndexValue: w.indexValue,
		})
		if err != nil {
			return err
		}
	}

	result, err := sc.store.client.Do(ctx,
		sc.store.client.B().Eval().Script(luaScopeCommit).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to commit transaction scope: %w", err)
	}
	switch result {
	case "CONFLICT":
		return storage.ErrConflict
	case "EXISTS":
		return storage.ErrAlreadyExists
	}

	sc.store.logger.Debug("Committed transaction scope",
		"reads", len(sc.reads),
		"writes", len(sc.writes))
	return nil
}

// Close discards the scope. Completing first makes Close a no-op.
func (sc *scope) Close() error {
	sc.closed = true
	sc.reads = nil
	sc.writes = nil
	sc.order = nil
	return nil
}

// ============================================================
// Scoped repository views
// ============================================================

type scopeApplications struct{ sc *scope }

func (r scopeApplications) SaveApplication(_ context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	return r.sc.stage(r.sc.store.applicationKey(app.ID.String()), &stagedWrite{
		doc:   toApplicationJSON(app),
		isNew: true,
	})
}

func (r scopeApplications) GetApplication(ctx context.Context, id domain.ApplicationID) (*domain.Application, error) {
	var doc applicationJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, id)
	if err := r.sc.load(ctx, r.sc.store.applicationKey(id.String()), &doc, notFound); err != nil {
		return nil, err
	}
	return fromApplicationJSON(&doc)
}

func (r scopeApplications) UpdateApplication(_ context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	return r.sc.stage(r.sc.store.applicationKey(app.ID.String()), &stagedWrite{
		doc: toApplicationJSON(app),
	})
}

type scopeCodes struct{ sc *scope }

func (r scopeCodes) SaveAuthorizationCode(_ context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	return r.sc.stage(r.sc.store.codeKey(code.ID), &stagedWrite{
		doc:        toAuthorizationCodeJSON(code),
		isNew:      true,
		expireAtMs: code.ExpiresAt.Add(expiryGrace).UnixMilli(),
	})
}

func (r scopeCodes) GetAuthorizationCode(ctx context.Context, id domain.AuthorizationCodeID) (*domain.AuthorizationCode, error) {
	var doc authorizationCodeJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrAuthorizationCodeNotFound, safeTruncate(id.HashedCode(), idLogLength))
	if err := r.sc.load(ctx, r.sc.store.codeKey(id), &doc, notFound); err != nil {
		return nil, err
	}
	return fromAuthorizationCodeJSON(&doc)
}

func (r scopeCodes) UpdateAuthorizationCode(_ context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	return r.sc.stage(r.sc.store.codeKey(code.ID), &stagedWrite{
		doc:        toAuthorizationCodeJSON(code),
		expireAtMs: code.ExpiresAt.Add(expiryGrace).UnixMilli(),
	})
}

type scopeUsers struct{ sc *scope }

func (r scopeUsers) SaveUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	return r.sc.stage(r.sc.store.userKey(user.ID.String()), &stagedWrite{
		doc:        toUserJSON(user),
		isNew:      true,
		indexKey:   r.sc.store.userEmailKey(user.Email),
		indexValue: user.ID.String(),
	})
}

func (r scopeUsers) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var doc userJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	if err := r.sc.load(ctx, r.sc.store.userKey(id.String()), &doc, notFound); err != nil {
		return nil, err
	}
	return fromUserJSON(&doc)
}

func (r scopeUsers) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	// The email index is immutable once created, so resolving it outside
	// the version checks is safe
	user, err := r.sc.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, user.ID)
}

func (r scopeUsers) UpdateUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	return r.sc.stage(r.sc.store.userKey(user.ID.String()), &stagedWrite{
		doc: toUserJSON(user),
	})
}

type scopeRoles struct{ sc *scope }

func (r scopeRoles) SaveRole(_ context.Context, role *domain.Role) error {
	if role == nil || role.ID.IsZero() {
		return fmt.Errorf("invalid role")
	}
	return r.sc.stage(r.sc.store.roleKey(role.ID.String()), &stagedWrite{
		doc:   toRoleJSON(role),
		isNew: true,
	})
}

func (r scopeRoles) GetRole(ctx context.Context, id domain.RoleID) (*domain.Role, error) {
	var doc roleJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrRoleNotFound, id)
	if err := r.sc.load(ctx, r.sc.store.roleKey(id.String()), &doc, notFound); err != nil {
		return nil, err
	}
	return fromRoleJSON(&doc)
}

type scopeTokens struct{ sc *scope }

func (r scopeTokens) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	doc, err := r.sc.store.sealRefreshTokenJSON(token)
	if err != nil {
		return err
	}
	return r.sc.stage(r.sc.store.refreshTokenKey(token.ID.ID), &stagedWrite{
		doc:        doc,
		isNew:      true,
		expireAtMs: token.ID.ExpiresAt.Add(expiryGrace).UnixMilli(),
	})
}

func (r scopeTokens) GetRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshToken, error) {
	var doc refreshTokenJSON
	notFound := fmt.Errorf("%w: %s", storage.ErrRefreshTokenNotFound, safeTruncate(tokenID, idLogLength))
	if err := r.sc.load(ctx, r.sc.store.refreshTokenKey(tokenID), &doc, notFound); err != nil {
		return nil, err
	}
	return r.sc.store.openRefreshTokenJSON(&doc)
}

func (r scopeTokens) UpdateRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	doc, err := r.sc.store.sealRefreshTokenJSON(token)
	if err != nil {
		return err
	}
	return r.sc.stage(r.sc.store.refreshTokenKey(token.ID.ID), &stagedWrite{
		doc:        doc,
		expireAtMs: token.ID.ExpiresAt.Add(expiryGrace).UnixMilli(),
	})
}
