package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/storage"
)

// scope is an optimistic transaction scope over the store. Reads go to the
// store and record the version seen; writes are staged locally. Complete
// re-checks every recorded version under the store lock and applies the
// staged writes only if nothing moved underneath.
type scope struct {
	store *Store

	mu     sync.Mutex
	reads  map[string]uint64 // key -> version seen (0 = absent)
	writes map[string]*stagedWrite
	order  []string // commit order of staged writes
	closed bool
}

type stagedWrite struct {
	value any
	isNew bool
}

// Compile-time interface check
var _ storage.TransactionScope = (*scope)(nil)

// BeginScope opens a new transaction scope
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

// get reads through the scope: staged writes win, otherwise the store value is
// returned and the version seen is recorded
func (sc *scope) get(k string) (any, bool, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil, false, storage.ErrScopeClosed
	}

	if w, ok := sc.writes[k]; ok {
		return w.value, true, nil
	}

	sc.store.mu.RLock()
	rec, ok := sc.store.records[k]
	sc.store.mu.RUnlock()

	if !ok {
		if _, seen := sc.reads[k]; !seen {
			sc.reads[k] = 0
		}
		return nil, false, nil
	}
	if _, seen := sc.reads[k]; !seen {
		sc.reads[k] = rec.version
	}
	return rec.value, true, nil
}

// stage buffers a write in the scope
func (sc *scope) stage(k string, value any, isNew bool) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return storage.ErrScopeClosed
	}

	if w, ok := sc.writes[k]; ok {
		// Overwrite an earlier staged write, keeping its newness
		w.value = value
		return nil
	}
	sc.writes[k] = &stagedWrite{value: value, isNew: isNew}
	sc.order = append(sc.order, k)
	return nil
}

// Complete atomically commits every staged write
func (sc *scope) Complete(_ context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return storage.ErrScopeClosed
	}
	sc.closed = true

	sc.store.mu.Lock()
	defer sc.store.mu.Unlock()

	// Validate every version seen in this scope
	for k, version := range sc.reads {
		cur, ok := sc.store.records[k]
		switch {
		case !ok && version != 0:
			return fmt.Errorf("%w: %s", storage.ErrConflict, k)
		case ok && cur.version != version:
			return fmt.Errorf("%w: %s", storage.ErrConflict, k)
		}
	}

	// Validate and prepare every staged write before touching any record, so a
	// late failure cannot leave a partial commit behind
	prepared := make(map[string]any, len(sc.writes))
	pendingEmails := make(map[string]bool)
	for _, k := range sc.order {
		w := sc.writes[k]
		_, exists := sc.store.records[k]
		if w.isNew && exists {
			return fmt.Errorf("%w: %s", storage.ErrConflict, k)
		}
		if !w.isNew && !exists {
			return fmt.Errorf("%w: %s", storage.ErrConflict, k)
		}

		value := w.value
		if token, ok := value.(*domain.RefreshToken); ok {
			stored, err := sc.store.sealToken(token)
			if err != nil {
				return err
			}
			value = stored
		}
		if user, ok := value.(*domain.User); ok && w.isNew {
			if _, taken := sc.store.usersByEmail[user.Email]; taken || pendingEmails[user.Email] {
				return fmt.Errorf("%w: email %s", storage.ErrConflict, user.Email)
			}
			pendingEmails[user.Email] = true
		}
		prepared[k] = value
	}

	// Apply in staging order
	for _, k := range sc.order {
		var version uint64 = 1
		if cur, exists := sc.store.records[k]; exists {
			version = cur.version + 1
		}
		if user, ok := prepared[k].(*domain.User); ok && sc.writes[k].isNew {
			sc.store.usersByEmail[user.Email] = user.ID.String()
		}
		sc.store.records[k] = &record{value: prepared[k], version: version}
	}
	return nil
}

// Close discards the scope. Staged writes of an uncompleted scope are dropped.
func (sc *scope) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.closed = true
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
	return r.sc.stage(key(tableApplications, app.ID.String()), app.Clone(), true)
}

func (r scopeApplications) GetApplication(_ context.Context, id domain.ApplicationID) (*domain.Application, error) {
	v, ok, err := r.sc.get(key(tableApplications, id.String()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, id)
	}
	return v.(*domain.Application).Clone(), nil
}

func (r scopeApplications) UpdateApplication(_ context.Context, app *domain.Application) error {
	if app == nil || app.ID.IsZero() {
		return fmt.Errorf("invalid application")
	}
	return r.sc.stage(key(tableApplications, app.ID.String()), app.Clone(), false)
}

type scopeCodes struct{ sc *scope }

func (r scopeCodes) SaveAuthorizationCode(_ context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	return r.sc.stage(key(tableCodes, code.ID.String()), code.Clone(), true)
}

func (r scopeCodes) GetAuthorizationCode(_ context.Context, id domain.AuthorizationCodeID) (*domain.AuthorizationCode, error) {
	v, ok, err := r.sc.get(key(tableCodes, id.String()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w", storage.ErrAuthorizationCodeNotFound)
	}
	return v.(*domain.AuthorizationCode).Clone(), nil
}

func (r scopeCodes) UpdateAuthorizationCode(_ context.Context, code *domain.AuthorizationCode) error {
	if code == nil || code.ID.IsZero() {
		return fmt.Errorf("invalid authorization code")
	}
	return r.sc.stage(key(tableCodes, code.ID.String()), code.Clone(), false)
}

type scopeUsers struct{ sc *scope }

func (r scopeUsers) SaveUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	return r.sc.stage(key(tableUsers, user.ID.String()), user.Clone(), true)
}

func (r scopeUsers) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	v, ok, err := r.sc.get(key(tableUsers, id.String()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	}
	return v.(*domain.User).Clone(), nil
}

func (r scopeUsers) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	// Email lookups resolve through the live index; the record read itself is
	// version-tracked via GetUser
	r.sc.store.mu.RLock()
	id, ok := r.sc.store.usersByEmail[email]
	r.sc.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: email", storage.ErrUserNotFound)
	}
	userID, err := domain.ParseUserID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: email", storage.ErrUserNotFound)
	}
	return r.GetUser(ctx, userID)
}

func (r scopeUsers) UpdateUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	return r.sc.stage(key(tableUsers, user.ID.String()), user.Clone(), false)
}

type scopeRoles struct{ sc *scope }

func (r scopeRoles) SaveRole(_ context.Context, role *domain.Role) error {
	if role == nil || role.ID.IsZero() {
		return fmt.Errorf("invalid role")
	}
	return r.sc.stage(key(tableRoles, role.ID.String()), role.Clone(), true)
}

func (r scopeRoles) GetRole(_ context.Context, id domain.RoleID) (*domain.Role, error) {
	v, ok, err := r.sc.get(key(tableRoles, id.String()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRoleNotFound, id)
	}
	return v.(*domain.Role).Clone(), nil
}

type scopeTokens struct{ sc *scope }

func (r scopeTokens) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	return r.sc.stage(key(tableRefreshTokens, token.ID.ID), token.Clone(), true)
}

func (r scopeTokens) GetRefreshToken(_ context.Context, tokenID string) (*domain.RefreshToken, error) {
	v, ok, err := r.sc.get(key(tableRefreshTokens, tokenID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w", storage.ErrRefreshTokenNotFound)
	}
	switch t := v.(type) {
	case *domain.RefreshToken:
		// Staged in this scope, not yet sealed
		return t.Clone(), nil
	case *storedToken:
		r.sc.store.mu.RLock()
		defer r.sc.store.mu.RUnlock()
		return r.sc.store.openToken(t)
	default:
		return nil, fmt.Errorf("%w", storage.ErrRefreshTokenNotFound)
	}
}

func (r scopeTokens) UpdateRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	if token == nil || token.ID.IsZero() {
		return fmt.Errorf("invalid refresh token")
	}
	return r.sc.stage(key(tableRefreshTokens, token.ID.ID), token.Clone(), false)
}
