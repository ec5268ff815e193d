// Package storage defines the repository and unit-of-work interfaces the
// engine persists through. One repository per aggregate; a transaction scope
// groups several repository calls into an all-or-nothing commit.
//
// Implementations must give Complete at-most-one-winner semantics: when two
// scopes read the same record and both try to commit a change to it, exactly
// one commit succeeds and the other fails with ErrConflict. The engine relies
// on this for single-use authorization codes and refresh token rotation.
package storage

import (
	"context"
	"errors"

	"github.com/keygrant/keygrant/domain"
)

// Sentinel errors returned by stores
var (
	// ErrApplicationNotFound indicates the application does not exist
	ErrApplicationNotFound = errors.New("application not found")

	// ErrAuthorizationCodeNotFound indicates the authorization code does not exist
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrUserNotFound indicates the user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrRoleNotFound indicates the role does not exist
	ErrRoleNotFound = errors.New("role not found")

	// ErrRefreshTokenNotFound indicates the refresh token does not exist
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrAlreadyExists indicates a save collided with an existing record
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict indicates a transaction scope lost a concurrent commit race
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrScopeClosed indicates a completed or closed scope was used again
	ErrScopeClosed = errors.New("transaction scope is closed")
)

// ApplicationStore persists Application aggregates
type ApplicationStore interface {
	// SaveApplication stores a new application
	SaveApplication(ctx context.Context, app *domain.Application) error

	// GetApplication retrieves an application by id
	GetApplication(ctx context.Context, id domain.ApplicationID) (*domain.Application, error)

	// UpdateApplication replaces an existing application
	UpdateApplication(ctx context.Context, app *domain.Application) error
}

// AuthorizationCodeStore persists issued authorization codes by their hashed id
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode stores a new authorization code
	SaveAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code by its hashed id
	GetAuthorizationCode(ctx context.Context, id domain.AuthorizationCodeID) (*domain.AuthorizationCode, error)

	// UpdateAuthorizationCode replaces an existing authorization code
	UpdateAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error
}

// UserStore persists User aggregates
type UserStore interface {
	// SaveUser stores a new user
	SaveUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by id
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)

	// GetUserByEmail retrieves a user by email address
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateUser replaces an existing user
	UpdateUser(ctx context.Context, user *domain.User) error
}

// RoleStore persists roles
type RoleStore interface {
	// SaveRole stores a new role
	SaveRole(ctx context.Context, role *domain.Role) error

	// GetRole retrieves a role by id
	GetRole(ctx context.Context, id domain.RoleID) (*domain.Role, error)
}

// RefreshTokenStore persists issued refresh tokens keyed by their unique
// token id. Implementations may encrypt token values at rest.
type RefreshTokenStore interface {
	// SaveRefreshToken stores a new refresh token
	SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error

	// GetRefreshToken retrieves a refresh token by its unique token id
	GetRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshToken, error)

	// UpdateRefreshToken replaces an existing refresh token
	UpdateRefreshToken(ctx context.Context, token *domain.RefreshToken) error
}

// TransactionScope stages repository calls until Complete commits them
// together. Closing a scope without completing it rolls everything back.
type TransactionScope interface {
	// Applications returns the scoped application repository
	Applications() ApplicationStore

	// AuthorizationCodes returns the scoped authorization code repository
	AuthorizationCodes() AuthorizationCodeStore

	// Users returns the scoped user repository
	Users() UserStore

	// Roles returns the scoped role repository
	Roles() RoleStore

	// RefreshTokens returns the scoped refresh token repository
	RefreshTokens() RefreshTokenStore

	// Complete atomically commits every staged write. Returns ErrConflict if
	// any record read in this scope changed since it was read.
	Complete(ctx context.Context) error

	// Close releases the scope. A scope closed without Complete discards all
	// staged writes. Close after Complete is a no-op.
	Close() error
}

// Store combines the per-aggregate repositories with scope creation
type Store interface {
	ApplicationStore
	AuthorizationCodeStore
	UserStore
	RoleStore
	RefreshTokenStore

	// BeginScope opens a new transaction scope
	BeginScope(ctx context.Context) (TransactionScope, error)
}
