package keygrant

import (
	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/server"
)

// Re-exported domain identifiers and aggregates, so embedders only import
// the root package for the common path.
type (
	ApplicationID = domain.ApplicationID
	UserID        = domain.UserID
	RoleID        = domain.RoleID
	ResourceID    = domain.ResourceID
	PermissionID  = domain.PermissionID
	Code          = domain.Code

	Application = domain.Application
	User        = domain.User
	Role        = domain.Role
	TokenID     = domain.TokenID

	// TokenPair is the result of a code exchange or a refresh
	TokenPair = server.TokenPair
)

// Identifier constructors and parsers
var (
	NewApplicationID = domain.NewApplicationID
	NewUserID        = domain.NewUserID
	NewRoleID        = domain.NewRoleID
	NewResourceID    = domain.NewResourceID
	NewPermissionID  = domain.NewPermissionID

	ParseApplicationID = domain.ParseApplicationID
	ParseUserID        = domain.ParseUserID
	ParseRoleID        = domain.ParseRoleID
	ParsePermissionID  = domain.ParsePermissionID
	ParseCode          = domain.ParseCode
)
