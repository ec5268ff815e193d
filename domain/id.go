// Package domain holds the entities, identifiers, and invariants of the
// authorization engine: applications, authorization codes, tokens, users,
// roles, and permissions. Entities expose behavior, not raw data mutation.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ApplicationID identifies a registered client application
type ApplicationID struct {
	value uuid.UUID
}

// NewApplicationID generates a fresh application identifier
func NewApplicationID() ApplicationID {
	return ApplicationID{value: uuid.New()}
}

// ParseApplicationID parses and validates an application identifier
func ParseApplicationID(s string) (ApplicationID, error) {
	v, err := uuid.Parse(s)
	if err != nil || v == uuid.Nil {
		return ApplicationID{}, ErrInvalidArgument("Application id must be a non-nil UUID.")
	}
	return ApplicationID{value: v}, nil
}

func (id ApplicationID) String() string { return id.value.String() }

// IsZero reports whether the identifier is unset
func (id ApplicationID) IsZero() bool { return id.value == uuid.Nil }

// UserID identifies a principal
type UserID struct {
	value uuid.UUID
}

// NewUserID generates a fresh user identifier
func NewUserID() UserID {
	return UserID{value: uuid.New()}
}

// ParseUserID parses and validates a user identifier
func ParseUserID(s string) (UserID, error) {
	v, err := uuid.Parse(s)
	if err != nil || v == uuid.Nil {
		return UserID{}, ErrInvalidArgument("User id must be a non-nil UUID.")
	}
	return UserID{value: v}, nil
}

func (id UserID) String() string { return id.value.String() }

// IsZero reports whether the identifier is unset
func (id UserID) IsZero() bool { return id.value == uuid.Nil }

// RoleID identifies a named permission bundle
type RoleID struct {
	value uuid.UUID
}

// NewRoleID generates a fresh role identifier
func NewRoleID() RoleID {
	return RoleID{value: uuid.New()}
}

// ParseRoleID parses and validates a role identifier
func ParseRoleID(s string) (RoleID, error) {
	v, err := uuid.Parse(s)
	if err != nil || v == uuid.Nil {
		return RoleID{}, ErrInvalidArgument("Role id must be a non-nil UUID.")
	}
	return RoleID{value: v}, nil
}

func (id RoleID) String() string { return id.value.String() }

// IsZero reports whether the identifier is unset
func (id RoleID) IsZero() bool { return id.value == uuid.Nil }

// ResourceID names a protected resource. Only alphanumeric names are valid.
type ResourceID struct {
	value string
}

// NewResourceID validates and wraps a resource name
func NewResourceID(name string) (ResourceID, error) {
	if !isAlphanumeric(name) {
		return ResourceID{}, ErrInvalidArgument("Resource id must be a non-empty alphanumeric string.")
	}
	return ResourceID{value: name}, nil
}

func (id ResourceID) String() string { return id.value }

// IsZero reports whether the identifier is unset
func (id ResourceID) IsZero() bool { return id.value == "" }

// PermissionID is a (resource, action) pair a principal may be granted.
// Its canonical string form is "Resource.Name".
type PermissionID struct {
	resource ResourceID
	name     string
}

// NewPermissionID validates and builds a permission identifier
func NewPermissionID(resource ResourceID, name string) (PermissionID, error) {
	if resource.IsZero() {
		return PermissionID{}, ErrInvalidArgument("Permission resource must not be empty.")
	}
	if !isAlphanumeric(name) {
		return PermissionID{}, ErrInvalidArgument("Permission name must be a non-empty alphanumeric string.")
	}
	return PermissionID{resource: resource, name: name}, nil
}

// ParsePermissionID parses the canonical "Resource.Name" form. Both components
// must be non-empty and alphanumeric.
func ParsePermissionID(s string) (PermissionID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return PermissionID{}, ErrInvalidArgument(fmt.Sprintf("Permission %q must have exactly two dot-separated components.", s))
	}
	resource, err := NewResourceID(parts[0])
	if err != nil {
		return PermissionID{}, err
	}
	return NewPermissionID(resource, parts[1])
}

// Resource returns the protected resource component
func (p PermissionID) Resource() ResourceID { return p.resource }

// Name returns the action component
func (p PermissionID) Name() string { return p.name }

func (p PermissionID) String() string {
	return fmt.Sprintf("%s.%s", p.resource, p.name)
}

// IsZero reports whether the identifier is unset
func (p PermissionID) IsZero() bool { return p.resource.IsZero() && p.name == "" }

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
