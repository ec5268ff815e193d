package domain

// Role is a named permission bundle users can assume
type Role struct {
	ID          RoleID
	Name        string
	Description string
	Permissions []PermissionID
}

// NewRole validates and builds a role
func NewRole(id RoleID, name, description string, permissions []PermissionID) (*Role, error) {
	if id.IsZero() {
		return nil, ErrInvalidArgument("Role id must not be empty.")
	}
	if name == "" {
		return nil, ErrInvalidArgument("Role name must not be empty.")
	}
	if description == "" {
		return nil, ErrInvalidArgument("Role description must not be empty.")
	}
	return &Role{
		ID:          id,
		Name:        name,
		Description: description,
		Permissions: append([]PermissionID(nil), permissions...),
	}, nil
}

// HasPermission reports whether the bundle includes the permission
func (r *Role) HasPermission(p PermissionID) bool {
	for _, held := range r.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// Clone returns an independent copy
func (r *Role) Clone() *Role {
	c := *r
	c.Permissions = append([]PermissionID(nil), r.Permissions...)
	return &c
}
