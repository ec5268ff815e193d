package domain

import (
	"regexp"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// User is the aggregate root for a principal. Role and permission sets are
// unique; obtain/revoke operations are symmetric and idempotency-checked, so
// performing the same transition twice is an invalid operation.
type User struct {
	ID          UserID
	Email       string
	Password    HashedPassword
	Roles       []RoleID
	Permissions []PermissionID
}

// NewUser validates and builds a user
func NewUser(id UserID, email string, password HashedPassword) (*User, error) {
	if id.IsZero() {
		return nil, ErrInvalidArgument("User id must not be empty.")
	}
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidArgument("User email is not a valid address.")
	}
	if password.IsZero() {
		return nil, ErrInvalidArgument("User password hash must not be empty.")
	}
	return &User{ID: id, Email: email, Password: password}, nil
}

// HasPermission reports whether the user directly holds the permission
func (u *User) HasPermission(p PermissionID) bool {
	for _, held := range u.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// HasRole reports whether the user has assumed the role
func (u *User) HasRole(r RoleID) bool {
	for _, held := range u.Roles {
		if held == r {
			return true
		}
	}
	return false
}

// ObtainPermission grants a direct permission. Granting a held permission is
// an invalid operation.
func (u *User) ObtainPermission(p PermissionID) error {
	if p.IsZero() {
		return ErrInvalidArgument("Permission must not be empty.")
	}
	if u.HasPermission(p) {
		return ErrInvalidOperation("User already has this permission.")
	}
	u.Permissions = append(u.Permissions, p)
	return nil
}

// RevokePermission removes a direct permission. Revoking a never-held
// permission is an invalid operation.
func (u *User) RevokePermission(p PermissionID) error {
	for i, held := range u.Permissions {
		if held == p {
			u.Permissions = append(u.Permissions[:i], u.Permissions[i+1:]...)
			return nil
		}
	}
	return ErrInvalidOperation("User does not have this permission.")
}

// AssumeRole assigns a role. Assigning a held role is an invalid operation.
func (u *User) AssumeRole(r RoleID) error {
	if r.IsZero() {
		return ErrInvalidArgument("Role id must not be empty.")
	}
	if u.HasRole(r) {
		return ErrInvalidOperation("User already has this role.")
	}
	u.Roles = append(u.Roles, r)
	return nil
}

// AbandonRole removes a role. Removing a never-held role is an invalid operation.
func (u *User) AbandonRole(r RoleID) error {
	for i, held := range u.Roles {
		if held == r {
			u.Roles = append(u.Roles[:i], u.Roles[i+1:]...)
			return nil
		}
	}
	return ErrInvalidOperation("User does not have this role.")
}

// ChangePassword replaces the stored password hash
func (u *User) ChangePassword(password HashedPassword) error {
	if password.IsZero() {
		return ErrInvalidArgument("User password hash must not be empty.")
	}
	u.Password = password
	return nil
}

// Clone returns an independent copy
func (u *User) Clone() *User {
	c := *u
	c.Password = append(HashedPassword(nil), u.Password...)
	c.Roles = append([]RoleID(nil), u.Roles...)
	c.Permissions = append([]PermissionID(nil), u.Permissions...)
	return &c
}
