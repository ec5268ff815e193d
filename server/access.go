package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/storage"
)

// CheckUserAccess reports whether the user holds the permission, either
// directly or through one of their roles. Roles are loaded lazily, so a
// direct grant never touches the role store.
func (s *Server) CheckUserAccess(ctx context.Context, userID domain.UserID, permission domain.PermissionID) (bool, error) {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return false, err
	}

	if user.HasPermission(permission) {
		return true, nil
	}

	for _, roleID := range user.Roles {
		role, err := s.getRole(ctx, s.store, roleID)
		if err != nil {
			return false, err
		}
		if role.HasPermission(permission) {
			return true, nil
		}
	}

	return false, nil
}

// ComparePermissions reports whether the user's effective permission set,
// direct grants plus everything their roles carry, covers all of the
// requested permissions.
func (s *Server) ComparePermissions(ctx context.Context, userID domain.UserID, requested []domain.PermissionID) (bool, error) {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return false, err
	}
	return s.comparePermissions(ctx, s.store, user, requested)
}

func (s *Server) comparePermissions(ctx context.Context, store storage.RoleStore, user *domain.User, requested []domain.PermissionID) (bool, error) {
	var roles []*domain.Role

	for _, p := range requested {
		if user.HasPermission(p) {
			continue
		}

		// Roles are loaded once, on the first permission a direct grant
		// does not cover
		if roles == nil {
			roles = make([]*domain.Role, 0, len(user.Roles))
			for _, roleID := range user.Roles {
				role, err := s.getRole(ctx, store, roleID)
				if err != nil {
					return false, err
				}
				roles = append(roles, role)
			}
		}

		covered := false
		for _, role := range roles {
			if role.HasPermission(p) {
				covered = true
				break
			}
		}
		if !covered {
			return false, nil
		}
	}

	return true, nil
}

func (s *Server) getRole(ctx context.Context, store storage.RoleStore, id domain.RoleID) (*domain.Role, error) {
	role, err := store.GetRole(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRoleNotFound) {
			return nil, domain.ErrNotFound("Role not found.")
		}
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	return role, nil
}
