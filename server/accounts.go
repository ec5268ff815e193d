package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/events"
	"github.com/keygrant/keygrant/storage"
)

// RegisterApplication creates an application owned by the given user. The
// generated secret key is returned in plaintext exactly once; only its
// encrypted form is persisted.
func (s *Server) RegisterApplication(ctx context.Context, ownerID domain.UserID, name, homepageURL, callbackURL string) (*domain.Application, string, error) {
	owner, err := s.getUser(ctx, s.store, ownerID)
	if err != nil {
		return nil, "", err
	}

	secret := oauth2.GenerateVerifier()
	encrypted, err := s.secrets.Encrypt(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt secret key: %w", err)
	}

	app, err := domain.NewApplication(domain.NewApplicationID(), owner.ID, name, encrypted, homepageURL, callbackURL)
	if err != nil {
		return nil, "", err
	}

	if err := s.store.SaveApplication(ctx, app); err != nil {
		return nil, "", fmt.Errorf("failed to save application: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:          events.TypeApplicationCreated,
		UserID:        owner.ID.String(),
		ApplicationID: app.ID.String(),
		Details:       map[string]any{"name": app.Name},
	})
	s.metrics.RecordApplicationRegistered(ctx)
	s.Logger.Info("Application registered", "application_id", app.ID, "owner_id", owner.ID)

	return app, secret, nil
}

// RegenerateSecretKey replaces the application's secret key and returns the
// new plaintext once. The previous key stops working immediately.
func (s *Server) RegenerateSecretKey(ctx context.Context, applicationID domain.ApplicationID) (string, error) {
	app, err := s.getApplication(ctx, s.store, applicationID)
	if err != nil {
		return "", err
	}

	secret := oauth2.GenerateVerifier()
	encrypted, err := s.secrets.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret key: %w", err)
	}

	if err := app.RegenerateSecretKey(encrypted); err != nil {
		return "", err
	}
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return "", fmt.Errorf("failed to update application: %w", err)
	}

	s.Auditor.LogSecretKeyRegenerated(app.ID.String())
	s.notify(ctx, events.Event{
		Type:          events.TypeSecretKeyRegenerated,
		ApplicationID: app.ID.String(),
	})
	s.Logger.Info("Application secret key regenerated", "application_id", app.ID)

	return secret, nil
}

// RegisterUser creates a user account with a hashed password
func (s *Server) RegisterUser(ctx context.Context, email, password string) (*domain.User, error) {
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := domain.NewUser(domain.NewUserID(), email, hashed)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, domain.ErrInvalidArgument("Email address is already registered.")
		}
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:    events.TypeUserCreated,
		UserID:  user.ID.String(),
		Details: map[string]any{"email": user.Email},
	})
	s.metrics.RecordUserRegistered(ctx)
	s.Logger.Info("User registered", "user_id", user.ID)

	return user, nil
}

// AuthenticateUser verifies a user's credentials. A wrong password and an
// unknown email produce the same error, so callers cannot probe for accounts.
func (s *Server) AuthenticateUser(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.Auditor.LogAuthFailure("", "", "unknown_email")
			return nil, domain.ErrInvalidArgument("Wrong email or password given.")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := s.hasher.Verify(user.Password, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Auditor.LogAuthFailure(user.ID.String(), "", "wrong_password")
		s.metrics.RecordAuthFailure(ctx)
		return nil, domain.ErrInvalidArgument("Wrong email or password given.")
	}

	return user, nil
}

// ChangeUserPassword rehashes and replaces the user's password after
// verifying the current one
func (s *Server) ChangeUserPassword(ctx context.Context, userID domain.UserID, currentPassword, newPassword string) error {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(user.Password, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		s.Auditor.LogAuthFailure(user.ID.String(), "", "wrong_password")
		return domain.ErrInvalidArgument("Wrong password given.")
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := user.ChangePassword(hashed); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.Logger.Info("User password changed", "user_id", user.ID)
	return nil
}

// CreateRole creates a named role carrying a fixed permission set
func (s *Server) CreateRole(ctx context.Context, name, description string, permissions []domain.PermissionID) (*domain.Role, error) {
	role, err := domain.NewRole(domain.NewRoleID(), name, description, permissions)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to save role: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:    events.TypeRoleCreated,
		RoleID:  role.ID.String(),
		Details: map[string]any{"name": role.Name},
	})
	s.Logger.Info("Role created", "role_id", role.ID, "name", role.Name)

	return role, nil
}

// GrantUserPermission adds a direct permission grant to the user
func (s *Server) GrantUserPermission(ctx context.Context, userID domain.UserID, permission domain.PermissionID) error {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return err
	}

	if err := user.ObtainPermission(permission); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:    events.TypePermissionObtained,
		UserID:  user.ID.String(),
		Details: map[string]any{"permission": permission.String()},
	})
	return nil
}

// RevokeUserPermission removes a direct permission grant from the user.
// Permissions carried by the user's roles are unaffected.
func (s *Server) RevokeUserPermission(ctx context.Context, userID domain.UserID, permission domain.PermissionID) error {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return err
	}

	if err := user.RevokePermission(permission); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:    events.TypePermissionRevoked,
		UserID:  user.ID.String(),
		Details: map[string]any{"permission": permission.String()},
	})
	return nil
}

// AssignUserRole puts the user into an existing role
func (s *Server) AssignUserRole(ctx context.Context, userID domain.UserID, roleID domain.RoleID) error {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return err
	}
	role, err := s.getRole(ctx, s.store, roleID)
	if err != nil {
		return err
	}

	if err := user.AssumeRole(role.ID); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:   events.TypeRoleAssigned,
		UserID: user.ID.String(),
		RoleID: role.ID.String(),
	})
	return nil
}

// RemoveUserRole takes the user out of a role
func (s *Server) RemoveUserRole(ctx context.Context, userID domain.UserID, roleID domain.RoleID) error {
	user, err := s.getUser(ctx, s.store, userID)
	if err != nil {
		return err
	}

	if err := user.AbandonRole(roleID); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.notify(ctx, events.Event{
		Type:   events.TypeRoleRemoved,
		UserID: user.ID.String(),
		RoleID: roleID.String(),
	})
	return nil
}

// VerifyApplicationSecret checks a presented secret key against the
// application's stored one in constant time
func (s *Server) VerifyApplicationSecret(ctx context.Context, applicationID domain.ApplicationID, secretKey string) error {
	app, err := s.getApplication(ctx, s.store, applicationID)
	if err != nil {
		return err
	}

	stored, err := s.secrets.Decrypt(app.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt application secret key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(secretKey)) != 1 {
		s.Auditor.LogAuthFailure("", app.ID.String(), "wrong_secret_key")
		return domain.ErrInvalidArgument("Wrong secret key given.")
	}
	return nil
}

func (s *Server) notify(ctx context.Context, event events.Event) {
	event.Timestamp = s.now()
	s.sink.Notify(ctx, event)
}
