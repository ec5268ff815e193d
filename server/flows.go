package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/storage"
)

// TokenPair is an access token plus the refresh token issued with it
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// GenerateAuthorizationCode starts an authorization grant: it validates the
// callback URL and checks that the application's owner is permitted for every
// requested permission, then persists a new code and returns its plaintext
// for out-of-band transmission to the client.
func (s *Server) GenerateAuthorizationCode(ctx context.Context, applicationID domain.ApplicationID, callbackURL string, permissions []domain.PermissionID) (domain.Code, error) {
	if len(permissions) == 0 {
		return domain.Code{}, domain.ErrInvalidArgument("Permission set must not be empty.")
	}

	app, err := s.getApplication(ctx, s.store, applicationID)
	if err != nil {
		return domain.Code{}, err
	}

	if app.CallbackURL != callbackURL {
		s.Auditor.LogAuthFailure("", applicationID.String(), "wrong_callback_url")
		return domain.Code{}, domain.ErrInvalidArgument("Wrong callback URL given.")
	}

	owner, err := s.getUser(ctx, s.store, app.OwnerID)
	if err != nil {
		return domain.Code{}, err
	}

	covered, err := s.comparePermissions(ctx, s.store, owner, permissions)
	if err != nil {
		return domain.Code{}, err
	}
	if !covered {
		s.Auditor.LogAuthFailure(owner.ID.String(), applicationID.String(), "permission_superset_violation")
		return domain.Code{}, domain.ErrInvalidArgument("User is not permitted for all requested permissions.")
	}

	authCode, code, err := app.CreateAuthorizationCode(permissions, s.now(), s.Config.AuthorizationCodeLifetime)
	if err != nil {
		return domain.Code{}, err
	}

	if err := s.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		return domain.Code{}, fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Auditor.LogCodeIssued(owner.ID.String(), applicationID.String(), permissionNames(permissions))
	s.metrics.RecordCodeIssued(ctx)
	s.Logger.Debug("Authorization code issued",
		"application_id", applicationID,
		"code_hash_prefix", safeTruncate(authCode.ID.HashedCode(), 8))

	return code, nil
}

// GenerateTokens exchanges an authorization code for a token pair. The whole
// exchange runs in one transaction scope: consuming the code and persisting
// the refresh token commit together or not at all, and of two concurrent
// exchanges of the same code at most one wins.
func (s *Server) GenerateTokens(ctx context.Context, applicationID domain.ApplicationID, secretKey, callbackURL, code string) (*TokenPair, error) {
	if s.RateLimiter != nil && !s.RateLimiter.Allow(applicationID.String()) {
		s.Auditor.LogRateLimitExceeded(applicationID.String())
		return nil, domain.ErrInvalidOperation("Too many token requests for this application.")
	}

	plainCode, err := domain.ParseCode(code)
	if err != nil {
		return nil, err
	}

	scope, err := s.store.BeginScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction scope: %w", err)
	}
	defer func() { _ = scope.Close() }()

	app, err := s.getApplication(ctx, scope.Applications(), applicationID)
	if err != nil {
		return nil, err
	}

	storedSecret, err := s.secrets.Decrypt(app.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt application secret key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(storedSecret), []byte(secretKey)) != 1 {
		s.Auditor.LogAuthFailure("", applicationID.String(), "wrong_secret_key")
		return nil, domain.ErrInvalidArgument("Wrong secret key given.")
	}

	if app.CallbackURL != callbackURL {
		s.Auditor.LogAuthFailure("", applicationID.String(), "wrong_callback_url")
		return nil, domain.ErrInvalidArgument("Wrong callback URL given.")
	}

	codeID, err := domain.NewAuthorizationCodeID(plainCode, app.ID)
	if err != nil {
		return nil, err
	}
	authCode, err := scope.AuthorizationCodes().GetAuthorizationCode(ctx, codeID)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			s.Auditor.LogAuthFailure("", applicationID.String(), "authorization_code_not_found")
			return nil, domain.ErrNotFound("Authorization code not found.")
		}
		return nil, fmt.Errorf("failed to load authorization code: %w", err)
	}

	now := s.now()
	if err := authCode.Use(now); err != nil {
		s.Auditor.LogAuthFailure("", applicationID.String(), "authorization_code_rejected")
		return nil, err
	}

	accessToken, err := app.CreateAccessToken(s.codec, authCode.Permissions, now)
	if err != nil {
		return nil, err
	}
	refreshToken, err := app.CreateRefreshToken(s.codec, authCode.Permissions, now)
	if err != nil {
		return nil, err
	}

	if err := scope.AuthorizationCodes().UpdateAuthorizationCode(ctx, authCode); err != nil {
		return nil, fmt.Errorf("failed to persist consumed authorization code: %w", err)
	}
	if err := scope.RefreshTokens().SaveRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	if err := scope.Complete(ctx); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// A concurrent exchange of the same code won the commit race
			s.Auditor.LogAuthFailure("", applicationID.String(), "authorization_code_exchange_conflict")
			return nil, domain.ErrInvalidOperation("Authorization code was used.")
		}
		return nil, fmt.Errorf("failed to commit token exchange: %w", err)
	}

	s.Auditor.LogTokenIssued(applicationID.String(), permissionNames(authCode.Permissions))
	s.metrics.RecordCodeConsumed(ctx)
	s.metrics.RecordTokensIssued(ctx)
	s.Logger.Info("Token pair issued", "application_id", applicationID)

	return &TokenPair{
		AccessToken:  accessToken.ID.Value,
		RefreshToken: refreshToken.ID.Value,
		TokenType:    "Bearer",
		ExpiresAt:    accessToken.ID.ExpiresAt,
	}, nil
}

// RefreshTokens rotates a refresh token into a new token pair. The old token
// is consumed and the new one persisted in a single transaction scope; the
// rotated refresh token keeps the original expiration timestamp, so rotation
// never extends the absolute session lifetime.
func (s *Server) RefreshTokens(ctx context.Context, refreshTokenValue, callbackURL string) (*TokenPair, error) {
	tokenID, err := s.codec.Decode(refreshTokenValue)
	if err != nil {
		return nil, err
	}
	if tokenID.Type != domain.TokenTypeRefresh {
		// An access token in the refresh slot is just an invalid token;
		// callers learn nothing more specific
		return nil, domain.ErrInvalidToken("Token is invalid.")
	}

	scope, err := s.store.BeginScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction scope: %w", err)
	}
	defer func() { _ = scope.Close() }()

	app, err := s.getApplication(ctx, scope.Applications(), tokenID.ApplicationID)
	if err != nil {
		return nil, err
	}

	if app.CallbackURL != callbackURL {
		s.Auditor.LogAuthFailure("", app.ID.String(), "wrong_callback_url")
		return nil, domain.ErrInvalidArgument("Wrong callback URL given.")
	}

	stored, err := scope.RefreshTokens().GetRefreshToken(ctx, tokenID.ID)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			s.Auditor.LogAuthFailure("", app.ID.String(), "refresh_token_not_found")
			return nil, domain.ErrNotFound("Refresh token not found.")
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	now := s.now()
	if err := stored.Verify(now); err != nil {
		s.Auditor.LogAuthFailure("", app.ID.String(), "refresh_token_rejected")
		return nil, err
	}

	newAccess, err := app.RefreshAccessToken(s.codec, stored, now)
	if err != nil {
		return nil, err
	}
	newRefresh, err := app.RefreshRefreshToken(s.codec, stored, now)
	if err != nil {
		return nil, err
	}

	if err := stored.Use(now); err != nil {
		return nil, err
	}
	if err := scope.RefreshTokens().UpdateRefreshToken(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to persist consumed refresh token: %w", err)
	}
	if err := scope.RefreshTokens().SaveRefreshToken(ctx, newRefresh); err != nil {
		return nil, fmt.Errorf("failed to persist rotated refresh token: %w", err)
	}

	if err := scope.Complete(ctx); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// A concurrent rotation of the same token won the commit race
			s.Auditor.LogAuthFailure("", app.ID.String(), "refresh_token_rotation_conflict")
			return nil, domain.ErrInvalidToken("Token was used before.")
		}
		return nil, fmt.Errorf("failed to commit token rotation: %w", err)
	}

	s.Auditor.LogTokenRefreshed(app.ID.String())
	s.metrics.RecordTokensRefreshed(ctx)
	s.Logger.Info("Token pair rotated",
		"application_id", app.ID,
		"token_id_prefix", safeTruncate(tokenID.ID, 8))

	return &TokenPair{
		AccessToken:  newAccess.ID.Value,
		RefreshToken: newRefresh.ID.Value,
		TokenType:    "Bearer",
		ExpiresAt:    newAccess.ID.ExpiresAt,
	}, nil
}

// VerifyAccessToken validates a presented access token value and returns its
// token id for authorization decisions at the resource boundary
func (s *Server) VerifyAccessToken(_ context.Context, accessTokenValue string) (domain.TokenID, error) {
	tokenID, err := s.codec.Decode(accessTokenValue)
	if err != nil {
		return domain.TokenID{}, err
	}
	accessToken, err := domain.NewAccessToken(tokenID)
	if err != nil {
		return domain.TokenID{}, domain.ErrInvalidToken("Token is invalid.")
	}
	if err := accessToken.Verify(s.now()); err != nil {
		return domain.TokenID{}, err
	}
	return tokenID, nil
}

func (s *Server) getApplication(ctx context.Context, store storage.ApplicationStore, id domain.ApplicationID) (*domain.Application, error) {
	app, err := store.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return nil, domain.ErrNotFound("Application not found.")
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	return app, nil
}

func (s *Server) getUser(ctx context.Context, store storage.UserStore, id domain.UserID) (*domain.User, error) {
	user, err := store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, domain.ErrNotFound("User not found.")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func permissionNames(permissions []domain.PermissionID) []string {
	names := make([]string, len(permissions))
	for i, p := range permissions {
		names[i] = p.String()
	}
	return names
}
