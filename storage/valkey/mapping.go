package valkey

import (
	"fmt"
	"time"

	"github.com/keygrant/keygrant/domain"
)

// JSON documents stored under the "data" field of each record hash.
// Timestamps are Unix milliseconds; binary containers use the encoding/json
// default base64 for []byte.

type applicationJSON struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	SecretKey   []byte `json:"secret_key"`
	HomepageURL string `json:"homepage_url"`
	CallbackURL string `json:"callback_url"`
}

type authorizationCodeJSON struct {
	HashedCode    string   `json:"hashed_code"`
	ApplicationID string   `json:"application_id"`
	ExpiresAt     int64    `json:"expires_at"`
	Used          bool     `json:"used"`
	Permissions   []string `json:"permissions"`
}

type userJSON struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Password    []byte   `json:"password"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type roleJSON struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type refreshTokenJSON struct {
	TokenID        string   `json:"token_id"`
	ApplicationID  string   `json:"application_id"`
	TokenType      string   `json:"token_type"`
	Permissions    []string `json:"permissions"`
	ExpiresAt      int64    `json:"expires_at"`
	Value          string   `json:"value,omitempty"`
	EncryptedValue []byte   `json:"encrypted_value,omitempty"`
	Used           bool     `json:"used"`
}

func toApplicationJSON(app *domain.Application) *applicationJSON {
	return &applicationJSON{
		ID:          app.ID.String(),
		OwnerID:     app.OwnerID.String(),
		Name:        app.Name,
		SecretKey:   app.SecretKey,
		HomepageURL: app.HomepageURL,
		CallbackURL: app.CallbackURL,
	}
}

func fromApplicationJSON(doc *applicationJSON) (*domain.Application, error) {
	id, err := domain.ParseApplicationID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt application record: %w", err)
	}
	ownerID, err := domain.ParseUserID(doc.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("corrupt application record: %w", err)
	}
	app, err := domain.NewApplication(id, ownerID, doc.Name, doc.SecretKey, doc.HomepageURL, doc.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("corrupt application record: %w", err)
	}
	return app, nil
}

func toAuthorizationCodeJSON(code *domain.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		HashedCode:    code.ID.HashedCode(),
		ApplicationID: code.ID.ApplicationID().String(),
		ExpiresAt:     code.ExpiresAt.UnixMilli(),
		Used:          code.Used,
		Permissions:   permissionStrings(code.Permissions),
	}
}

func fromAuthorizationCodeJSON(doc *authorizationCodeJSON) (*domain.AuthorizationCode, error) {
	appID, err := domain.ParseApplicationID(doc.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("corrupt authorization code record: %w", err)
	}
	id, err := domain.RestoreAuthorizationCodeID(doc.HashedCode, appID)
	if err != nil {
		return nil, fmt.Errorf("corrupt authorization code record: %w", err)
	}
	permissions, err := parsePermissionStrings(doc.Permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt authorization code record: %w", err)
	}
	code, err := domain.NewAuthorizationCode(id, time.UnixMilli(doc.ExpiresAt), permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt authorization code record: %w", err)
	}
	code.Used = doc.Used
	return code, nil
}

func toUserJSON(user *domain.User) *userJSON {
	roles := make([]string, len(user.Roles))
	for i, r := range user.Roles {
		roles[i] = r.String()
	}
	return &userJSON{
		ID:          user.ID.String(),
		Email:       user.Email,
		Password:    user.Password,
		Roles:       roles,
		Permissions: permissionStrings(user.Permissions),
	}
}

func fromUserJSON(doc *userJSON) (*domain.User, error) {
	id, err := domain.ParseUserID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt user record: %w", err)
	}
	user, err := domain.NewUser(id, doc.Email, doc.Password)
	if err != nil {
		return nil, fmt.Errorf("corrupt user record: %w", err)
	}
	user.Roles = make([]domain.RoleID, len(doc.Roles))
	for i, r := range doc.Roles {
		roleID, err := domain.ParseRoleID(r)
		if err != nil {
			return nil, fmt.Errorf("corrupt user record: %w", err)
		}
		user.Roles[i] = roleID
	}
	user.Permissions, err = parsePermissionStrings(doc.Permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt user record: %w", err)
	}
	return user, nil
}

func toRoleJSON(role *domain.Role) *roleJSON {
	return &roleJSON{
		ID:          role.ID.String(),
		Name:        role.Name,
		Description: role.Description,
		Permissions: permissionStrings(role.Permissions),
	}
}

func fromRoleJSON(doc *roleJSON) (*domain.Role, error) {
	id, err := domain.ParseRoleID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt role record: %w", err)
	}
	permissions, err := parsePermissionStrings(doc.Permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt role record: %w", err)
	}
	role, err := domain.NewRole(id, doc.Name, doc.Description, permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt role record: %w", err)
	}
	return role, nil
}

// sealRefreshTokenJSON builds the stored document, encrypting the token value
// when a cipher is configured. The plaintext value is never written alongside
// its encrypted form.
func (s *Store) sealRefreshTokenJSON(token *domain.RefreshToken) (*refreshTokenJSON, error) {
	doc := &refreshTokenJSON{
		TokenID:       token.ID.ID,
		ApplicationID: token.ID.ApplicationID.String(),
		TokenType:     token.ID.Type.Name(),
		Permissions:   permissionStrings(token.ID.Permissions),
		ExpiresAt:     token.ID.ExpiresAt.UnixMilli(),
		Used:          token.Used,
	}
	if cipher := s.getCipher(); cipher != nil {
		encrypted, err := cipher.Encrypt(token.ID.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt token value: %w", err)
		}
		doc.EncryptedValue = encrypted
	} else {
		doc.Value = token.ID.Value
	}
	return doc, nil
}

func (s *Store) openRefreshTokenJSON(doc *refreshTokenJSON) (*domain.RefreshToken, error) {
	appID, err := domain.ParseApplicationID(doc.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record: %w", err)
	}
	tokenType, err := domain.ParseTokenType(doc.TokenType)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record: %w", err)
	}
	permissions, err := parsePermissionStrings(doc.Permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record: %w", err)
	}

	value := doc.Value
	if len(doc.EncryptedValue) > 0 {
		cipher := s.getCipher()
		if cipher == nil {
			return nil, fmt.Errorf("refresh token value is encrypted but no cipher is configured")
		}
		value, err = cipher.Decrypt(doc.EncryptedValue)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token value: %w", err)
		}
	}

	token, err := domain.NewRefreshToken(domain.TokenID{
		ID:            doc.TokenID,
		ApplicationID: appID,
		Type:          tokenType,
		Permissions:   permissions,
		ExpiresAt:     time.UnixMilli(doc.ExpiresAt),
		Value:         value,
	})
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record: %w", err)
	}
	token.Used = doc.Used
	return token, nil
}

func permissionStrings(permissions []domain.PermissionID) []string {
	out := make([]string, len(permissions))
	for i, p := range permissions {
		out[i] = p.String()
	}
	return out
}

func parsePermissionStrings(values []string) ([]domain.PermissionID, error) {
	out := make([]domain.PermissionID, len(values))
	for i, v := range values {
		p, err := domain.ParsePermissionID(v)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}
