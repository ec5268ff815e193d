package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User
// identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type          string
	UserID        string
	ApplicationID string
	Details       map[string]any
	Timestamp     time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"application_id", event.ApplicationID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(userID, applicationID string, permissions []string) {
	a.LogEvent(Event{
		Type:          "authorization_code_issued",
		UserID:        userID,
		ApplicationID: applicationID,
		Details: map[string]any{
			"permissions": permissions,
		},
	})
}

// LogTokenIssued logs when a token pair is issued
func (a *Auditor) LogTokenIssued(applicationID string, permissions []string) {
	a.LogEvent(Event{
		Type:          "token_issued",
		ApplicationID: applicationID,
		Details: map[string]any{
			"permissions": permissions,
		},
	})
}

// LogTokenRefreshed logs when a token pair is rotated
func (a *Auditor) LogTokenRefreshed(applicationID string) {
	a.LogEvent(Event{
		Type:          "token_refreshed",
		ApplicationID: applicationID,
	})
}

// LogAuthFailure logs an authentication or exchange failure
func (a *Auditor) LogAuthFailure(userID, applicationID, reason string) {
	a.LogEvent(Event{
		Type:          "auth_failure",
		UserID:        userID,
		ApplicationID: applicationID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(applicationID string) {
	a.LogEvent(Event{
		Type:          "rate_limit_exceeded",
		ApplicationID: applicationID,
	})
}

// LogSecretKeyRegenerated logs when an application's secret key is replaced
func (a *Auditor) LogSecretKeyRegenerated(applicationID string) {
	a.LogEvent(Event{
		Type:          "secret_key_regenerated",
		ApplicationID: applicationID,
	})
}

// hashForLogging returns a short hash of a sensitive identifier so log lines
// correlate without exposing the identifier itself
func hashForLogging(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
