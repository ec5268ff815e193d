// Package events defines the engine's domain event records and the sink they
// are published through. The sink is an explicit capability handed to the
// engine at construction; there is no process-wide dispatcher. Publication is
// fire-and-forget: a sink must never fail the operation that produced the
// event.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Event types emitted by the engine
const (
	TypeUserCreated          = "user_created"
	TypeApplicationCreated   = "application_created"
	TypeRoleCreated          = "role_created"
	TypePermissionObtained   = "permission_obtained"
	TypePermissionRevoked    = "permission_revoked"
	TypeRoleAssigned         = "role_assigned"
	TypeRoleRemoved          = "role_removed"
	TypeSecretKeyRegenerated = "secret_key_regenerated"
)

// Event is a discrete record of a domain state change
type Event struct {
	Type          string
	UserID        string
	ApplicationID string
	RoleID        string
	Details       map[string]any
	Timestamp     time.Time
}

// Sink receives domain events. Implementations must be safe for concurrent
// use and must not block the caller for long.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// SlogSink publishes events to a structured logger
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Notify implements Sink
func (s *SlogSink) Notify(ctx context.Context, event Event) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "domain_event",
		slog.String("event_type", event.Type),
		slog.String("user_id", event.UserID),
		slog.String("application_id", event.ApplicationID),
		slog.String("role_id", event.RoleID),
		slog.Any("details", event.Details),
		slog.Time("timestamp", event.Timestamp),
	)
}

// NopSink discards all events
type NopSink struct{}

// Notify implements Sink
func (NopSink) Notify(context.Context, Event) {}
