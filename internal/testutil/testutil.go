package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/events"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// CaptureSink records every event it receives, for asserting on emissions
type CaptureSink struct {
	mu     sync.Mutex
	events []events.Event
}

// Notify implements events.Sink
func (c *CaptureSink) Notify(_ context.Context, event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a copy of everything captured so far
func (c *CaptureSink) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

// Types returns just the captured event types, in order
func (c *CaptureSink) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

// MustPermission builds a permission id or fails the test
func MustPermission(t *testing.T, s string) domain.PermissionID {
	t.Helper()
	p, err := domain.ParsePermissionID(s)
	if err != nil {
		t.Fatalf("ParsePermissionID(%q) failed: %v", s, err)
	}
	return p
}

// MustPermissions builds several permission ids or fails the test
func MustPermissions(t *testing.T, values ...string) []domain.PermissionID {
	t.Helper()
	out := make([]domain.PermissionID, len(values))
	for i, v := range values {
		out[i] = MustPermission(t, v)
	}
	return out
}

// TestKey returns a deterministic 16-byte AES key for tests
func TestKey(seed byte) []byte {
	key := make([]byte, 16)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}
