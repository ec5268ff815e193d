package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the authorization engine.
// All Record methods are safe on a nil receiver, so callers without
// instrumentation configured can record unconditionally.
type Metrics struct {
	// Flow metrics
	CodesIssued     metric.Int64Counter
	CodesConsumed   metric.Int64Counter
	TokensIssued    metric.Int64Counter
	TokensRefreshed metric.Int64Counter

	// Account metrics
	ApplicationsRegistered metric.Int64Counter
	UsersRegistered        metric.Int64Counter

	// Security metrics
	AuthFailures      metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	meter := inst.Meter("server")
	securityMeter := inst.Meter("security")

	var err error
	m.CodesIssued, err = meter.Int64Counter(
		"auth.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.issued counter: %w", err)
	}

	m.CodesConsumed, err = meter.Int64Counter(
		"auth.codes.consumed",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.consumed counter: %w", err)
	}

	m.TokensIssued, err = meter.Int64Counter(
		"auth.tokens.issued",
		metric.WithDescription("Number of token pairs issued"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokensRefreshed, err = meter.Int64Counter(
		"auth.tokens.refreshed",
		metric.WithDescription("Number of token pairs rotated"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.ApplicationsRegistered, err = meter.Int64Counter(
		"auth.applications.registered",
		metric.WithDescription("Number of applications registered"),
		metric.WithUnit("{application}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create applications.registered counter: %w", err)
	}

	m.UsersRegistered, err = meter.Int64Counter(
		"auth.users.registered",
		metric.WithDescription("Number of users registered"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create users.registered counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"auth.failures",
		metric.WithDescription("Number of failed authorization attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"auth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	return m, nil
}

// RecordCodeIssued increments the issued authorization code counter
func (m *Metrics) RecordCodeIssued(ctx context.Context) {
	if m == nil || m.CodesIssued == nil {
		return
	}
	m.CodesIssued.Add(ctx, 1)
}

// RecordCodeConsumed increments the consumed authorization code counter
func (m *Metrics) RecordCodeConsumed(ctx context.Context) {
	if m == nil || m.CodesConsumed == nil {
		return
	}
	m.CodesConsumed.Add(ctx, 1)
}

// RecordTokensIssued increments the issued token pair counter
func (m *Metrics) RecordTokensIssued(ctx context.Context) {
	if m == nil || m.TokensIssued == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1)
}

// RecordTokensRefreshed increments the rotated token pair counter
func (m *Metrics) RecordTokensRefreshed(ctx context.Context) {
	if m == nil || m.TokensRefreshed == nil {
		return
	}
	m.TokensRefreshed.Add(ctx, 1)
}

// RecordApplicationRegistered increments the registered application counter
func (m *Metrics) RecordApplicationRegistered(ctx context.Context) {
	if m == nil || m.ApplicationsRegistered == nil {
		return
	}
	m.ApplicationsRegistered.Add(ctx, 1)
}

// RecordUserRegistered increments the registered user counter
func (m *Metrics) RecordUserRegistered(ctx context.Context) {
	if m == nil || m.UsersRegistered == nil {
		return
	}
	m.UsersRegistered.Add(ctx, 1)
}

// RecordAuthFailure increments the failed authorization counter
func (m *Metrics) RecordAuthFailure(ctx context.Context) {
	if m == nil || m.AuthFailures == nil {
		return
	}
	m.AuthFailures.Add(ctx, 1)
}

// RecordRateLimitExceeded increments the rate limit violation counter
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	if m == nil || m.RateLimitExceeded == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1)
}
