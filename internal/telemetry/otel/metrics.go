package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics counts token lifecycle events. Implements the token service's
// Metrics interface.
type AuthMetrics struct {
	issued  metric.Int64Counter
	rotated metric.Int64Counter
	thefts  metric.Int64Counter
}

// NewAuthMetrics creates the auth counters on the given meter provider.
func NewAuthMetrics(provider metric.MeterProvider) (*AuthMetrics, error) {
	meter := provider.Meter("mentormesh.auth")

	issued, err := meter.Int64Counter("auth.tokens.issued",
		metric.WithDescription("Token pairs issued at login"))
	if err != nil {
		return nil, err
	}
	rotated, err := meter.Int64Counter("auth.tokens.rotated",
		metric.WithDescription("Successful refresh rotations"))
	if err != nil {
		return nil, err
	}
	thefts, err := meter.Int64Counter("auth.tokens.theft_detected",
		metric.WithDescription("Refresh token reuse events that triggered family revocation"))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{issued: issued, rotated: rotated, thefts: thefts}, nil
}

func (m *AuthMetrics) TokenIssued(ctx context.Context)   { m.issued.Add(ctx, 1) }
func (m *AuthMetrics) TokenRotated(ctx context.Context)  { m.rotated.Add(ctx, 1) }
func (m *AuthMetrics) TheftDetected(ctx context.Context) { m.thefts.Add(ctx, 1) }
