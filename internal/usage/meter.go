// Package usage meters free-tier exports per external user identity.
// The counter is a lifetime total: it only increments and no code path
// anywhere resets it. The cap is the product's free-tier economics, not
// a rolling quota.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "keymint/internal/errors"
)

// Store is the persistence contract for usage counters. Increment must be
// an atomic server-side add, never a read-modify-write of a cached count.
type Store interface {
	// Get returns the current export count for userID; 0 when no record
	// exists yet.
	Get(ctx context.Context, userID string) (int64, error)
	// Increment adds 1 to the counter, creating the record at 1 when
	// absent, and returns the new count.
	Increment(ctx context.Context, userID string, now time.Time) (int64, error)
}

// Status is the result of a usage check.
type Status struct {
	Count     int64 `json:"count"`
	Limit     int64 `json:"limit"`
	CanExport bool  `json:"can_export"`
}

// Meter enforces the lifetime export cap for unlicensed callers. The
// meter only counts; enforcement is the caller's decision. Increment
// applies no clamp, so a caller that skips Check can push the count past
// the limit.
type Meter struct {
	store  Store
	limit  int64
	logger *slog.Logger

	denials metric.Int64Counter
	exports metric.Int64Counter
}

// NewMeter creates a usage meter with the given lifetime limit.
func NewMeter(store Store, limit int, logger *slog.Logger) (*Meter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: usage export limit", apperrors.ErrConfigurationMissing)
	}

	meter := otel.Meter("usage-meter")
	denials, err := meter.Int64Counter("keymint.usage.denials",
		metric.WithDescription("Export checks that found the cap exhausted"))
	if err != nil {
		return nil, err
	}
	exports, err := meter.Int64Counter("keymint.usage.exports",
		metric.WithDescription("Free-tier exports counted"))
	if err != nil {
		return nil, err
	}

	return &Meter{
		store:   store,
		limit:   int64(limit),
		logger:  logger.With(slog.String("component", "usage_meter")),
		denials: denials,
		exports: exports,
	}, nil
}

// Check reads the current counter and compares it against the lifetime
// limit. Pure read, no side effect.
func (m *Meter) Check(ctx context.Context, userID string) (*Status, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrMalformedInput)
	}

	count, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	status := &Status{
		Count:     count,
		Limit:     m.limit,
		CanExport: count < m.limit,
	}
	if !status.CanExport {
		m.denials.Add(ctx, 1)
	}
	return status, nil
}

// Increment counts one export for userID and returns the post-increment
// status. The add happens server-side in the store, so concurrent
// increments for the same user all land.
func (m *Meter) Increment(ctx context.Context, userID string) (*Status, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrMalformedInput)
	}

	count, err := m.store.Increment(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}

	m.exports.Add(ctx, 1, metric.WithAttributes(attribute.Bool("over_limit", count > m.limit)))
	if count > m.limit {
		m.logger.WarnContext(ctx, "usage incremented past limit",
			slog.String("user_id", userID),
			slog.Int64("count", count),
			slog.Int64("limit", m.limit))
	}

	return &Status{
		Count:     count,
		Limit:     m.limit,
		CanExport: count < m.limit,
	}, nil
}

// Limit returns the configured lifetime cap.
func (m *Meter) Limit() int64 {
	return m.limit
}
