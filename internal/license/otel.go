package license

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "license-engine"
	MeterName  = "license-engine"
)

// Metrics holds the license engine's OpenTelemetry instruments.
type Metrics struct {
	IssuedTotal        metric.Int64Counter
	ValidationTotal    metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	RedemptionTotal    metric.Int64Counter
	ActivationTotal    metric.Int64Counter
}

// NewMetrics registers the license engine instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}
	var err error

	if m.IssuedTotal, err = meter.Int64Counter("keymint.licenses.issued",
		metric.WithDescription("Licenses issued from completed purchases")); err != nil {
		return nil, err
	}
	if m.ValidationTotal, err = meter.Int64Counter("keymint.validations",
		metric.WithDescription("License validation attempts by outcome")); err != nil {
		return nil, err
	}
	if m.ValidationDuration, err = meter.Float64Histogram("keymint.validation.duration",
		metric.WithDescription("License validation duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.RedemptionTotal, err = meter.Int64Counter("keymint.recovery.redemptions",
		metric.WithDescription("Recovery code redemption attempts by outcome")); err != nil {
		return nil, err
	}
	if m.ActivationTotal, err = meter.Int64Counter("keymint.activations",
		metric.WithDescription("First-time license activations")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordValidation(ctx context.Context, outcome string, ms float64) {
	if m == nil {
		return
	}
	m.ValidationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.ValidationDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordRedemption(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.RedemptionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordIssued(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	m.IssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", currency)))
}

func (m *Metrics) recordActivation(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActivationTotal.Add(ctx, 1)
}
