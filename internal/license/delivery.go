package license

import (
	"context"
	"log/slog"
)

// Deliverer is the outbound collaborator that transmits plaintext secrets
// to the purchaser exactly once (email, in-app notification). The core
// hands it the only plaintext copy that will ever exist; implementations
// must not persist or log the values.
type Deliverer interface {
	// DeliverLicense sends the freshly issued key and recovery codes.
	DeliverLicense(ctx context.Context, email, plainKey string, plainRecoveryCodes []string) error
}

// NopDeliverer discards deliveries. Used when delivery is handled by an
// external pipeline consuming the issuance response instead.
type NopDeliverer struct{}

func (NopDeliverer) DeliverLicense(context.Context, string, string, []string) error {
	return nil
}

// LogDeliverer records that a delivery happened without the payload.
// Useful in development; plaintext never reaches the log.
type LogDeliverer struct {
	Logger *slog.Logger
}

func (d *LogDeliverer) DeliverLicense(ctx context.Context, email, plainKey string, codes []string) error {
	d.Logger.InfoContext(ctx, "license delivery dispatched",
		slog.String("email", email),
		slog.Int("recovery_codes", len(codes)))
	return nil
}
