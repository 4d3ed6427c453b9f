package services

import (
	"context"

	"keymint/internal/usage"
)

// UsageService is the transport-facing seam for the export meter
type UsageService interface {
	// Status reports the caller's lifetime export count against the cap.
	Status(ctx context.Context, userID string) (*usage.Status, error)

	// RecordExport counts one completed export and returns the new status.
	RecordExport(ctx context.Context, userID string) (*usage.Status, error)
}

type usageService struct {
	meter *usage.Meter
}

// NewUsageService creates the usage service backed by the meter
func NewUsageService(meter *usage.Meter) UsageService {
	return &usageService{meter: meter}
}

func (s *usageService) Status(ctx context.Context, userID string) (*usage.Status, error) {
	return s.meter.Check(ctx, userID)
}

func (s *usageService) RecordExport(ctx context.Context, userID string) (*usage.Status, error) {
	return s.meter.Increment(ctx, userID)
}
