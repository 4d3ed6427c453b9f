package services

import (
	"context"
	"time"
)

// Pinger reports backing store reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthService reports process and dependency health
type HealthService interface {
	Health(ctx context.Context) *HealthStatus
}

// HealthStatus is the health check response payload
type HealthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	UptimeSec int64             `json:"uptime_seconds"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

type healthService struct {
	db      Pinger
	version string
	started time.Time
}

// NewHealthService creates a health service. db may be nil when the
// process runs without a database, for example against the in-memory store.
func NewHealthService(db Pinger, version string) HealthService {
	return &healthService{
		db:      db,
		version: version,
		started: time.Now(),
	}
}

func (s *healthService) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Version:   s.version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Checks:    map[string]string{},
		Timestamp: time.Now().UTC(),
	}

	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := s.db.PingContext(pingCtx); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
		} else {
			status.Checks["database"] = "ok"
		}
	}

	return status
}
