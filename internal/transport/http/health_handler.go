package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"keymint/internal/services"
)

// HealthHandler serves the health check endpoint
type HealthHandler struct {
	service services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Health handles GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.service.Health(r.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "health check degraded",
			slog.Any("checks", status.Checks))
	}

	render.Status(r, code)
	render.JSON(w, r, status)
}
