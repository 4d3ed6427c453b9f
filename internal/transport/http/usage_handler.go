package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "keymint/internal/errors"
	"keymint/internal/infrastructure"
	"keymint/internal/middleware"
	"keymint/internal/services"
	"keymint/internal/usage"
)

// UsageHandler handles export-meter requests
type UsageHandler struct {
	service services.UsageService
	logger  *slog.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(service services.UsageService, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "usage")),
	}
}

// Routes returns a chi router for usage endpoints. Both endpoints need a
// caller identity, so the chain requires the X-User-ID header.
func (h *UsageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireUser)
	r.Get("/", h.Status)
	r.Post("/increment", h.Increment)
	return r
}

// UsageResponse is the export-meter status payload
type UsageResponse struct {
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	CanExport bool      `json:"can_export"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Status handles GET /api/usage
func (h *UsageHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("usage-handler")

	ctx, span := tracer.Start(ctx, "usage_handler.status",
		trace.WithAttributes(
			attribute.String("http.route", "/api/usage"),
		),
	)
	defer span.End()

	userID := middleware.UserID(ctx)
	status, err := h.service.Status(ctx, userID)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Int64("usage.count", status.Count),
		attribute.Bool("usage.can_export", status.CanExport),
	)

	render.JSON(w, r, toUsageResponse(ctx, status))
}

// Increment handles POST /api/usage/increment
func (h *UsageHandler) Increment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("usage-handler")

	ctx, span := tracer.Start(ctx, "usage_handler.increment",
		trace.WithAttributes(
			attribute.String("http.route", "/api/usage/increment"),
		),
	)
	defer span.End()

	userID := middleware.UserID(ctx)
	status, err := h.service.RecordExport(ctx, userID)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Int64("usage.count", status.Count))

	h.logger.InfoContext(ctx, "export recorded",
		slog.String("user_id", userID),
		slog.Int64("count", status.Count))

	render.JSON(w, r, toUsageResponse(ctx, status))
}

func (h *UsageHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := infrastructure.GetTraceID(r.Context())

	h.logger.ErrorContext(r.Context(), "usage request failed",
		slog.String("error", err.Error()))

	render.Render(w, r, apierrors.MapDomainError(err, traceID, r.URL.Path))
}

func toUsageResponse(ctx context.Context, status *usage.Status) UsageResponse {
	return UsageResponse{
		Count:     status.Count,
		Limit:     status.Limit,
		CanExport: status.CanExport,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}
}
