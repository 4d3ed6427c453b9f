// Package http contains the chi HTTP handlers for the API surface.
package http

import (
	"errors"
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
	"keymint/internal/keygen"
	"keymint/internal/license"
	"keymint/internal/middleware"
	"keymint/internal/services"
)

// LicenseHandler handles license validation and recovery requests
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Post("/recover", h.Recover)
	return r
}

// ValidateRequest is the license validation payload
type ValidateRequest struct {
	LicenseKey string `json:"license_key"`
	UserID     string `json:"user_id,omitempty"`
}

// Bind implements render.Binder
func (v *ValidateRequest) Bind(r *http.Request) error {
	if v.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// ValidateResponse is the license validation result payload
type ValidateResponse struct {
	Valid           bool          `json:"valid"`
	FirstActivation bool          `json:"first_activation"`
	License         *license.View `json:"license,omitempty"`
	TraceID         string        `json:"trace_id"`
	Timestamp       time.Time     `json:"timestamp"`
}

// RecoverRequest is the recovery code redemption payload
type RecoverRequest struct {
	RecoveryCode string `json:"recovery_code"`
}

// Bind implements render.Binder
func (v *RecoverRequest) Bind(r *http.Request) error {
	if v.RecoveryCode == "" {
		return errors.New("recovery_code is required")
	}
	return nil
}

// RecoverResponse carries the recovered license key
type RecoverResponse struct {
	LicenseKey string    `json:"license_key"`
	Email      string    `json:"email"`
	TraceID    string    `json:"trace_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate handles POST /api/license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.validate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/validate"),
		),
	)
	defer span.End()

	data := &ValidateRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.badRequest(w, r, err, "/api/license/validate")
		return
	}

	userID := data.UserID
	if userID == "" {
		userID = middleware.ClientKey(r)
	}

	span.SetAttributes(
		attribute.String("license.key_prefix", maskKey(data.LicenseKey)),
	)

	result, err := h.service.Validate(ctx, data.LicenseKey, userID)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("license.result", "declined"))

		h.logger.InfoContext(ctx, "license validation declined",
			slog.String("key_prefix", maskKey(data.LicenseKey)),
			slog.String("error", err.Error()))

		h.renderDomainError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.result", "valid"),
		attribute.Bool("license.first_activation", result.IsFirstActivation),
	)

	h.logger.InfoContext(ctx, "license validated",
		slog.String("key_prefix", maskKey(data.LicenseKey)),
		slog.Bool("first_activation", result.IsFirstActivation))

	render.JSON(w, r, ValidateResponse{
		Valid:           result.Valid,
		FirstActivation: result.IsFirstActivation,
		License:         result.License,
		TraceID:         infrastructure.GetTraceID(ctx),
		Timestamp:       time.Now().UTC(),
	})
}

// Recover handles POST /api/license/recover
func (h *LicenseHandler) Recover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.recover",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/recover"),
		),
	)
	defer span.End()

	data := &RecoverRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.badRequest(w, r, err, "/api/license/recover")
		return
	}

	result, err := h.service.Redeem(ctx, data.RecoveryCode)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("recovery.result", "declined"))

		// The code itself never reaches the log.
		h.logger.InfoContext(ctx, "recovery redemption declined",
			slog.String("error", err.Error()))

		h.renderDomainError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("recovery.result", "redeemed"))
	h.logger.InfoContext(ctx, "recovery code redeemed",
		slog.String("email", result.Email))

	render.JSON(w, r, RecoverResponse{
		LicenseKey: result.Secret,
		Email:      result.Email,
		TraceID:    infrastructure.GetTraceID(ctx),
		Timestamp:  time.Now().UTC(),
	})
}

func (h *LicenseHandler) badRequest(w http.ResponseWriter, r *http.Request, err error, instance string) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		instance,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	render.Render(w, r, problem)
}

func (h *LicenseHandler) renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := infrastructure.GetTraceID(r.Context())
	render.Render(w, r, apierrors.MapDomainError(err, traceID, r.URL.Path))
}

func maskKey(key string) string {
	normalized := keygen.Normalize(key)
	if len(normalized) <= 4 {
		return "****"
	}
	return normalized[:4] + "****"
}
