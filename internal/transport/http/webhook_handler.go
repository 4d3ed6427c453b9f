package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
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
	"keymint/internal/services"
)

// WebhookHandler receives purchase lifecycle events from the payment provider
type WebhookHandler struct {
	service       services.LicenseService
	signingSecret string
	logger        *slog.Logger
}

// NewWebhookHandler creates a new webhook handler. When signingSecret is
// empty, signature verification is skipped; use that only in tests.
func NewWebhookHandler(service services.LicenseService, signingSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:       service,
		signingSecret: signingSecret,
		logger:        logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns a chi router for webhook endpoints
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/purchase", h.Purchase)
	r.Post("/refund", h.Refund)
	r.Post("/dispute", h.Dispute)
	return r
}

// PurchaseEvent is the completed-checkout webhook payload
type PurchaseEvent struct {
	SessionID   string `json:"session_id"`
	CustomerID  string `json:"customer_id"`
	Email       string `json:"email"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Bind implements render.Binder
func (e *PurchaseEvent) Bind(r *http.Request) error {
	if e.SessionID == "" {
		return errors.New("session_id is required")
	}
	if e.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

// LifecycleEvent is the refund or dispute webhook payload
type LifecycleEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// Bind implements render.Binder
func (e *LifecycleEvent) Bind(r *http.Request) error {
	if e.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// WebhookResponse acknowledges a processed event
type WebhookResponse struct {
	Processed bool      `json:"processed"`
	Duplicate bool      `json:"duplicate,omitempty"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Purchase handles POST /api/webhooks/purchase
func (h *WebhookHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("webhook-handler")

	ctx, span := tracer.Start(ctx, "webhook_handler.purchase",
		trace.WithAttributes(
			attribute.String("http.route", "/api/webhooks/purchase"),
		),
	)
	defer span.End()

	if !h.verifySignature(w, r) {
		span.SetAttributes(attribute.String("webhook.result", "bad_signature"))
		return
	}

	event := &PurchaseEvent{}
	if err := render.Bind(r, event); err != nil {
		span.RecordError(err)
		h.badRequest(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("purchase.session_id", event.SessionID))

	_, duplicate, err := h.service.IssueFromPurchase(ctx, services.PurchaseNotice{
		SessionID:   event.SessionID,
		CustomerID:  event.CustomerID,
		Email:       event.Email,
		AmountCents: event.AmountCents,
		Currency:    event.Currency,
	})
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "purchase webhook failed",
			slog.String("session_id", event.SessionID),
			slog.String("error", err.Error()))
		h.renderDomainError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("webhook.duplicate", duplicate))

	h.logger.InfoContext(ctx, "purchase webhook processed",
		slog.String("session_id", event.SessionID),
		slog.Bool("duplicate", duplicate))

	render.JSON(w, r, WebhookResponse{
		Processed: true,
		Duplicate: duplicate,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	})
}

// Refund handles POST /api/webhooks/refund
func (h *WebhookHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "refund", h.service.MarkRefunded)
}

// Dispute handles POST /api/webhooks/dispute
func (h *WebhookHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "dispute", h.service.MarkDisputed)
}

func (h *WebhookHandler) lifecycle(w http.ResponseWriter, r *http.Request, kind string, apply func(ctx context.Context, sessionID, reason string) error) {
	ctx := r.Context()
	tracer := otel.Tracer("webhook-handler")

	ctx, span := tracer.Start(ctx, "webhook_handler."+kind,
		trace.WithAttributes(
			attribute.String("http.route", "/api/webhooks/"+kind),
		),
	)
	defer span.End()

	if !h.verifySignature(w, r) {
		span.SetAttributes(attribute.String("webhook.result", "bad_signature"))
		return
	}

	event := &LifecycleEvent{}
	if err := render.Bind(r, event); err != nil {
		span.RecordError(err)
		h.badRequest(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("purchase.session_id", event.SessionID))

	if err := apply(ctx, event.SessionID, event.Reason); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, kind+" webhook failed",
			slog.String("session_id", event.SessionID),
			slog.String("error", err.Error()))
		h.renderDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, kind+" webhook processed",
		slog.String("session_id", event.SessionID))

	render.JSON(w, r, WebhookResponse{
		Processed: true,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	})
}

// verifySignature checks the provider HMAC over the raw body. The body is
// restored for the subsequent decode. Returns false after writing the
// error response when verification fails.
func (h *WebhookHandler) verifySignature(w http.ResponseWriter, r *http.Request) bool {
	if h.signingSecret == "" {
		return true
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		h.badRequest(w, r, errors.New("unreadable request body"))
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided := r.Header.Get("X-Webhook-Signature")
	if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed")

		problem := apierrors.NewProblemDetails(
			http.StatusUnauthorized,
			"/errors/invalid-signature",
			"Invalid Signature",
			"Webhook signature verification failed",
			r.URL.Path,
		).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

		render.Render(w, r, problem)
		return false
	}

	return true
}

func (h *WebhookHandler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	render.Render(w, r, problem)
}

func (h *WebhookHandler) renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := infrastructure.GetTraceID(r.Context())
	render.Render(w, r, apierrors.MapDomainError(err, traceID, r.URL.Path))
}
