package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keymint/internal/errors"
	"keymint/internal/keygen"
	"keymint/internal/secrets"
)

// Options configures license policy for a Service.
type Options struct {
	// MaxActivations caps distinct users per license; 0 disables the cap.
	MaxActivations int
	// RecoveryCodeCount is the fixed batch size minted at issuance.
	RecoveryCodeCount int
}

// Service is the license lifecycle engine. All methods are safe for
// concurrent use; persistence-level races are resolved by the Store's
// conditional operations, not by locking here.
type Service struct {
	store     Store
	codec     *secrets.Codec
	deliverer Deliverer
	logger    *slog.Logger
	metrics   *Metrics
	opts      Options

	now func() time.Time
}

// NewService creates the license engine. metrics may be nil when
// telemetry is not configured (tests).
func NewService(store Store, codec *secrets.Codec, deliverer Deliverer, logger *slog.Logger, metrics *Metrics, opts Options) *Service {
	if deliverer == nil {
		deliverer = NopDeliverer{}
	}
	if opts.RecoveryCodeCount <= 0 {
		opts.RecoveryCodeCount = 3
	}
	return &Service{
		store:     store,
		codec:     codec,
		deliverer: deliverer,
		logger:    logger.With(slog.String("component", "license_service")),
		metrics:   metrics,
		opts:      opts,
		now:       time.Now,
	}
}

// IssueResult carries the persisted license plus the plaintext key and
// recovery codes. This is the only moment the plaintext exists outside
// the codec; callers own one-time delivery and must not log or persist it.
type IssueResult struct {
	License            *License
	PlainKey           string
	PlainRecoveryCodes []string
}

// Issue materializes a new license from a completed purchase event.
// The caller must have verified payment success and deduplicated on the
// purchase session id; Issue itself performs no idempotency check.
func (s *Service) Issue(ctx context.Context, email string, ref PurchaseRef, amountCents int64, currency string) (*IssueResult, error) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "license.issue",
		trace.WithAttributes(attribute.String("purchase.session_id", ref.SessionID)))
	defer span.End()

	if email == "" {
		return nil, fmt.Errorf("%w: email is required", apperrors.ErrMalformedInput)
	}
	if ref.SessionID == "" {
		return nil, fmt.Errorf("%w: purchase session id is required", apperrors.ErrMalformedInput)
	}

	plainKey, err := keygen.GenerateLicenseKey()
	if err != nil {
		return nil, err
	}

	encrypted, err := s.codec.Encrypt(plainKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt license key: %w", err)
	}

	now := s.now().UTC()
	plainCodes, hashedCodes, err := keygen.GenerateRecoveryBatch(s.opts.RecoveryCodeCount, s.codec.HashRecoveryCode, now)
	if err != nil {
		return nil, err
	}

	lic := &License{
		ID:              uuid.NewString(),
		SecretHash:      s.codec.HashKey(plainKey),
		SecretEncrypted: encrypted,
		Email:           email,
		PurchaseRef:     ref,
		AmountCents:     amountCents,
		Currency:        currency,
		Status:          StatusActive,
		Activations:     nil,
		Metadata: []MetadataEntry{{
			At:    now,
			Event: "issued",
		}},
		PurchasedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, hc := range hashedCodes {
		lic.RecoveryCodes = append(lic.RecoveryCodes, RecoveryCode{CodeHash: hc.Hash, CreatedAt: hc.CreatedAt})
	}

	if err := s.store.Insert(ctx, lic); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist license: %w", err)
	}

	s.metrics.recordIssued(ctx, currency)
	s.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", lic.ID),
		slog.String("email", email),
		slog.String("session_id", ref.SessionID))

	// Fire-and-forget delivery; the response still carries the plaintext
	// so the webhook caller can fall back to its own delivery pipeline.
	deliveryCtx := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(deliveryCtx, 30*time.Second)
		defer cancel()
		if err := s.deliverer.DeliverLicense(ctx, email, plainKey, plainCodes); err != nil {
			s.logger.ErrorContext(ctx, "license delivery failed",
				slog.String("license_id", lic.ID),
				slog.String("error", err.Error()))
		}
	}()

	return &IssueResult{
		License:            lic,
		PlainKey:           plainKey,
		PlainRecoveryCodes: plainCodes,
	}, nil
}

// HasSession reports whether a license already exists for the purchase
// session id. Webhook callers check this before Issue.
func (s *Service) HasSession(ctx context.Context, sessionID string) (bool, error) {
	lic, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return lic != nil, nil
}

// ValidationResult is the outcome of a successful validation.
type ValidationResult struct {
	Valid             bool  `json:"valid"`
	IsFirstActivation bool  `json:"is_first_activation"`
	License           *View `json:"license,omitempty"`
}

// Validate decides whether plainKey is valid for userID and evolves the
// activation list. Declines are returned as domain errors
// (ErrMalformedInput, ErrKeyNotFound, ErrLicenseNotActive,
// ErrActivationLimit); the zero-value result accompanies them.
func (s *Service) Validate(ctx context.Context, plainKey, userID string) (*ValidationResult, error) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "license.validate")
	defer span.End()
	start := s.now()

	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrMalformedInput)
	}
	plainKey = keygen.Normalize(plainKey)
	if err := keygen.ValidateLicenseKeyFormat(plainKey); err != nil {
		s.metrics.recordValidation(ctx, "malformed", s.sinceMS(start))
		return nil, err
	}

	lic, err := s.store.GetByKeyHash(ctx, s.codec.HashKey(plainKey))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup license: %w", err)
	}
	if lic == nil {
		s.metrics.recordValidation(ctx, "key_not_found", s.sinceMS(start))
		return nil, apperrors.ErrKeyNotFound
	}

	span.SetAttributes(attribute.String("license.id", lic.ID))

	if lic.Status != StatusActive {
		s.metrics.recordValidation(ctx, "not_active", s.sinceMS(start))
		return nil, apperrors.LicenseNotActive(lic.Status)
	}

	now := s.now().UTC()
	first, err := s.store.UpsertActivation(ctx, lic.ID, userID, now, s.opts.MaxActivations)
	if err != nil {
		if errors.Is(err, apperrors.ErrActivationLimit) {
			s.metrics.recordValidation(ctx, "activation_limit", s.sinceMS(start))
			return nil, err
		}
		span.RecordError(err)
		return nil, fmt.Errorf("record activation: %w", err)
	}

	if first {
		s.metrics.recordActivation(ctx)
		if lic.BoundUserID == "" {
			if err := s.store.BindFirstUser(ctx, lic.ID, userID, now); err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("bind first user: %w", err)
			}
		}
		s.logger.InfoContext(ctx, "license activated for user",
			slog.String("license_id", lic.ID),
			slog.String("user_id", userID))
	}

	// Re-read so the returned view reflects the refreshed activation list.
	lic, err = s.store.GetByID(ctx, lic.ID)
	if err != nil || lic == nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reload license: %w", err)
	}

	s.metrics.recordValidation(ctx, "valid", s.sinceMS(start))
	return &ValidationResult{
		Valid:             true,
		IsFirstActivation: first,
		License:           ViewOf(lic),
	}, nil
}

// RedeemResult carries the recovered plaintext secret and delivery address.
type RedeemResult struct {
	Secret string `json:"secret"`
	Email  string `json:"email"`
}

// Redeem exchanges a one-time recovery code for the original plaintext
// license key. The secret is decrypted before the code is marked used, so
// an internal decryption failure never burns the code; the mark itself is
// conditional, so two racing redemptions of the same code cannot both
// succeed.
func (s *Service) Redeem(ctx context.Context, plainCode string) (*RedeemResult, error) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "license.redeem")
	defer span.End()

	plainCode = keygen.Normalize(plainCode)
	if err := keygen.ValidateRecoveryCodeFormat(plainCode); err != nil {
		s.metrics.recordRedemption(ctx, "malformed")
		return nil, err
	}

	codeHash := s.codec.HashRecoveryCode(plainCode)
	lic, err := s.store.GetByRecoveryHash(ctx, codeHash)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup recovery code: %w", err)
	}
	if lic == nil {
		s.metrics.recordRedemption(ctx, "invalid")
		return nil, apperrors.ErrInvalidCode
	}

	span.SetAttributes(attribute.String("license.id", lic.ID))

	if lic.Status != StatusActive {
		s.metrics.recordRedemption(ctx, "not_active")
		return nil, apperrors.LicenseNotActive(lic.Status)
	}

	for i := range lic.RecoveryCodes {
		if lic.RecoveryCodes[i].CodeHash == codeHash && lic.RecoveryCodes[i].Used() {
			s.metrics.recordRedemption(ctx, "already_used")
			return nil, apperrors.ErrCodeAlreadyUsed
		}
	}

	if lic.SecretEncrypted == "" {
		s.metrics.recordRedemption(ctx, "unavailable")
		return nil, apperrors.ErrDecryptionUnavailable
	}
	secret, err := s.codec.Decrypt(lic.SecretEncrypted)
	if err != nil {
		span.RecordError(err)
		s.metrics.recordRedemption(ctx, "unavailable")
		s.logger.ErrorContext(ctx, "recovery decryption failed",
			slog.String("license_id", lic.ID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecryptionUnavailable, err)
	}

	consumed, err := s.store.ConsumeRecoveryCode(ctx, codeHash, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("consume recovery code: %w", err)
	}
	if !consumed {
		s.metrics.recordRedemption(ctx, "already_used")
		return nil, apperrors.ErrCodeAlreadyUsed
	}

	s.metrics.recordRedemption(ctx, "redeemed")
	s.logger.InfoContext(ctx, "recovery code redeemed",
		slog.String("license_id", lic.ID))

	return &RedeemResult{Secret: secret, Email: lic.Email}, nil
}

// Revoke transitions a license to revoked with an audit entry.
func (s *Service) Revoke(ctx context.Context, licenseID, reason string) error {
	return s.transition(ctx, licenseID, StatusRevoked, "revoked", reason)
}

// MarkRefunded transitions the license for a purchase session to refunded.
func (s *Service) MarkRefunded(ctx context.Context, sessionID, reason string) error {
	return s.transitionBySession(ctx, sessionID, StatusRefunded, "refunded", reason)
}

// MarkDisputed transitions the license for a purchase session to disputed.
func (s *Service) MarkDisputed(ctx context.Context, sessionID, reason string) error {
	return s.transitionBySession(ctx, sessionID, StatusDisputed, "disputed", reason)
}

func (s *Service) transitionBySession(ctx context.Context, sessionID, status, event, reason string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: purchase session id is required", apperrors.ErrMalformedInput)
	}
	lic, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lookup license by session: %w", err)
	}
	if lic == nil {
		return apperrors.ErrKeyNotFound
	}
	return s.transition(ctx, lic.ID, status, event, reason)
}

func (s *Service) transition(ctx context.Context, licenseID, status, event, reason string) error {
	now := s.now().UTC()
	entry := MetadataEntry{At: now, Event: event, Detail: reason}
	if err := s.store.SetStatus(ctx, licenseID, status, entry, now); err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	s.logger.InfoContext(ctx, "license status changed",
		slog.String("license_id", licenseID),
		slog.String("status", status))
	return nil
}

func (s *Service) sinceMS(start time.Time) float64 {
	return float64(s.now().Sub(start).Microseconds()) / 1000.0
}
