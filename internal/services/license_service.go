// Package services provides the application service layer between the
// HTTP transport and the domain packages.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"keymint/internal/license"
)

// LicenseService is the transport-facing seam for license operations
type LicenseService interface {
	// Validate checks a license key for userID and records the activation.
	Validate(ctx context.Context, plainKey, userID string) (*license.ValidationResult, error)

	// Redeem exchanges a one-time recovery code for the stored secret.
	Redeem(ctx context.Context, plainCode string) (*license.RedeemResult, error)

	// IssueFromPurchase creates a license for a completed purchase. The
	// bool result reports whether the purchase was already processed.
	IssueFromPurchase(ctx context.Context, notice PurchaseNotice) (*license.IssueResult, bool, error)

	// MarkRefunded transitions the license tied to a purchase session to refunded.
	MarkRefunded(ctx context.Context, sessionID, reason string) error

	// MarkDisputed transitions the license tied to a purchase session to disputed.
	MarkDisputed(ctx context.Context, sessionID, reason string) error

	// Revoke administratively disables a license.
	Revoke(ctx context.Context, licenseID, reason string) error
}

// PurchaseNotice carries the fields of a completed checkout that license
// issuance needs.
type PurchaseNotice struct {
	SessionID   string
	CustomerID  string
	Email       string
	AmountCents int64
	Currency    string
}

type licenseService struct {
	core   *license.Service
	logger *slog.Logger
}

// NewLicenseService creates the license service backed by the domain engine
func NewLicenseService(core *license.Service, logger *slog.Logger) LicenseService {
	return &licenseService{
		core:   core,
		logger: logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) Validate(ctx context.Context, plainKey, userID string) (*license.ValidationResult, error) {
	return s.core.Validate(ctx, plainKey, userID)
}

func (s *licenseService) Redeem(ctx context.Context, plainCode string) (*license.RedeemResult, error) {
	return s.core.Redeem(ctx, plainCode)
}

// IssueFromPurchase is idempotent per purchase session: webhook providers
// retry deliveries, and a retried session must not mint a second key.
func (s *licenseService) IssueFromPurchase(ctx context.Context, notice PurchaseNotice) (*license.IssueResult, bool, error) {
	seen, err := s.core.HasSession(ctx, notice.SessionID)
	if err != nil {
		return nil, false, fmt.Errorf("check purchase session: %w", err)
	}
	if seen {
		s.logger.InfoContext(ctx, "purchase session already processed",
			slog.String("session_id", notice.SessionID))
		return nil, true, nil
	}

	ref := license.PurchaseRef{
		CustomerID: notice.CustomerID,
		SessionID:  notice.SessionID,
	}

	result, err := s.core.Issue(ctx, notice.Email, ref, notice.AmountCents, notice.Currency)
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

func (s *licenseService) MarkRefunded(ctx context.Context, sessionID, reason string) error {
	return s.core.MarkRefunded(ctx, sessionID, reason)
}

func (s *licenseService) MarkDisputed(ctx context.Context, sessionID, reason string) error {
	return s.core.MarkDisputed(ctx, sessionID, reason)
}

func (s *licenseService) Revoke(ctx context.Context, licenseID, reason string) error {
	return s.core.Revoke(ctx, licenseID, reason)
}
