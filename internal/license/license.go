// Package license implements the license lifecycle engine: issuance from
// completed purchases, the per-user activation state machine, and the
// one-time recovery code redemption flow.
package license

import (
	"time"
)

// Status values for a license. A license is created active and never
// deleted; refund, dispute and revocation only move it away from active.
const (
	StatusActive   = "active"
	StatusRevoked  = "revoked"
	StatusRefunded = "refunded"
	StatusDisputed = "disputed"
)

// ValidStatus reports whether s is a known license status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusRevoked, StatusRefunded, StatusDisputed:
		return true
	}
	return false
}

// License is the persistent record of one issued license. The plaintext
// key exists only at issuance time; the record carries its one-way hash
// (for equality lookups) and its authenticated-encrypted form (for
// recovery) and nothing else.
type License struct {
	ID              string         `json:"id"`
	SecretHash      string         `json:"-"`
	SecretEncrypted string         `json:"-"`
	Email           string         `json:"email"`
	PurchaseRef     PurchaseRef    `json:"purchase_ref"`
	BoundUserID     string         `json:"bound_user_id,omitempty"`
	AmountCents     int64          `json:"amount_cents"`
	Currency        string         `json:"currency"`
	Status          string         `json:"status"`
	Activations     []Activation   `json:"activations"`
	RecoveryCodes   []RecoveryCode `json:"-"`
	Metadata        []MetadataEntry `json:"metadata,omitempty"`
	PurchasedAt     time.Time      `json:"purchased_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// PurchaseRef carries the opaque identifiers of the originating payment
// record, used for webhook idempotency and refund/dispute correlation.
type PurchaseRef struct {
	CustomerID string `json:"customer_id"`
	SessionID  string `json:"session_id"`
}

// Activation binds a license to one external user identity. Entries are
// unique by UserID and the list never shrinks.
type Activation struct {
	UserID        string    `json:"user_id"`
	ActivatedAt   time.Time `json:"activated_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// RecoveryCode is the stored form of a minted backup code. UsedAt is nil
// until the code is redeemed; once set it never clears, which makes the
// used list append-only.
type RecoveryCode struct {
	CodeHash  string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Used reports whether the code has been redeemed.
func (rc *RecoveryCode) Used() bool {
	return rc.UsedAt != nil
}

// MetadataEntry is one append-only audit trail record on a license.
type MetadataEntry struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// ActivationFor returns the activation entry for userID, or nil.
func (l *License) ActivationFor(userID string) *Activation {
	for i := range l.Activations {
		if l.Activations[i].UserID == userID {
			return &l.Activations[i]
		}
	}
	return nil
}

// View is the caller-facing projection of a license, with both secret
// representations stripped.
type View struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Status      string       `json:"status"`
	BoundUserID string       `json:"bound_user_id,omitempty"`
	Activations []Activation `json:"activations"`
	PurchasedAt time.Time    `json:"purchased_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ViewOf projects a license into its caller-facing form.
func ViewOf(l *License) *View {
	return &View{
		ID:          l.ID,
		Email:       l.Email,
		Status:      l.Status,
		BoundUserID: l.BoundUserID,
		Activations: l.Activations,
		PurchasedAt: l.PurchasedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}
