package license

import (
	"context"
	"time"
)

// Store is the persistence contract for licenses. Every mutating method
// is scoped to a single license row; implementations must make the
// conditional operations atomic under concurrent callers so unrelated
// licenses never block each other and racing writers never lose updates.
type Store interface {
	// Insert persists a freshly issued license together with its hashed
	// recovery codes in one transaction.
	Insert(ctx context.Context, lic *License) error

	// GetByKeyHash returns the license whose secret hash matches, with
	// activations and recovery codes loaded, or nil if none.
	GetByKeyHash(ctx context.Context, keyHash string) (*License, error)

	// GetByID returns the license by id, or nil if none.
	GetByID(ctx context.Context, id string) (*License, error)

	// GetBySessionID returns the license issued for a purchase session
	// id, or nil. Webhook callers use this for idempotency checks.
	GetBySessionID(ctx context.Context, sessionID string) (*License, error)

	// UpsertActivation records an activation for (licenseID, userID):
	// inserts a fresh entry or bumps last_checked_at on the existing
	// one. Returns true when a new entry was created. maxActivations
	// caps distinct users per license (0 disables the cap); when the
	// insert would exceed it the call fails with ErrActivationLimit and
	// nothing changes.
	UpsertActivation(ctx context.Context, licenseID, userID string, now time.Time, maxActivations int) (bool, error)

	// BindFirstUser sets bound_user_id to userID if it is still unset.
	BindFirstUser(ctx context.Context, licenseID, userID string, now time.Time) error

	// GetByRecoveryHash returns the license owning the recovery code
	// with this hash via a point lookup, or nil if no code matches.
	GetByRecoveryHash(ctx context.Context, codeHash string) (*License, error)

	// ConsumeRecoveryCode marks the code used if and only if it is still
	// unused. Returns false when another redemption already consumed it.
	ConsumeRecoveryCode(ctx context.Context, codeHash string, now time.Time) (bool, error)

	// SetStatus transitions a license status and appends an audit entry.
	SetStatus(ctx context.Context, licenseID, status string, entry MetadataEntry, now time.Time) error
}
