package license

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "keymint/internal/errors"
)

// PostgresStore persists licenses in PostgreSQL. All conditional updates
// are single statements so concurrent callers cannot lose writes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a license store backed by the given db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const licenseColumns = `id, secret_hash, secret_encrypted, email,
	purchase_customer_id, purchase_session_id, bound_user_id,
	amount_cents, currency, status, metadata, purchased_at, created_at, updated_at`

// Insert persists a freshly issued license and its recovery codes in one
// transaction.
func (s *PostgresStore) Insert(ctx context.Context, lic *License) error {
	metadata, err := json.Marshal(lic.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14)`,
		lic.ID, lic.SecretHash, lic.SecretEncrypted, lic.Email,
		lic.PurchaseRef.CustomerID, lic.PurchaseRef.SessionID, lic.BoundUserID,
		lic.AmountCents, lic.Currency, lic.Status, metadata,
		lic.PurchasedAt, lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}

	for _, rc := range lic.RecoveryCodes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recovery_codes (code_hash, license_id, created_at)
			VALUES ($1, $2, $3)`,
			rc.CodeHash, lic.ID, rc.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}

	return tx.Commit()
}

// GetByKeyHash returns the license whose secret hash matches, or nil.
func (s *PostgresStore) GetByKeyHash(ctx context.Context, keyHash string) (*License, error) {
	return s.getOne(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE secret_hash = $1`, keyHash)
}

// GetByID returns the license by id, or nil.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*License, error) {
	return s.getOne(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
}

// GetBySessionID returns the license issued for a purchase session, or nil.
func (s *PostgresStore) GetBySessionID(ctx context.Context, sessionID string) (*License, error) {
	return s.getOne(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE purchase_session_id = $1`, sessionID)
}

// GetByRecoveryHash resolves a recovery code hash to its license via a
// point lookup on the recovery_codes primary key.
func (s *PostgresStore) GetByRecoveryHash(ctx context.Context, codeHash string) (*License, error) {
	var licenseID string
	err := s.db.QueryRowContext(ctx,
		`SELECT license_id FROM recovery_codes WHERE code_hash = $1`, codeHash).Scan(&licenseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.GetByID(ctx, licenseID)
}

// UpsertActivation records an activation for (licenseID, userID) while
// enforcing the distinct-user cap. A re-validation bumps last_checked_at;
// a new user is inserted only while the cap allows it. Both paths are
// single statements, so concurrent first activations for different users
// cannot drop each other.
func (s *PostgresStore) UpsertActivation(ctx context.Context, licenseID, userID string, now time.Time, maxActivations int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE activations SET last_checked_at = $3
		WHERE license_id = $1 AND user_id = $2`,
		licenseID, userID, now)
	if err != nil {
		return false, fmt.Errorf("refresh activation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if err := bumpLicense(ctx, tx, licenseID, now); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	// New user. The cap check and the insert share one statement; the
	// ON CONFLICT clause absorbs a concurrent insert of the same user.
	var inserted bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO activations (license_id, user_id, activated_at, last_checked_at)
		SELECT $1, $2, $3, $3
		WHERE $4 = 0 OR (SELECT COUNT(*) FROM activations WHERE license_id = $1) < $4
		ON CONFLICT (license_id, user_id)
		DO UPDATE SET last_checked_at = EXCLUDED.last_checked_at
		RETURNING (xmax = 0)`,
		licenseID, userID, now, maxActivations).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperrors.ErrActivationLimit
		}
		return false, fmt.Errorf("insert activation: %w", err)
	}

	if err := bumpLicense(ctx, tx, licenseID, now); err != nil {
		return false, err
	}
	return inserted, tx.Commit()
}

// BindFirstUser sets bound_user_id if it is still unset. A concurrent
// first activation that got there first wins; this call then changes
// nothing, which is the intended outcome.
func (s *PostgresStore) BindFirstUser(ctx context.Context, licenseID, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET bound_user_id = $2, updated_at = $3
		WHERE id = $1 AND bound_user_id IS NULL`,
		licenseID, userID, now)
	return err
}

// ConsumeRecoveryCode marks the code used only while it is still unused.
// Exactly one of two racing redemptions observes a row change.
func (s *PostgresStore) ConsumeRecoveryCode(ctx context.Context, codeHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recovery_codes SET used_at = $2
		WHERE code_hash = $1 AND used_at IS NULL`,
		codeHash, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE licenses SET updated_at = $2
		WHERE id = (SELECT license_id FROM recovery_codes WHERE code_hash = $1)`,
		codeHash, now)
	return true, err
}

// SetStatus transitions a license status and appends an audit entry to
// the metadata trail.
func (s *PostgresStore) SetStatus(ctx context.Context, licenseID, status string, entry MetadataEntry, now time.Time) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: unknown license status %q", apperrors.ErrMalformedInput, status)
	}
	entryJSON, err := json.Marshal([]MetadataEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal metadata entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET status = $2, metadata = metadata || $3::jsonb, updated_at = $4
		WHERE id = $1`,
		licenseID, status, entryJSON, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrKeyNotFound
	}
	return nil
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (*License, error) {
	lic, err := scanLicense(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.loadActivations(ctx, lic); err != nil {
		return nil, err
	}
	if err := s.loadRecoveryCodes(ctx, lic); err != nil {
		return nil, err
	}
	return lic, nil
}

func (s *PostgresStore) loadActivations(ctx context.Context, lic *License) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, activated_at, last_checked_at
		FROM activations WHERE license_id = $1
		ORDER BY activated_at`,
		lic.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a Activation
		if err := rows.Scan(&a.UserID, &a.ActivatedAt, &a.LastCheckedAt); err != nil {
			return err
		}
		lic.Activations = append(lic.Activations, a)
	}
	return rows.Err()
}

func (s *PostgresStore) loadRecoveryCodes(ctx context.Context, lic *License) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_hash, created_at, used_at
		FROM recovery_codes WHERE license_id = $1
		ORDER BY created_at`,
		lic.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rc RecoveryCode
		var usedAt sql.NullTime
		if err := rows.Scan(&rc.CodeHash, &rc.CreatedAt, &usedAt); err != nil {
			return err
		}
		if usedAt.Valid {
			t := usedAt.Time
			rc.UsedAt = &t
		}
		lic.RecoveryCodes = append(lic.RecoveryCodes, rc)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	var lic License
	var boundUser sql.NullString
	var metadata []byte

	err := row.Scan(&lic.ID, &lic.SecretHash, &lic.SecretEncrypted, &lic.Email,
		&lic.PurchaseRef.CustomerID, &lic.PurchaseRef.SessionID, &boundUser,
		&lic.AmountCents, &lic.Currency, &lic.Status, &metadata,
		&lic.PurchasedAt, &lic.CreatedAt, &lic.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if boundUser.Valid {
		lic.BoundUserID = boundUser.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &lic.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &lic, nil
}

func bumpLicense(ctx context.Context, tx *sql.Tx, licenseID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE licenses SET updated_at = $2 WHERE id = $1`, licenseID, now)
	return err
}
