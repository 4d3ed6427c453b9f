package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists usage counters in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a usage store backed by the given db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the current export count, 0 when no record exists.
func (s *PostgresStore) Get(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT export_count FROM usage_records WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// Increment adds 1 server-side. The upsert makes the relative add atomic
// under concurrent increments for the same user.
func (s *PostgresStore) Increment(ctx context.Context, userID string, now time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (user_id, export_count, created_at, updated_at)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET export_count = usage_records.export_count + 1, updated_at = $2
		RETURNING export_count`,
		userID, now).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
