package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shadowgate/internal/lockout"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/platform/sentinel"
)

// PostgresStore persists lockouts, one live row per user. Concurrent lock
// calls serialize through the row-level upsert; last write wins entirely.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed lockout store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert replaces any existing lock for the user with the given one.
func (s *PostgresStore) Upsert(ctx context.Context, lock *lockout.Lockout) error {
	query := `
		INSERT INTO lockouts (user_id, reason, locked_until, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			locked_until = EXCLUDED.locked_until,
			created_at = EXCLUDED.created_at,
			created_by = EXCLUDED.created_by
	`
	_, err := s.db.ExecContext(ctx, query,
		lock.UserID.String(), lock.Reason, lock.LockedUntil, lock.CreatedAt, lock.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert lockout: %w", err)
	}
	return nil
}

// Get returns the user's lock row regardless of expiry; expiry interpretation
// belongs to the service.
func (s *PostgresStore) Get(ctx context.Context, userID domain.UserID) (*lockout.Lockout, error) {
	query := `
		SELECT user_id, reason, locked_until, created_at, created_by
		FROM lockouts
		WHERE user_id = $1
	`
	var (
		lock lockout.Lockout
		uid  string
	)
	err := s.db.QueryRowContext(ctx, query, userID.String()).
		Scan(&uid, &lock.Reason, &lock.LockedUntil, &lock.CreatedAt, &lock.CreatedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get lockout: %w", err)
	}
	parsed, err := domain.ParseUserID(uid)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", uid, err)
	}
	lock.UserID = parsed
	return &lock, nil
}

// Delete removes the user's lock row. Deleting an absent row is not an error.
func (s *PostgresStore) Delete(ctx context.Context, userID domain.UserID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lockouts WHERE user_id = $1`, userID.String()); err != nil {
		return fmt.Errorf("delete lockout: %w", err)
	}
	return nil
}

// CountActiveAt counts users whose lock is still in force at the instant.
func (s *PostgresStore) CountActiveAt(ctx context.Context, now time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM lockouts WHERE locked_until > $1`
	if err := s.db.QueryRowContext(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count lockouts: %w", err)
	}
	return count, nil
}
