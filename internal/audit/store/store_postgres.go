package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"shadowgate/internal/audit"
)

// PostgresStore persists audit entries in the audit_log table. Rows are
// append-only: there is no update or delete path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry audit.Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	var userID any
	if entry.UserID != "" {
		userID = entry.UserID
	}

	query := `
		INSERT INTO audit_log (id, user_id, action, profile_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, userID, string(entry.Action), entry.ProfileType, metadata, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountByActionSince(ctx context.Context, action audit.Action, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM audit_log WHERE action = $1 AND created_at > $2`
	if err := s.db.QueryRowContext(ctx, query, string(action), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListByActionsSince(ctx context.Context, actions []audit.Action, since time.Time) ([]audit.Entry, error) {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	query := `
		SELECT id, user_id, action, profile_type, metadata, created_at
		FROM audit_log
		WHERE action = ANY($1) AND created_at > $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(names), since)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, user_id, action, profile_type, metadata, created_at
		FROM audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			entry    audit.Entry
			userID   sql.NullString
			action   string
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &userID, &action, &entry.ProfileType, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		if userID.Valid {
			entry.UserID = userID.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
