package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"shadowgate/internal/anomaly"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/platform/sentinel"
)

const alertColumns = "id, type, severity, subject, message, created_at, resolved_at, resolution, notes"

// PostgresStore persists anomaly alerts. Rows are append-plus-one-patch: the
// resolve update is the only mutation, and nothing deletes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed alert store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create appends a new alert row.
func (s *PostgresStore) Create(ctx context.Context, alert *anomaly.Alert) error {
	query := `
		INSERT INTO anomaly_alerts (id, type, severity, subject, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		alert.ID.String(), string(alert.Type), string(alert.Severity),
		alert.Subject, alert.Message, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Get returns one alert by id.
func (s *PostgresStore) Get(ctx context.Context, id domain.AlertID) (*anomaly.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM anomaly_alerts WHERE id = $1`, id.String())
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// Resolve patches resolution metadata unconditionally. Resolving an
// already-resolved alert overwrites the previous patch (last-write-wins).
func (s *PostgresStore) Resolve(ctx context.Context, id domain.AlertID, resolution, notes string, at time.Time) (*anomaly.Alert, error) {
	query := `
		UPDATE anomaly_alerts
		SET resolved_at = $2, resolution = $3, notes = $4
		WHERE id = $1
		RETURNING ` + alertColumns
	row := s.db.QueryRowContext(ctx, query, id.String(), at, resolution, notes)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	return alert, nil
}

// List returns alerts newest first with a stable total and the count of
// unresolved alerts under the same severity filter.
func (s *PostgresStore) List(ctx context.Context, filter anomaly.ListFilter) ([]anomaly.Alert, int, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)))
	}
	severityWhere := strings.Join(conds, " AND ")

	switch filter.Status {
	case anomaly.StatusActive:
		conds = append(conds, "resolved_at IS NULL")
	case anomaly.StatusResolved:
		conds = append(conds, "resolved_at IS NOT NULL")
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomaly_alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, 0, fmt.Errorf("count alerts: %w", err)
	}
	var active int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomaly_alerts WHERE `+severityWhere+` AND resolved_at IS NULL`,
		args...).Scan(&active); err != nil {
		return nil, 0, 0, fmt.Errorf("count active alerts: %w", err)
	}

	pageArgs := append(args, filter.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM anomaly_alerts WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		alertColumns, where, len(pageArgs))
	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []anomaly.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, total, active, nil
}

// HasUnresolved reports whether an open alert exists for (type, subject).
// The detector consults it so restarts do not re-raise an alert somebody is
// already looking at.
func (s *PostgresStore) HasUnresolved(ctx context.Context, typ anomaly.Type, subject string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM anomaly_alerts
			WHERE type = $1 AND subject = $2 AND resolved_at IS NULL
		)
	`
	if err := s.db.QueryRowContext(ctx, query, string(typ), subject).Scan(&exists); err != nil {
		return false, fmt.Errorf("check unresolved alert: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*anomaly.Alert, error) {
	var (
		alert      anomaly.Alert
		id         string
		resolvedAt sql.NullTime
		resolution sql.NullString
		notes      sql.NullString
	)
	if err := row.Scan(&id, &alert.Type, &alert.Severity, &alert.Subject,
		&alert.Message, &alert.CreatedAt, &resolvedAt, &resolution, &notes); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseAlertID(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt alert id %q: %w", id, err)
	}
	alert.ID = parsed
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	alert.Resolution = resolution.String
	alert.Notes = notes.String
	return &alert, nil
}
