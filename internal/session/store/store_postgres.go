package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shadowgate/internal/session"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/platform/sentinel"
)

// PostgresStore persists sessions. This store is pure I/O; lifecycle rules
// (idempotent terminate, heartbeat rejection) belong in the service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, user_id, profile_type, status, ip_address, device_type, started_at, last_activity_at, ended_at, end_reason`

func (s *PostgresStore) Create(ctx context.Context, sess *session.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID.String(), sess.UserID.String(), string(sess.ProfileType), string(sess.Status),
		sess.IPAddress, sess.DeviceType, sess.StartedAt, sess.LastActivityAt,
		sess.EndedAt, nullIfEmpty(sess.EndReason),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.SessionID) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Terminate atomically flips an active session to terminated. If the session
// is already terminated it returns the existing row with ErrInvalidState so
// the service can treat the retry as an idempotent success; a missing session
// returns ErrNotFound.
func (s *PostgresStore) Terminate(ctx context.Context, id domain.SessionID, reason string, at time.Time) (*session.Session, error) {
	query := `
		UPDATE sessions
		SET status = 'terminated', ended_at = $2, end_reason = $3, last_activity_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING ` + sessionColumns
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id.String(), at, reason))
	if err == nil {
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("terminate session: %w", err)
	}

	// No active row matched: distinguish missing from already terminated.
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return existing, sentinel.ErrInvalidState
}

// RecordHeartbeat bumps last_activity_at on an active session. Terminated
// sessions return the row with ErrInvalidState; missing ones ErrNotFound.
func (s *PostgresStore) RecordHeartbeat(ctx context.Context, id domain.SessionID, at time.Time) (time.Time, error) {
	query := `
		UPDATE sessions
		SET last_activity_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING last_activity_at
	`
	var last time.Time
	err := s.db.QueryRowContext(ctx, query, id.String(), at).Scan(&last)
	if err == nil {
		return last, nil
	}
	if err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("record heartbeat: %w", err)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, sentinel.ErrInvalidState
}

// List returns a page of sessions ordered by last_activity_at descending,
// plus the total count matching the filter so pagination stays stable.
func (s *PostgresStore) List(ctx context.Context, filter session.ListFilter) ([]session.Session, int, error) {
	where := ``
	args := []any{}
	if filter.Status != "" {
		where = `WHERE status = $1`
		args = append(args, string(filter.Status))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM sessions ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT `+sessionColumns+`
		FROM sessions %s
		ORDER BY last_activity_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, total, nil
}

// ListActive returns every active session (detector input).
func (s *PostgresStore) ListActive(ctx context.Context) ([]session.Session, error) {
	return s.listWhere(ctx, `WHERE status = 'active'`)
}

// ListStartedSince returns sessions started after the cutoff (detector input).
func (s *PostgresStore) ListStartedSince(ctx context.Context, since time.Time) ([]session.Session, error) {
	return s.listWhere(ctx, `WHERE started_at > $1`, since)
}

func (s *PostgresStore) listWhere(ctx context.Context, where string, args ...any) ([]session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ` + where + ` ORDER BY started_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type sessionRow interface {
	Scan(dest ...any) error
}

func scanSession(row sessionRow) (*session.Session, error) {
	return scanSessionRow(row)
}

func scanSessionRow(row sessionRow) (*session.Session, error) {
	var (
		sess        session.Session
		id, userID  string
		profileType string
		status      string
		endedAt     sql.NullTime
		endReason   sql.NullString
	)
	if err := row.Scan(&id, &userID, &profileType, &status, &sess.IPAddress, &sess.DeviceType,
		&sess.StartedAt, &sess.LastActivityAt, &endedAt, &endReason); err != nil {
		return nil, err
	}

	sessionID, err := domain.ParseSessionID(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", id, err)
	}
	uid, err := domain.ParseUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", userID, err)
	}

	sess.ID = sessionID
	sess.UserID = uid
	sess.ProfileType = session.ProfileType(profileType)
	sess.Status = session.Status(status)
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if endReason.Valid {
		sess.EndReason = endReason.String
	}
	return &sess, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
