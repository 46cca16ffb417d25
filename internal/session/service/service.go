// Package service implements session registry operations: shadow-mode entry,
// heartbeats, idempotent termination, and listing.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"shadowgate/internal/audit"
	"shadowgate/internal/events"
	"shadowgate/internal/ports"
	"shadowgate/internal/session"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/platform/sentinel"
	"shadowgate/pkg/requestcontext"
)

// Store is the durable session registry consumed by this service.
type Store interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, id domain.SessionID) (*session.Session, error)
	Terminate(ctx context.Context, id domain.SessionID, reason string, at time.Time) (*session.Session, error)
	RecordHeartbeat(ctx context.Context, id domain.SessionID, at time.Time) (time.Time, error)
	List(ctx context.Context, filter session.ListFilter) ([]session.Session, int, error)
	ListActive(ctx context.Context) ([]session.Session, error)
	ListStartedSince(ctx context.Context, since time.Time) ([]session.Session, error)
}

// Service orchestrates session lifecycle with the fixed write-then-notify
// order: durable write, audit entry, then best-effort broadcast.
type Service struct {
	store    Store
	auditLog ports.AuditPublisher
	notifier ports.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) { s.auditLog = publisher }
}

func WithNotifier(notifier ports.Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// New constructs the session service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	svc := &Service{
		store:    store,
		notifier: ports.NopNotifier{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("shadowgate/session"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Start records shadow-mode entry for a user. Client IP and device type come
// from request metadata; the device falls back to "unknown" when the
// User-Agent is absent or unparseable.
func (s *Service) Start(ctx context.Context, userID domain.UserID, profile session.ProfileType) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Start")
	defer span.End()

	now := requestcontext.Now(ctx)
	sess := &session.Session{
		ID:             domain.NewSessionID(),
		UserID:         userID,
		ProfileType:    profile,
		Status:         session.StatusActive,
		IPAddress:      requestcontext.ClientIP(ctx),
		DeviceType:     deviceTypeFrom(requestcontext.UserAgent(ctx)),
		StartedAt:      now,
		LastActivityAt: now,
	}
	if sess.ProfileType == "" {
		sess.ProfileType = session.ProfileShadow
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create session")
	}

	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		UserID:      userID.String(),
		Action:      audit.ActionSessionStarted,
		ProfileType: string(sess.ProfileType),
		Metadata: map[string]any{
			"session_id":  sess.ID.String(),
			"device_type": sess.DeviceType,
			"ip_address":  sess.IPAddress,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return sess, nil
}

// Terminate ends a session on operator command. Safe to retry: terminating an
// already-terminated session reports success with the original endedAt and
// neither re-audits nor re-broadcasts. The durable write strictly precedes
// the broadcast; a failed notification never unwinds the termination.
func (s *Service) Terminate(ctx context.Context, id domain.SessionID, reason string) (*session.Session, error) {
	return s.terminate(ctx, id, reason, audit.ActionSessionTerminatedByOps)
}

func (s *Service) terminate(ctx context.Context, id domain.SessionID, reason string, action audit.Action) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Terminate")
	defer span.End()

	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "termination reason cannot be empty")
	}

	now := requestcontext.Now(ctx)
	sess, err := s.store.Terminate(ctx, id, reason, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		// Already terminated: idempotent success, no duplicate audit or event.
		return sess, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to terminate session")
	}

	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		UserID:      sess.UserID.String(),
		Action:      action,
		ProfileType: string(sess.ProfileType),
		Metadata: map[string]any{
			"session_id": sess.ID.String(),
			"reason":     reason,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, events.New(sess.UserID.String(), events.TypeSessionTerminated,
		events.SessionTerminatedPayload{
			SessionID: sess.ID.String(),
			Reason:    reason,
			Timestamp: now,
		}, now))

	return sess, nil
}

// RecordHeartbeat bumps last_activity_at. A heartbeat against a terminated
// session fails with a conflict so the owning client forces logout.
func (s *Service) RecordHeartbeat(ctx context.Context, id domain.SessionID) (time.Time, error) {
	now := requestcontext.Now(ctx)
	last, err := s.store.RecordHeartbeat(ctx, id, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return time.Time{}, dErrors.New(dErrors.CodeNotFound, "session not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return time.Time{}, dErrors.New(dErrors.CodeConflict, "session is no longer active")
	case err != nil:
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to record heartbeat")
	}
	return last, nil
}

// List returns a page of sessions with a stable total count.
func (s *Service) List(ctx context.Context, filter session.ListFilter) ([]session.Session, int, error) {
	if err := filter.Normalize(); err != nil {
		return nil, 0, err
	}
	sessions, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list sessions")
	}
	return sessions, total, nil
}

// ExpireIdle terminates active sessions whose last activity predates the TTL.
// Used by the periodic detector pass; each expiry follows the same
// write-audit-notify order as an operator termination.
func (s *Service) ExpireIdle(ctx context.Context, ttl time.Duration) (int, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list active sessions")
	}

	cutoff := requestcontext.Now(ctx).Add(-ttl)
	expired := 0
	for _, sess := range active {
		if sess.LastActivityAt.After(cutoff) {
			continue
		}
		if _, err := s.terminate(ctx, sess.ID, "inactivity_timeout", audit.ActionSessionTerminated); err != nil {
			s.logger.WarnContext(ctx, "failed to expire idle session",
				"session_id", sess.ID.String(), "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// deviceTypeFrom classifies the client from its User-Agent header.
func deviceTypeFrom(ua string) string {
	if ua == "" {
		return "unknown"
	}
	parsed := useragent.New(ua)
	switch {
	case parsed.Bot():
		return "bot"
	case parsed.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}
