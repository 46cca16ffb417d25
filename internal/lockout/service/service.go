// Package service implements lockout issuance, removal, and the read path
// consulted by the authentication collaborator.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"shadowgate/internal/audit"
	"shadowgate/internal/events"
	"shadowgate/internal/lockout"
	"shadowgate/internal/ports"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/platform/sentinel"
	"shadowgate/pkg/requestcontext"
)

// DefaultLockMinutes applies when an operator omits the duration.
const DefaultLockMinutes = 30

// Store is the durable lockout mapping consumed by this service.
type Store interface {
	Upsert(ctx context.Context, lock *lockout.Lockout) error
	Get(ctx context.Context, userID domain.UserID) (*lockout.Lockout, error)
	Delete(ctx context.Context, userID domain.UserID) error
	CountActiveAt(ctx context.Context, now time.Time) (int, error)
}

// Service orchestrates lock state transitions in the fixed order: durable
// upsert/delete, audit entry, best-effort broadcast.
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

// New constructs the lockout service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	svc := &Service{
		store:    store,
		notifier: ports.NopNotifier{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("shadowgate/lockout"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Lock issues an operator lockout. Upsert semantics: a second lock fully
// replaces the first (new reason, new expiry) rather than stacking or
// extending. durationMinutes <= 0 selects the default policy duration.
func (s *Service) Lock(ctx context.Context, userID domain.UserID, reason string, durationMinutes int) (*lockout.Lockout, error) {
	return s.lock(ctx, userID, reason, durationMinutes, audit.ActionUserLockedByOps, nil)
}

// AutoLock issues a lockout from rate-limit escalation. Same durable
// semantics as Lock; the audit entry records the triggering channel.
func (s *Service) AutoLock(ctx context.Context, userID domain.UserID, reason string, durationMinutes int, channel string) (*lockout.Lockout, error) {
	return s.lock(ctx, userID, reason, durationMinutes, audit.ActionUserLockedAuto,
		map[string]any{"channel": channel})
}

func (s *Service) lock(ctx context.Context, userID domain.UserID, reason string, durationMinutes int, action audit.Action, extraMeta map[string]any) (*lockout.Lockout, error) {
	ctx, span := s.tracer.Start(ctx, "lockout.Lock")
	defer span.End()

	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "lock reason cannot be empty")
	}
	if durationMinutes <= 0 {
		durationMinutes = DefaultLockMinutes
	}

	now := requestcontext.Now(ctx)
	lock := &lockout.Lockout{
		UserID:      userID,
		Reason:      reason,
		LockedUntil: now.Add(time.Duration(durationMinutes) * time.Minute),
		CreatedAt:   now,
		CreatedBy:   requestcontext.ActorID(ctx),
	}

	if err := s.store.Upsert(ctx, lock); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to upsert lockout")
	}

	metadata := map[string]any{
		"reason":           reason,
		"duration_minutes": durationMinutes,
		"locked_until":     lock.LockedUntil,
		"tag":              "ops_action",
	}
	for k, v := range extraMeta {
		metadata[k] = v
	}
	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		UserID:    userID.String(),
		Action:    action,
		Metadata:  metadata,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, events.New(userID.String(), events.TypeUserLocked,
		events.UserLockedPayload{
			Reason:      reason,
			Duration:    durationMinutes,
			LockedUntil: lock.LockedUntil,
			Timestamp:   now,
		}, now))

	return lock, nil
}

// Unlock removes any lockout for the user. Idempotent: unlocking a user with
// no lockout succeeds and leaves no row. The explicit delete (rather than
// waiting for expiry) keeps the audit trail unambiguous about operator
// intent.
func (s *Service) Unlock(ctx context.Context, userID domain.UserID) error {
	ctx, span := s.tracer.Start(ctx, "lockout.Unlock")
	defer span.End()

	if err := s.store.Delete(ctx, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to delete lockout")
	}

	now := requestcontext.Now(ctx)
	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		UserID:    userID.String(),
		Action:    audit.ActionUserUnlockedByOps,
		Metadata:  map[string]any{"tag": "ops_action"},
		CreatedAt: now,
	}); err != nil {
		return err
	}

	s.notifier.Notify(ctx, events.New(userID.String(), events.TypeUserUnlocked,
		events.UserUnlockedPayload{Timestamp: now}, now))

	return nil
}

// IsLocked answers the auth path. Lazy expiry: a row whose locked_until has
// passed reads as not-locked without requiring a write.
func (s *Service) IsLocked(ctx context.Context, userID domain.UserID, now time.Time) (lockout.Status, error) {
	lock, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return lockout.Status{Locked: false}, nil
	}
	if err != nil {
		return lockout.Status{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read lockout")
	}
	if !lock.ActiveAt(now) {
		return lockout.Status{Locked: false}, nil
	}
	until := lock.LockedUntil
	return lockout.Status{Locked: true, Until: &until, Reason: lock.Reason}, nil
}

// CountLocked reports how many users are locked at the instant (summary).
func (s *Service) CountLocked(ctx context.Context, now time.Time) (int, error) {
	count, err := s.store.CountActiveAt(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to count lockouts")
	}
	return count, nil
}
