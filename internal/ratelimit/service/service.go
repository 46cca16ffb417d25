// Package service wires the violation tracker to lockout escalation and owns
// the operator-facing rate-limit policy operations.
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
	"shadowgate/internal/ratelimit"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/requestcontext"
)

// Locker is the lockout surface this service escalates into.
type Locker interface {
	AutoLock(ctx context.Context, userID domain.UserID, reason string, durationMinutes int, channel string) (*lockout.Lockout, error)
	CountLocked(ctx context.Context, now time.Time) (int, error)
}

// Service records attempt outcomes reported by the auth collaborator,
// escalates to automatic lockouts when a channel's threshold is crossed, and
// serves the operator policy surface.
type Service struct {
	policies *ratelimit.Policies
	tracker  *ratelimit.Tracker
	locker   Locker
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

// New constructs the rate-limit service.
func New(policies *ratelimit.Policies, tracker *ratelimit.Tracker, locker Locker, opts ...Option) (*Service, error) {
	if policies == nil || tracker == nil {
		return nil, errors.New("policies and tracker are required")
	}
	if locker == nil {
		return nil, errors.New("locker is required")
	}
	svc := &Service{
		policies: policies,
		tracker:  tracker,
		locker:   locker,
		notifier: ports.NopNotifier{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("shadowgate/ratelimit"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RecordAttempt ingests one authentication attempt outcome. Successful
// attempts are acknowledged without an audit row; failures append the
// channel's failure action first, then evaluate the threshold over the
// sliding window that now includes the fresh entry. Returns whether the
// attempt tripped an automatic lockout.
func (s *Service) RecordAttempt(ctx context.Context, userID domain.UserID, channel string, success bool) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.RecordAttempt")
	defer span.End()

	ch, err := ratelimit.ParseChannel(channel)
	if err != nil {
		return false, err
	}
	if success {
		return false, nil
	}

	now := requestcontext.Now(ctx)
	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		UserID: userID.String(),
		Action: audit.FailureAction(string(ch)),
		Metadata: map[string]any{
			"channel":    string(ch),
			"ip_address": requestcontext.ClientIP(ctx),
		},
		CreatedAt: now,
	}); err != nil {
		return false, err
	}

	cfg, err := s.policies.Get(ch)
	if err != nil {
		return false, err
	}
	count, err := s.tracker.CountUserViolations(ctx, userID.String(), ch, cfg.Window(), now)
	if err != nil {
		return false, err
	}
	if count < cfg.MaxAttempts {
		return false, nil
	}

	if _, err := s.locker.AutoLock(ctx, userID, "rate_limit_exceeded", cfg.LockoutMinutes, string(ch)); err != nil {
		return false, err
	}
	s.logger.WarnContext(ctx, "rate limit exceeded, user locked",
		"user_id", userID.String(),
		"channel", string(ch),
		"failures_in_window", count,
	)
	return true, nil
}

// GetConfigs returns the live per-channel policy.
func (s *Service) GetConfigs(_ context.Context) map[ratelimit.Channel]ratelimit.Config {
	return s.policies.Snapshot()
}

// UpdateConfig replaces one channel's policy, audits the change, and pushes
// the new policy to all connected clients.
func (s *Service) UpdateConfig(ctx context.Context, channel string, cfg ratelimit.Config) (ratelimit.Config, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.UpdateConfig")
	defer span.End()

	ch, err := ratelimit.ParseChannel(channel)
	if err != nil {
		return ratelimit.Config{}, err
	}
	if err := s.policies.Update(ch, cfg); err != nil {
		return ratelimit.Config{}, err
	}

	now := requestcontext.Now(ctx)
	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		Action: audit.ActionRateLimitConfigUpdated,
		Metadata: map[string]any{
			"channel":         string(ch),
			"max_attempts":    cfg.MaxAttempts,
			"window_minutes":  cfg.WindowMinutes,
			"lockout_minutes": cfg.LockoutMinutes,
			"tag":             "ops_action",
		},
		CreatedAt: now,
	}); err != nil {
		return ratelimit.Config{}, err
	}

	s.notifier.Notify(ctx, events.New(events.BroadcastAll, events.TypeRateLimitConfigUpdated,
		events.RateLimitConfigUpdatedPayload{
			Channel: string(ch),
			Config: events.RateLimitConfig{
				MaxAttempts:    cfg.MaxAttempts,
				WindowMinutes:  cfg.WindowMinutes,
				LockoutMinutes: cfg.LockoutMinutes,
			},
			Timestamp: now,
		}, now))

	return cfg, nil
}

// Summary builds the operator rollup per channel. Lockouts are not recorded
// per channel, so locked_users reports the same instantaneous count under
// both keys.
func (s *Service) Summary(ctx context.Context) (ratelimit.Summary, error) {
	now := requestcontext.Now(ctx)
	locked, err := s.locker.CountLocked(ctx, now)
	if err != nil {
		return nil, err
	}

	out := make(ratelimit.Summary, len(ratelimit.Channels))
	for _, ch := range ratelimit.Channels {
		total, err := s.tracker.TotalViolations(ctx, ch)
		if err != nil {
			return nil, err
		}
		last24h, err := s.tracker.CountViolations(ctx, ch, 24*time.Hour, now)
		if err != nil {
			return nil, err
		}
		out[ratelimit.SummaryKey(ch)] = ratelimit.ChannelSummary{
			TotalViolations:   total,
			LockedUsers:       locked,
			ViolationsLast24h: last24h,
		}
	}
	return out, nil
}
