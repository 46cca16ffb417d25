// Package detector runs the periodic anomaly evaluation: four fixed
// threshold checks over recent session and audit data. Each pass is
// idempotent; re-evaluating the same window never raises a second alert.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"shadowgate/internal/anomaly"
	"shadowgate/internal/audit"
	"shadowgate/internal/session"
	"shadowgate/pkg/requestcontext"
)

// seenCacheSize bounds the dedupe cache. Entries age out naturally as
// windows advance; the store-level unresolved check backstops evictions.
const seenCacheSize = 4096

// Alerter raises alerts and exposes the live thresholds. Satisfied by the
// anomaly service.
type Alerter interface {
	Raise(ctx context.Context, typ anomaly.Type, severity anomaly.Severity, subject, message, notifyUserID string) (*anomaly.Alert, error)
	Config() anomaly.Config
}

// SessionSource reads recent session data. Satisfied by the session store.
type SessionSource interface {
	ListActive(ctx context.Context) ([]session.Session, error)
	ListStartedSince(ctx context.Context, since time.Time) ([]session.Session, error)
}

// Expirer terminates idle sessions. Satisfied by the session service.
type Expirer interface {
	ExpireIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// Detector evaluates the fixed check battery on a timer.
type Detector struct {
	alerter  Alerter
	sessions SessionSource
	auditLog audit.Store
	expirer  Expirer
	logger   *slog.Logger

	interval    time.Duration
	inactiveTTL time.Duration

	// seen short-circuits repeated evaluations of the same (check, subject,
	// window) within a process lifetime, keeping hot passes off the store.
	seen *lru.Cache[string, time.Time]

	// onAlert is an optional metrics hook invoked per raised alert type.
	onAlert func(alertType string)
}

// Option configures a Detector.
type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithExpirer enables the idle-session sweep during each pass.
func WithExpirer(expirer Expirer, ttl time.Duration) Option {
	return func(d *Detector) {
		d.expirer = expirer
		d.inactiveTTL = ttl
	}
}

// WithAlertHook registers a callback invoked with the type of each raised alert.
func WithAlertHook(fn func(alertType string)) Option {
	return func(d *Detector) { d.onAlert = fn }
}

// New constructs a Detector evaluating every interval.
func New(alerter Alerter, sessions SessionSource, auditLog audit.Store, interval time.Duration, opts ...Option) (*Detector, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	seen, err := lru.New[string, time.Time](seenCacheSize)
	if err != nil {
		return nil, err
	}
	d := &Detector{
		alerter:  alerter,
		sessions: sessions,
		auditLog: auditLog,
		logger:   slog.Default(),
		interval: interval,
		seen:     seen,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run evaluates on a ticker until the context is canceled. One failed pass
// is logged and the loop continues; a dead detector is worse than a noisy one.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.ErrorContext(ctx, "anomaly detection pass failed", "error", err)
			}
		}
	}
}

// RunOnce executes one full evaluation pass at the current instant.
func (d *Detector) RunOnce(ctx context.Context) error {
	now := requestcontext.Now(ctx)
	ctx = requestcontext.WithTime(ctx, now)
	cfg := d.alerter.Config()

	if d.expirer != nil && d.inactiveTTL > 0 {
		if expired, err := d.expirer.ExpireIdle(ctx, d.inactiveTTL); err != nil {
			d.logger.WarnContext(ctx, "idle session sweep failed", "error", err)
		} else if expired > 0 {
			d.logger.InfoContext(ctx, "expired idle sessions", "count", expired)
		}
	}

	if err := d.checkExcessiveFailures(ctx, cfg, now); err != nil {
		return fmt.Errorf("excessive failures check: %w", err)
	}
	if err := d.checkMultipleIPs(ctx, cfg, now); err != nil {
		return fmt.Errorf("multiple ips check: %w", err)
	}
	if err := d.checkSessionConditions(ctx, cfg, now); err != nil {
		return fmt.Errorf("session checks: %w", err)
	}
	return nil
}

// checkExcessiveFailures raises a high-severity alert for each user whose
// failed attempts within the window reach the threshold.
func (d *Detector) checkExcessiveFailures(ctx context.Context, cfg anomaly.Config, now time.Time) error {
	window := time.Duration(cfg.FailureWindowMinutes) * time.Minute
	entries, err := d.auditLog.ListByActionsSince(ctx,
		[]audit.Action{audit.ActionPINAttemptFailed, audit.ActionBiometricAttemptFailed},
		now.Add(-window))
	if err != nil {
		return err
	}

	failures := map[string]int{}
	for _, entry := range entries {
		if entry.UserID != "" {
			failures[entry.UserID]++
		}
	}

	windowStart := now.Truncate(window)
	for userID, count := range failures {
		if count < cfg.FailureThreshold {
			continue
		}
		key := dedupeKey(anomaly.TypeExcessiveFailedAttempts, userID, windowStart)
		if _, dup := d.seen.Get(key); dup {
			continue
		}
		msg := fmt.Sprintf("%d failed authentication attempts within %d minutes", count, cfg.FailureWindowMinutes)
		if err := d.raise(ctx, anomaly.TypeExcessiveFailedAttempts, anomaly.SeverityHigh, userID, msg, userID); err != nil {
			return err
		}
		d.seen.Add(key, now)
	}
	return nil
}

// checkMultipleIPs raises a medium-severity alert for each user whose recent
// sessions arrive from more than one distinct address.
func (d *Detector) checkMultipleIPs(ctx context.Context, cfg anomaly.Config, now time.Time) error {
	window := time.Duration(cfg.SessionWindowMinutes) * time.Minute
	recent, err := d.sessions.ListStartedSince(ctx, now.Add(-window))
	if err != nil {
		return err
	}

	origins := map[string]map[string]struct{}{}
	for _, sess := range recent {
		if sess.IPAddress == "" {
			continue
		}
		user := sess.UserID.String()
		if origins[user] == nil {
			origins[user] = map[string]struct{}{}
		}
		origins[user][sess.IPAddress] = struct{}{}
	}

	windowStart := now.Truncate(window)
	for userID, ips := range origins {
		if len(ips) <= 1 {
			continue
		}
		key := dedupeKey(anomaly.TypeMultipleIPs, userID, windowStart)
		if _, dup := d.seen.Get(key); dup {
			continue
		}
		msg := fmt.Sprintf("sessions from %d distinct addresses within %d minutes", len(ips), cfg.SessionWindowMinutes)
		if err := d.raise(ctx, anomaly.TypeMultipleIPs, anomaly.SeverityMedium, userID, msg, userID); err != nil {
			return err
		}
		d.seen.Add(key, now)
	}
	return nil
}

// checkSessionConditions evaluates the per-session checks (long session,
// unusual start time) over currently active sessions. Both key dedupe on the
// session id alone: the condition holds for the session's whole lifetime, so
// one alert per session is the correct cardinality.
func (d *Detector) checkSessionConditions(ctx context.Context, cfg anomaly.Config, now time.Time) error {
	active, err := d.sessions.ListActive(ctx)
	if err != nil {
		return err
	}

	maxAge := time.Duration(cfg.MaxSessionMinutes) * time.Minute
	for _, sess := range active {
		sid := sess.ID.String()
		user := sess.UserID.String()

		if now.Sub(sess.StartedAt) > maxAge {
			key := dedupeKey(anomaly.TypeLongSession, sid, time.Time{})
			if _, dup := d.seen.Get(key); !dup {
				msg := fmt.Sprintf("session active for more than %d minutes", cfg.MaxSessionMinutes)
				if err := d.raise(ctx, anomaly.TypeLongSession, anomaly.SeverityLow, sid, msg, user); err != nil {
					return err
				}
				d.seen.Add(key, now)
			}
		}

		hour := sess.StartedAt.UTC().Hour()
		if hour < cfg.NormalHoursStart || hour >= cfg.NormalHoursEnd {
			key := dedupeKey(anomaly.TypeUnusualTime, sid, time.Time{})
			if _, dup := d.seen.Get(key); !dup {
				msg := fmt.Sprintf("session started at %02d:00 UTC, outside normal hours %02d:00-%02d:00",
					hour, cfg.NormalHoursStart, cfg.NormalHoursEnd)
				if err := d.raise(ctx, anomaly.TypeUnusualTime, anomaly.SeverityLow, sid, msg, user); err != nil {
					return err
				}
				d.seen.Add(key, now)
			}
		}
	}
	return nil
}

func (d *Detector) raise(ctx context.Context, typ anomaly.Type, sev anomaly.Severity, subject, message, notifyUserID string) error {
	alert, err := d.alerter.Raise(ctx, typ, sev, subject, message, notifyUserID)
	if err != nil {
		return err
	}
	if alert == nil {
		// Suppressed: an unresolved alert for this condition already exists.
		return nil
	}
	if d.onAlert != nil {
		d.onAlert(string(typ))
	}
	d.logger.InfoContext(ctx, "anomaly alert raised",
		"alert_id", alert.ID.String(),
		"type", string(typ),
		"severity", string(sev),
		"subject", subject,
	)
	return nil
}

func dedupeKey(typ anomaly.Type, subject string, windowStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", typ, subject, windowStart.Unix())
}
