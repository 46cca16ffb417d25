// Package service owns anomaly alert creation, resolution, listing, and the
// runtime detector configuration.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"shadowgate/internal/anomaly"
	"shadowgate/internal/audit"
	"shadowgate/internal/events"
	"shadowgate/internal/ports"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/platform/sentinel"
	"shadowgate/pkg/requestcontext"
)

// Store is the durable alert store consumed by this service.
type Store interface {
	Create(ctx context.Context, alert *anomaly.Alert) error
	Get(ctx context.Context, id domain.AlertID) (*anomaly.Alert, error)
	Resolve(ctx context.Context, id domain.AlertID, resolution, notes string, at time.Time) (*anomaly.Alert, error)
	List(ctx context.Context, filter anomaly.ListFilter) ([]anomaly.Alert, int, int, error)
	HasUnresolved(ctx context.Context, typ anomaly.Type, subject string) (bool, error)
}

// Service manages anomaly alerts. The detector raises through it so every
// alert follows the same write-audit-notify order as operator commands.
type Service struct {
	store    Store
	auditLog ports.AuditPublisher
	notifier ports.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer

	cfgMu sync.RWMutex
	cfg   anomaly.Config
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

// WithConfig overrides the boot-time detector configuration.
func WithConfig(cfg anomaly.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// New constructs the anomaly service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("anomaly store is required")
	}
	svc := &Service{
		store:    store,
		notifier: ports.NopNotifier{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("shadowgate/anomaly"),
		cfg:      anomaly.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Config returns the live detector configuration.
func (s *Service) Config() anomaly.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// UpdateConfig overlays a partial threshold update, audits it, and pushes the
// changed fields to all connected clients. An empty patch is rejected.
func (s *Service) UpdateConfig(ctx context.Context, patch anomaly.ConfigPatch) (anomaly.Config, error) {
	ctx, span := s.tracer.Start(ctx, "anomaly.UpdateConfig")
	defer span.End()

	s.cfgMu.Lock()
	merged, changed := patch.Apply(s.cfg)
	if len(changed) == 0 {
		s.cfgMu.Unlock()
		return anomaly.Config{}, dErrors.New(dErrors.CodeInvalidInput, "no config fields provided")
	}
	if err := merged.Validate(); err != nil {
		s.cfgMu.Unlock()
		return anomaly.Config{}, err
	}
	s.cfg = merged
	s.cfgMu.Unlock()

	now := requestcontext.Now(ctx)
	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		Action:    audit.ActionAnomalyConfigUpdated,
		Metadata:  map[string]any{"changed": changed, "tag": "ops_action"},
		CreatedAt: now,
	}); err != nil {
		return anomaly.Config{}, err
	}

	s.notifier.Notify(ctx, events.New(events.BroadcastAll, events.TypeAnomalyDetectionConfigUpdated,
		events.AnomalyConfigUpdatedPayload{Config: changed, Timestamp: now}, now))

	return merged, nil
}

// Raise creates one alert unless an unresolved alert for the same
// (type, subject) already exists, in which case it returns (nil, nil). The
// store-level check makes dedupe survive restarts; callers may layer a cache
// in front to skip the read on hot paths. notifyUserID addresses the
// broadcast; it may differ from Subject when the subject is a session.
func (s *Service) Raise(ctx context.Context, typ anomaly.Type, severity anomaly.Severity, subject, message, notifyUserID string) (*anomaly.Alert, error) {
	ctx, span := s.tracer.Start(ctx, "anomaly.Raise")
	defer span.End()

	open, err := s.store.HasUnresolved(ctx, typ, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check open alerts")
	}
	if open {
		return nil, nil
	}

	now := requestcontext.Now(ctx)
	alert := &anomaly.Alert{
		ID:        domain.NewAlertID(),
		Type:      typ,
		Severity:  severity,
		Subject:   subject,
		Message:   message,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, alert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create alert")
	}

	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		UserID: notifyUserID,
		Action: audit.ActionAnomalyAlertRaised,
		Metadata: map[string]any{
			"alert_id": alert.ID.String(),
			"type":     string(typ),
			"severity": string(severity),
			"subject":  subject,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	if notifyUserID != "" {
		s.notifier.Notify(ctx, events.New(notifyUserID, events.TypeAnomalyAlert,
			events.AnomalyAlertPayload{
				Type:      string(typ),
				Severity:  string(severity),
				Message:   message,
				Timestamp: now,
			}, now))
	}
	return alert, nil
}

// Resolve patches resolution metadata onto an alert. Unknown ids fail with
// NotFound; resolving twice overwrites the earlier patch (last-write-wins),
// with each resolve audited so the trail keeps both.
func (s *Service) Resolve(ctx context.Context, id domain.AlertID, resolution, notes string) (*anomaly.Alert, error) {
	ctx, span := s.tracer.Start(ctx, "anomaly.Resolve")
	defer span.End()

	if resolution == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "resolution cannot be empty")
	}

	now := requestcontext.Now(ctx)
	alert, err := s.store.Resolve(ctx, id, resolution, notes, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "anomaly alert not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to resolve alert")
	}

	if err := ports.LogAudit(ctx, s.logger, s.auditLog, audit.Entry{
		Action: audit.ActionAnomalyAlertResolved,
		Metadata: map[string]any{
			"alert_id":   id.String(),
			"resolution": resolution,
			"tag":        "ops_action",
		},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return alert, nil
}

// List returns alerts matching the filter, newest first, with total and
// active counts.
func (s *Service) List(ctx context.Context, filter anomaly.ListFilter) ([]anomaly.Alert, int, int, error) {
	if err := filter.Normalize(); err != nil {
		return nil, 0, 0, err
	}
	alerts, total, active, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list alerts")
	}
	return alerts, total, active, nil
}
