// Package ports defines shared interfaces consumed by multiple services, so
// each service can declare only the dependency surface it uses and tests can
// substitute fakes without process-wide state.
package ports

import (
	"context"
	"log/slog"

	"shadowgate/internal/audit"
	"shadowgate/internal/events"
	"shadowgate/pkg/requestcontext"
)

// AuditPublisher is the single write path into the audit log.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Notifier delivers a best-effort event toward the concerned client. Callers
// must not depend on its outcome; implementations swallow failures.
type Notifier interface {
	Notify(ctx context.Context, event events.Event)
}

// NopNotifier discards notifications (tests, broadcast disabled).
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, events.Event) {}

// LogAudit appends an audit entry and mirrors it to the structured log in one
// call. The durable append error propagates: commands must not succeed
// without their audit row.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, entry audit.Entry) error {
	if logger != nil {
		logger.InfoContext(ctx, string(entry.Action),
			"user_id", entry.UserID,
			"actor_id", requestcontext.ActorID(ctx),
			"request_id", requestcontext.RequestID(ctx),
			"log_type", "audit",
		)
	}
	if publisher == nil {
		return nil
	}
	return publisher.Emit(ctx, entry)
}
