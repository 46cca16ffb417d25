package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	dErrors "shadowgate/pkg/domain-errors"
)

// Store persists audit entries. The postgres implementation is authoritative;
// the in-memory one backs unit tests.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	CountByActionSince(ctx context.Context, action Action, since time.Time) (int, error)
	ListByActionsSince(ctx context.Context, actions []Action, since time.Time) ([]Entry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Publisher is the single write path into the audit log. The durable append
// is synchronous: a command must not report success without its audit entry.
// The optional export channel feeds the Kafka relay and is strictly
// best-effort; a full channel drops the export copy, never the durable row.
type Publisher struct {
	store  Store
	export chan<- Entry
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithExport attaches the relay channel that streams entries to Kafka.
func WithExport(export chan<- Entry) PublisherOption {
	return func(p *Publisher) { p.export = export }
}

// NewPublisher constructs the audit write path.
func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit assigns identity and timestamp defaults, appends durably, and hands a
// copy to the export relay without blocking.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ProfileType == "" {
		entry.ProfileType = "shadow"
	}

	if err := p.store.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to append audit entry")
	}

	if p.export != nil {
		select {
		case p.export <- entry:
		default:
			// Export is lossy by design; the durable row is already written.
		}
	}
	return nil
}
