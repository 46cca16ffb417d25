// Package broadcaster delivers control events to the specific connected
// client(s) concerned. Delivery is best-effort and at-least-once: the caller
// already committed the durable state change, so a failed send is logged and
// swallowed, never surfaced.
package broadcaster

import (
	"context"
	"log/slog"
	"time"

	"shadowgate/internal/events"
	"shadowgate/pkg/requestcontext"
)

// Broadcaster sends one event toward the client addressed by event.UserID.
type Broadcaster interface {
	Broadcast(ctx context.Context, event events.Event) error
}

// Nop discards events. Used in tests and when no backend is configured.
type Nop struct{}

func (Nop) Broadcast(context.Context, events.Event) error { return nil }

// FireAndForget wraps a Broadcaster with the control plane's delivery policy:
// a bounded attempt whose failure is logged and swallowed. It is the only
// entry point services use, so no caller can accidentally couple a command's
// outcome to the notification leg.
type FireAndForget struct {
	backend Broadcaster
	logger  *slog.Logger
	timeout time.Duration
	// onFailure is invoked after a swallowed failure (metrics hook).
	onFailure func()
}

// Option configures a FireAndForget wrapper.
type Option func(*FireAndForget)

// WithFailureHook registers a callback invoked on each swallowed failure.
func WithFailureHook(fn func()) Option {
	return func(f *FireAndForget) { f.onFailure = fn }
}

// NewFireAndForget wraps backend with the bounded, swallow-failures policy.
func NewFireAndForget(backend Broadcaster, logger *slog.Logger, timeout time.Duration, opts ...Option) *FireAndForget {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	f := &FireAndForget{backend: backend, logger: logger, timeout: timeout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Notify attempts delivery with a bounded deadline. It never returns an error
// and never panics out of a failed backend; the durable write this notifies
// about has already succeeded.
//
// The attempt is detached from the request context deliberately: the caller's
// request may complete (and its context be canceled) before the send finishes,
// and cancellation must not turn into a lost notification.
func (f *FireAndForget) Notify(ctx context.Context, event events.Event) {
	requestID := requestcontext.RequestID(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		if err := f.backend.Broadcast(sendCtx, event); err != nil {
			if f.onFailure != nil {
				f.onFailure()
			}
			f.logger.Warn("event broadcast failed",
				"event_type", event.Type,
				"user_id", event.UserID,
				"request_id", requestID,
				"error", err,
			)
		}
	}()
}
