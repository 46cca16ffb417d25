package ratelimit

import (
	"context"
	"time"

	"shadowgate/internal/audit"
	dErrors "shadowgate/pkg/domain-errors"
)

// Tracker is a stateless aggregator over the audit log. It never stores
// counters of its own: the audit trail is the only source of violation
// counts, using a true sliding window from the given instant.
type Tracker struct {
	store audit.Store
}

// NewTracker constructs a Tracker over the audit store.
func NewTracker(store audit.Store) *Tracker {
	return &Tracker{store: store}
}

// CountViolations counts failed attempts on the channel within the window
// ending at now.
func (t *Tracker) CountViolations(ctx context.Context, ch Channel, window time.Duration, now time.Time) (int, error) {
	action := audit.FailureAction(string(ch))
	if action == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown channel")
	}
	count, err := t.store.CountByActionSince(ctx, action, now.Add(-window))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to count violations")
	}
	return count, nil
}

// TotalViolations counts every failed attempt ever recorded on the channel.
func (t *Tracker) TotalViolations(ctx context.Context, ch Channel) (int, error) {
	action := audit.FailureAction(string(ch))
	if action == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown channel")
	}
	count, err := t.store.CountByActionSince(ctx, action, time.Time{})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to count violations")
	}
	return count, nil
}

// CountUserViolations counts failed attempts by one user on the channel
// within the window ending at now.
func (t *Tracker) CountUserViolations(ctx context.Context, userID string, ch Channel, window time.Duration, now time.Time) (int, error) {
	action := audit.FailureAction(string(ch))
	if action == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown channel")
	}
	entries, err := t.store.ListByActionsSince(ctx, []audit.Action{action}, now.Add(-window))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list violations")
	}
	count := 0
	for _, entry := range entries {
		if entry.UserID == userID {
			count++
		}
	}
	return count, nil
}
