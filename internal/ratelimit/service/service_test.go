package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowgate/internal/audit"
	auditstore "shadowgate/internal/audit/store"
	"shadowgate/internal/events"
	lockoutservice "shadowgate/internal/lockout/service"
	lockoutstore "shadowgate/internal/lockout/store"
	"shadowgate/internal/ratelimit"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/requestcontext"
)

type capturingNotifier struct {
	events []events.Event
}

func (c *capturingNotifier) Notify(_ context.Context, e events.Event) {
	c.events = append(c.events, e)
}

type fixture struct {
	svc      *Service
	locks    *lockoutstore.InMemoryStore
	audits   *auditstore.InMemoryStore
	notifier *capturingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audits := auditstore.NewInMemoryStore()
	locks := lockoutstore.NewInMemoryStore()
	notifier := &capturingNotifier{}
	publisher := audit.NewPublisher(audits)

	lockouts, err := lockoutservice.New(locks, lockoutservice.WithAuditPublisher(publisher))
	require.NoError(t, err)

	svc, err := New(
		ratelimit.NewPolicies(nil),
		ratelimit.NewTracker(audits),
		lockouts,
		WithAuditPublisher(publisher),
		WithNotifier(notifier),
	)
	require.NoError(t, err)
	return &fixture{svc: svc, locks: locks, audits: audits, notifier: notifier}
}

func ctxAt(at time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), at)
}

func TestRecordAttemptSuccessIsNoOp(t *testing.T) {
	f := newFixture(t)

	locked, err := f.svc.RecordAttempt(context.Background(), domain.UserID(uuid.New()), "pin", true)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 0, f.audits.Len())
}

func TestRecordAttemptUnknownChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordAttempt(context.Background(), domain.UserID(uuid.New()), "face", false)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestRecordAttemptEscalatesAtThreshold(t *testing.T) {
	f := newFixture(t)
	userID := domain.UserID(uuid.New())
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Default PIN policy: 5 attempts in 15 minutes.
	for i := 0; i < 4; i++ {
		locked, err := f.svc.RecordAttempt(ctxAt(at.Add(time.Duration(i)*time.Minute)), userID, "pin", false)
		require.NoError(t, err)
		assert.False(t, locked)
	}

	locked, err := f.svc.RecordAttempt(ctxAt(at.Add(5*time.Minute)), userID, "pin", false)
	require.NoError(t, err)
	assert.True(t, locked)

	lock, err := f.locks.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "rate_limit_exceeded", lock.Reason)
	assert.Equal(t, at.Add(5*time.Minute).Add(30*time.Minute), lock.LockedUntil)

	entries, err := f.audits.ListByUser(context.Background(), userID.String(), 100)
	require.NoError(t, err)
	var lockEntries, failures int
	for _, e := range entries {
		switch e.Action {
		case audit.ActionUserLockedAuto:
			lockEntries++
		case audit.ActionPINAttemptFailed:
			failures++
		}
	}
	assert.Equal(t, 1, lockEntries)
	assert.Equal(t, 5, failures)
}

func TestRecordAttemptWindowSlides(t *testing.T) {
	f := newFixture(t)
	userID := domain.UserID(uuid.New())
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Four old failures outside the 15-minute window plus one fresh one must
	// not trip the lock.
	for i := 0; i < 4; i++ {
		_, err := f.svc.RecordAttempt(ctxAt(at.Add(-20*time.Minute)), userID, "pin", false)
		require.NoError(t, err)
	}
	locked, err := f.svc.RecordAttempt(ctxAt(at), userID, "pin", false)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 0, f.locks.Len())
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := f.svc.UpdateConfig(ctxAt(at), "pin", ratelimit.Config{MaxAttempts: 0, WindowMinutes: 5, LockoutMinutes: 10})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	updated, err := f.svc.UpdateConfig(ctxAt(at), "pin", ratelimit.Config{MaxAttempts: 3, WindowMinutes: 5, LockoutMinutes: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.MaxAttempts)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, events.TypeRateLimitConfigUpdated, f.notifier.events[0].Type)
	assert.Equal(t, events.BroadcastAll, f.notifier.events[0].UserID)

	cfgs := f.svc.GetConfigs(context.Background())
	assert.Equal(t, 3, cfgs[ratelimit.ChannelPIN].MaxAttempts)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	userID := domain.UserID(uuid.New())
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := f.svc.RecordAttempt(ctxAt(at.Add(-48*time.Hour)), userID, "pin", false)
	require.NoError(t, err)
	_, err = f.svc.RecordAttempt(ctxAt(at.Add(-time.Hour)), userID, "pin", false)
	require.NoError(t, err)
	_, err = f.svc.RecordAttempt(ctxAt(at.Add(-time.Hour)), userID, "biometric", false)
	require.NoError(t, err)

	summary, err := f.svc.Summary(ctxAt(at))
	require.NoError(t, err)

	pin := summary[ratelimit.SummaryKey(ratelimit.ChannelPIN)]
	assert.Equal(t, 2, pin.TotalViolations)
	assert.Equal(t, 1, pin.ViolationsLast24h)
	assert.Equal(t, 0, pin.LockedUsers)

	bio := summary[ratelimit.SummaryKey(ratelimit.ChannelBiometric)]
	assert.Equal(t, 1, bio.TotalViolations)
	assert.Equal(t, 1, bio.ViolationsLast24h)
}
