package detector

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowgate/internal/anomaly"
	anomalyservice "shadowgate/internal/anomaly/service"
	anomalystore "shadowgate/internal/anomaly/store"
	"shadowgate/internal/audit"
	auditstore "shadowgate/internal/audit/store"
	"shadowgate/internal/session"
	sessionstore "shadowgate/internal/session/store"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/requestcontext"
)

type fixture struct {
	det      *Detector
	alerts   *anomalystore.InMemoryStore
	svc      *anomalyservice.Service
	sessions *sessionstore.InMemoryStore
	audits   *auditstore.InMemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	alerts := anomalystore.NewInMemoryStore()
	svc, err := anomalyservice.New(alerts)
	require.NoError(t, err)
	sessions := sessionstore.NewInMemoryStore()
	audits := auditstore.NewInMemoryStore()
	det, err := New(svc, sessions, audits, time.Minute, opts...)
	require.NoError(t, err)
	return &fixture{det: det, alerts: alerts, svc: svc, sessions: sessions, audits: audits}
}

func ctxAt(at time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), at)
}

func addSession(t *testing.T, f *fixture, userID domain.UserID, ip string, startedAt time.Time) *session.Session {
	t.Helper()
	sess := &session.Session{
		ID:             domain.NewSessionID(),
		UserID:         userID,
		ProfileType:    session.ProfileShadow,
		Status:         session.StatusActive,
		IPAddress:      ip,
		StartedAt:      startedAt,
		LastActivityAt: startedAt,
	}
	require.NoError(t, f.sessions.Create(context.Background(), sess))
	return sess
}

func listAlerts(t *testing.T, f *fixture, typ anomaly.Type) []anomaly.Alert {
	t.Helper()
	all, _, _, err := f.alerts.List(context.Background(), anomaly.ListFilter{Limit: 100})
	require.NoError(t, err)
	var out []anomaly.Alert
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestExcessiveFailuresRaisesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	userID := domain.UserID(uuid.New())

	// Five failures within ten minutes at the default 5/10min threshold.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.audits.Append(context.Background(), audit.Entry{
			UserID:    userID.String(),
			Action:    audit.ActionPINAttemptFailed,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	alerts := listAlerts(t, f, anomaly.TypeExcessiveFailedAttempts)
	require.Len(t, alerts, 1)
	assert.Equal(t, anomaly.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, userID.String(), alerts[0].Subject)

	// A repeated run over the same window raises nothing new.
	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	assert.Len(t, listAlerts(t, f, anomaly.TypeExcessiveFailedAttempts), 1)
}

func TestExcessiveFailuresDedupeSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	userID := domain.UserID(uuid.New())

	for i := 0; i < 5; i++ {
		require.NoError(t, f.audits.Append(context.Background(), audit.Entry{
			UserID:    userID.String(),
			Action:    audit.ActionBiometricAttemptFailed,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.det.RunOnce(ctxAt(now)))

	// A fresh detector has an empty cache; the unresolved-alert check in the
	// store still suppresses the duplicate.
	restarted, err := New(f.svc, f.sessions, f.audits, time.Minute)
	require.NoError(t, err)
	require.NoError(t, restarted.RunOnce(ctxAt(now)))
	assert.Len(t, listAlerts(t, f, anomaly.TypeExcessiveFailedAttempts), 1)
}

func TestBelowThresholdRaisesNothing(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	userID := domain.UserID(uuid.New())

	for i := 0; i < 4; i++ {
		require.NoError(t, f.audits.Append(context.Background(), audit.Entry{
			UserID:    userID.String(),
			Action:    audit.ActionPINAttemptFailed,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	assert.Empty(t, listAlerts(t, f, anomaly.TypeExcessiveFailedAttempts))
}

func TestMultipleIPs(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	userID := domain.UserID(uuid.New())

	addSession(t, f, userID, "203.0.113.7", now.Add(-10*time.Minute))
	addSession(t, f, userID, "198.51.100.4", now.Add(-5*time.Minute))
	// Single-address user does not fire.
	addSession(t, f, domain.UserID(uuid.New()), "203.0.113.9", now.Add(-5*time.Minute))

	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	alerts := listAlerts(t, f, anomaly.TypeMultipleIPs)
	require.Len(t, alerts, 1)
	assert.Equal(t, anomaly.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, userID.String(), alerts[0].Subject)
}

func TestLongSession(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	userID := domain.UserID(uuid.New())

	// Started five hours ago against the 240-minute default.
	old := addSession(t, f, userID, "203.0.113.7", now.Add(-5*time.Hour))
	addSession(t, f, userID, "203.0.113.7", now.Add(-10*time.Minute))

	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	alerts := listAlerts(t, f, anomaly.TypeLongSession)
	require.Len(t, alerts, 1)
	assert.Equal(t, anomaly.SeverityLow, alerts[0].Severity)
	assert.Equal(t, old.ID.String(), alerts[0].Subject)

	require.NoError(t, f.det.RunOnce(ctxAt(now.Add(time.Minute))))
	assert.Len(t, listAlerts(t, f, anomaly.TypeLongSession), 1)
}

func TestUnusualStartTime(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)
	userID := domain.UserID(uuid.New())

	// 03:00 UTC is outside the default 06:00-23:00 normal hours.
	odd := addSession(t, f, userID, "203.0.113.7", now.Add(-time.Hour))

	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	alerts := listAlerts(t, f, anomaly.TypeUnusualTime)
	require.Len(t, alerts, 1)
	assert.Equal(t, odd.ID.String(), alerts[0].Subject)
}

type countingExpirer struct {
	calls int
	ttl   time.Duration
}

func (e *countingExpirer) ExpireIdle(_ context.Context, ttl time.Duration) (int, error) {
	e.calls++
	e.ttl = ttl
	return 0, nil
}

func TestRunOncePerformsIdleSweep(t *testing.T) {
	expirer := &countingExpirer{}
	f := newFixture(t, WithExpirer(expirer, 30*time.Minute))
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	require.NoError(t, f.det.RunOnce(ctxAt(now)))
	assert.Equal(t, 1, expirer.calls)
	assert.Equal(t, 30*time.Minute, expirer.ttl)
}
