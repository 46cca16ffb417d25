package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowgate/internal/anomaly"
	"shadowgate/internal/anomaly/store"
	"shadowgate/internal/events"
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

func newService(t *testing.T) (*Service, *store.InMemoryStore, *capturingNotifier) {
	t.Helper()
	alerts := store.NewInMemoryStore()
	notifier := &capturingNotifier{}
	svc, err := New(alerts, WithNotifier(notifier))
	require.NoError(t, err)
	return svc, alerts, notifier
}

func TestRaiseSuppressesOpenDuplicates(t *testing.T) {
	svc, alerts, notifier := newService(t)
	ctx := context.Background()

	first, err := svc.Raise(ctx, anomaly.TypeMultipleIPs, anomaly.SeverityMedium, "user-1", "two addresses", "user-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	dup, err := svc.Raise(ctx, anomaly.TypeMultipleIPs, anomaly.SeverityMedium, "user-1", "two addresses", "user-1")
	require.NoError(t, err)
	assert.Nil(t, dup)
	assert.Equal(t, 1, alerts.Len())

	// A different subject is not a duplicate.
	other, err := svc.Raise(ctx, anomaly.TypeMultipleIPs, anomaly.SeverityMedium, "user-2", "two addresses", "user-2")
	require.NoError(t, err)
	require.NotNil(t, other)

	require.Len(t, notifier.events, 2)
	assert.Equal(t, events.TypeAnomalyAlert, notifier.events[0].Type)
}

func TestRaiseAfterResolveCreatesNewAlert(t *testing.T) {
	svc, alerts, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Raise(ctx, anomaly.TypeLongSession, anomaly.SeverityLow, "sess-1", "too long", "user-1")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, first.ID, "reviewed", "")
	require.NoError(t, err)

	second, err := svc.Raise(ctx, anomaly.TypeLongSession, anomaly.SeverityLow, "sess-1", "too long again", "user-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 2, alerts.Len())
}

func TestResolve(t *testing.T) {
	svc, _, _ := newService(t)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)

	alert, err := svc.Raise(ctx, anomaly.TypeUnusualTime, anomaly.SeverityLow, "sess-1", "odd hour", "user-1")
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, alert.ID, "false positive", "traveling")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, at, *resolved.ResolvedAt)
	assert.Equal(t, "false positive", resolved.Resolution)
	assert.Equal(t, "traveling", resolved.Notes)
}

func TestResolveTwiceLastWriteWins(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	alert, err := svc.Raise(ctx, anomaly.TypeUnusualTime, anomaly.SeverityLow, "sess-1", "odd hour", "user-1")
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, alert.ID, "first pass", "a")
	require.NoError(t, err)
	resolved, err := svc.Resolve(ctx, alert.ID, "second pass", "b")
	require.NoError(t, err)
	assert.Equal(t, "second pass", resolved.Resolution)
	assert.Equal(t, "b", resolved.Notes)
}

func TestResolveValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, domain.NewAlertID(), "", "notes")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Resolve(ctx, domain.NewAlertID(), "done", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestListFiltersActiveAlerts(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	open, err := svc.Raise(ctx, anomaly.TypeMultipleIPs, anomaly.SeverityMedium, "user-1", "m", "user-1")
	require.NoError(t, err)
	closed, err := svc.Raise(ctx, anomaly.TypeLongSession, anomaly.SeverityLow, "sess-1", "m", "user-1")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, closed.ID, "done", "")
	require.NoError(t, err)

	alerts, total, active, err := svc.List(ctx, anomaly.ListFilter{Status: anomaly.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, active)
	require.Len(t, alerts, 1)
	assert.Equal(t, open.ID, alerts[0].ID)
	assert.Nil(t, alerts[0].ResolvedAt)

	_, _, _, err = svc.List(ctx, anomaly.ListFilter{Status: "bogus"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestUpdateConfig(t *testing.T) {
	svc, _, notifier := newService(t)
	ctx := context.Background()

	_, err := svc.UpdateConfig(ctx, anomaly.ConfigPatch{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	threshold := 10
	cfg, err := svc.UpdateConfig(ctx, anomaly.ConfigPatch{FailureThreshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.FailureThreshold)
	assert.Equal(t, anomaly.DefaultConfig().MaxSessionMinutes, cfg.MaxSessionMinutes)
	assert.Equal(t, 10, svc.Config().FailureThreshold)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, events.TypeAnomalyDetectionConfigUpdated, notifier.events[0].Type)
	assert.Equal(t, events.BroadcastAll, notifier.events[0].UserID)

	bad := -1
	_, err = svc.UpdateConfig(ctx, anomaly.ConfigPatch{FailureThreshold: &bad})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	assert.Equal(t, 10, svc.Config().FailureThreshold)
}
