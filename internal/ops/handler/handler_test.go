package handler_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	anomalyservice "shadowgate/internal/anomaly/service"
	anomalystore "shadowgate/internal/anomaly/store"
	"shadowgate/internal/audit"
	auditstore "shadowgate/internal/audit/store"
	"shadowgate/internal/events"
	"shadowgate/internal/events/broadcaster"
	"shadowgate/internal/httpapi"
	lockoutservice "shadowgate/internal/lockout/service"
	lockoutstore "shadowgate/internal/lockout/store"
	opshandler "shadowgate/internal/ops/handler"
	"shadowgate/internal/platform/metrics"
	"shadowgate/internal/platform/middleware"
	"shadowgate/internal/ratelimit"
	ratelimithandler "shadowgate/internal/ratelimit/handler"
	ratelimitservice "shadowgate/internal/ratelimit/service"
	"shadowgate/internal/session"
	sessionhandler "shadowgate/internal/session/handler"
	sessionservice "shadowgate/internal/session/service"
	sessionstore "shadowgate/internal/session/store"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/testutil"
)

// Prometheus collectors register once per process.
var (
	metricsOnce sync.Once
	testMetrics *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	metricsOnce.Do(func() { testMetrics = metrics.New() })
	return testMetrics
}

// failingBackend simulates a dead delivery path.
type failingBackend struct{}

func (failingBackend) Broadcast(context.Context, events.Event) error {
	return errors.New("broker unreachable")
}

type HandlerSuite struct {
	suite.Suite

	router   http.Handler
	sessions *sessionstore.InMemoryStore
	locks    *lockoutstore.InMemoryStore
	alerts   *anomalystore.InMemoryStore
	audits   *auditstore.InMemoryStore

	anomalies *anomalyservice.Service

	opToken   string
	userID    domain.UserID
	userToken string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.Default()
	m := sharedMetrics()

	s.sessions = sessionstore.NewInMemoryStore()
	s.locks = lockoutstore.NewInMemoryStore()
	s.alerts = anomalystore.NewInMemoryStore()
	s.audits = auditstore.NewInMemoryStore()

	publisher := audit.NewPublisher(s.audits)
	notifier := broadcaster.NewFireAndForget(failingBackend{}, logger, 100*time.Millisecond)

	sessionsSvc, err := sessionservice.New(s.sessions,
		sessionservice.WithAuditPublisher(publisher),
		sessionservice.WithNotifier(notifier),
	)
	s.Require().NoError(err)

	lockoutsSvc, err := lockoutservice.New(s.locks,
		lockoutservice.WithAuditPublisher(publisher),
		lockoutservice.WithNotifier(notifier),
	)
	s.Require().NoError(err)

	s.anomalies, err = anomalyservice.New(s.alerts,
		anomalyservice.WithAuditPublisher(publisher),
		anomalyservice.WithNotifier(notifier),
	)
	s.Require().NoError(err)

	rateLimitsSvc, err := ratelimitservice.New(
		ratelimit.NewPolicies(nil),
		ratelimit.NewTracker(s.audits),
		lockoutsSvc,
		ratelimitservice.WithAuditPublisher(publisher),
		ratelimitservice.WithNotifier(notifier),
	)
	s.Require().NoError(err)

	s.router = httpapi.NewRouter(httpapi.Deps{
		Logger:    logger,
		Metrics:   m,
		Validator: middleware.NewJWTValidator(testutil.SigningKey),
		Ops:       opshandler.New(sessionsSvc, lockoutsSvc, s.anomalies, rateLimitsSvc, m, logger),
		Client:    sessionhandler.New(sessionsSvc, logger),
		Internal:  ratelimithandler.New(rateLimitsSvc, m, logger),
	})

	s.opToken = testutil.MintToken(s.T(), uuid.NewString(), "operations")
	s.userID = domain.UserID(uuid.New())
	s.userToken = testutil.MintToken(s.T(), s.userID.String(), "member")
}

func (s *HandlerSuite) seedSession() *session.Session {
	sess := &session.Session{
		ID:             domain.NewSessionID(),
		UserID:         domain.UserID(uuid.New()),
		ProfileType:    session.ProfileShadow,
		Status:         session.StatusActive,
		StartedAt:      time.Now().UTC().Add(-time.Hour),
		LastActivityAt: time.Now().UTC(),
	}
	s.Require().NoError(s.sessions.Create(context.Background(), sess))
	return sess
}

func (s *HandlerSuite) TestRejectsAnonymousCallers() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+uuid.NewString()+"/terminate", "", map[string]string{"reason": "r"})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestRejectsNonElevatedRole() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+uuid.NewString()+"/terminate", s.userToken, map[string]string{"reason": "r"})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *HandlerSuite) TestTerminateSucceedsDespiteBroadcastFailure() {
	sess := s.seedSession()

	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+sess.ID.String()+"/terminate", s.opToken,
		map[string]string{"userId": sess.UserID.String(), "reason": "policy violation"})
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Success      bool      `json:"success"`
		SessionID    string    `json:"sessionId"`
		TerminatedAt time.Time `json:"terminatedAt"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.True(resp.Success)
	s.Equal(sess.ID.String(), resp.SessionID)
	s.False(resp.TerminatedAt.IsZero())

	stored, err := s.sessions.Get(context.Background(), sess.ID)
	s.Require().NoError(err)
	s.Equal(session.StatusTerminated, stored.Status)
}

func (s *HandlerSuite) TestTerminateIsIdempotentOverHTTP() {
	sess := s.seedSession()
	body := map[string]string{"reason": "policy violation"}

	first := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+sess.ID.String()+"/terminate", s.opToken, body)
	s.Equal(http.StatusOK, first.Code)
	second := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+sess.ID.String()+"/terminate", s.opToken, body)
	s.Equal(http.StatusOK, second.Code)
}

func (s *HandlerSuite) TestTerminateErrors() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+uuid.NewString()+"/terminate", s.opToken, map[string]string{"reason": "r"})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/not-a-uuid/terminate", s.opToken, map[string]string{"reason": "r"})
	s.Equal(http.StatusBadRequest, rec.Code)

	sess := s.seedSession()
	rec = testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+sess.ID.String()+"/terminate", s.opToken, map[string]string{"reason": ""})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestLockAndUnlockUser() {
	target := uuid.NewString()

	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/users/"+target+"/lock", s.opToken, map[string]any{"reason": "suspicious activity", "durationMinutes": 45})
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Success     bool      `json:"success"`
		UserID      string    `json:"userId"`
		LockedUntil time.Time `json:"lockedUntil"`
		Reason      string    `json:"reason"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.True(resp.Success)
	s.Equal(target, resp.UserID)
	s.Equal("suspicious activity", resp.Reason)
	s.False(resp.LockedUntil.IsZero())
	s.Equal(1, s.locks.Len())

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/users/"+target+"/unlock", s.opToken, map[string]any{})
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(0, s.locks.Len())
}

func (s *HandlerSuite) TestLockRequiresReason() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/users/"+uuid.NewString()+"/lock", s.opToken, map[string]any{"durationMinutes": 30})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(0, s.locks.Len())
}

func (s *HandlerSuite) TestListSessions() {
	active := s.seedSession()
	terminated := s.seedSession()
	_, err := s.sessions.Terminate(context.Background(), terminated.ID, "done", time.Now().UTC())
	s.Require().NoError(err)

	rec := testutil.DoJSON(s.T(), s.router, http.MethodGet, "/sessions?status=active", s.opToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Data  []session.Session `json:"data"`
		Total int               `json:"total"`
		Page  int               `json:"page"`
		Limit int               `json:"limit"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.Equal(1, resp.Total)
	s.Equal(1, resp.Page)
	s.Equal(50, resp.Limit)
	s.Require().Len(resp.Data, 1)
	s.Equal(active.ID, resp.Data[0].ID)
}

func (s *HandlerSuite) TestListSessionsWithoutQueryParams() {
	s.seedSession()
	s.seedSession()

	rec := testutil.DoJSON(s.T(), s.router, http.MethodGet, "/sessions", s.opToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Data  []session.Session `json:"data"`
		Total int               `json:"total"`
		Page  int               `json:"page"`
		Limit int               `json:"limit"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.Equal(2, resp.Total)
	s.Equal(1, resp.Page)
	s.Equal(50, resp.Limit)
	s.Len(resp.Data, 2)
}

func (s *HandlerSuite) TestListSessionsSortParam() {
	s.seedSession()

	rec := testutil.DoJSON(s.T(), s.router, http.MethodGet,
		"/sessions?sort=last_activity_at", s.opToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = testutil.DoJSON(s.T(), s.router, http.MethodGet,
		"/sessions?sort=started_at", s.opToken, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestAnomalyResolution() {
	alert, err := s.anomalies.Raise(context.Background(),
		"multiple_ips", "medium", "user-1", "two addresses", "")
	s.Require().NoError(err)

	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/anomalies/"+alert.ID.String()+"/resolve", s.opToken,
		map[string]string{"resolution": "false positive", "notes": "vpn"})
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Success    bool      `json:"success"`
		AnomalyID  string    `json:"anomalyId"`
		ResolvedAt time.Time `json:"resolvedAt"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.True(resp.Success)
	s.Equal(alert.ID.String(), resp.AnomalyID)
	s.False(resp.ResolvedAt.IsZero())

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/anomalies/"+uuid.NewString()+"/resolve", s.opToken,
		map[string]string{"resolution": "done"})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestListAnomaliesActiveExcludesResolved() {
	open, err := s.anomalies.Raise(context.Background(),
		"multiple_ips", "medium", "user-1", "m", "")
	s.Require().NoError(err)
	closed, err := s.anomalies.Raise(context.Background(),
		"long_session", "low", "sess-1", "m", "")
	s.Require().NoError(err)
	_, err = s.anomalies.Resolve(context.Background(), closed.ID, "done", "")
	s.Require().NoError(err)

	rec := testutil.DoJSON(s.T(), s.router, http.MethodGet, "/anomalies?status=active", s.opToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Data   []map[string]any `json:"data"`
		Total  int              `json:"total"`
		Active int              `json:"active"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.Equal(1, resp.Total)
	s.Equal(1, resp.Active)
	s.Require().Len(resp.Data, 1)
	s.Equal(open.ID.String(), resp.Data[0]["id"])
	s.NotContains(resp.Data[0], "resolvedAt")
}

func (s *HandlerSuite) TestRateLimitSummaryAndConfig() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodGet, "/rate-limits", s.opToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	var summary map[string]struct {
		TotalViolations   int `json:"total_violations"`
		LockedUsers       int `json:"locked_users"`
		ViolationsLast24h int `json:"violations_last_24h"`
	}
	testutil.DecodeJSON(s.T(), rec, &summary)
	s.Contains(summary, "pin_attempts")
	s.Contains(summary, "biometric_attempts")

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPut, "/rate-limits/pin", s.opToken,
		map[string]int{"maxAttempts": 3, "windowMinutes": 5, "lockoutMinutes": 60})
	s.Equal(http.StatusOK, rec.Code)

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPut, "/rate-limits/face", s.opToken,
		map[string]int{"maxAttempts": 3, "windowMinutes": 5, "lockoutMinutes": 60})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestUpdateAnomalyConfig() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPut, "/anomaly-config", s.opToken,
		map[string]int{"failureThreshold": 8})
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(8, s.anomalies.Config().FailureThreshold)

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPut, "/anomaly-config", s.opToken,
		map[string]any{})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestClientSessionLifecycle() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost, "/sessions", s.userToken,
		map[string]string{"profileType": "shadow"})
	s.Equal(http.StatusCreated, rec.Code)

	var created session.Session
	testutil.DecodeJSON(s.T(), rec, &created)
	s.Equal(s.userID, created.UserID)
	s.Equal(session.StatusActive, created.Status)

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+created.ID.String()+"/heartbeat", s.userToken, map[string]any{})
	s.Equal(http.StatusOK, rec.Code)

	term := testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+created.ID.String()+"/terminate", s.opToken,
		map[string]string{"reason": "operator action"})
	s.Equal(http.StatusOK, term.Code)

	rec = testutil.DoJSON(s.T(), s.router, http.MethodPost,
		"/sessions/"+created.ID.String()+"/heartbeat", s.userToken, map[string]any{})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestAuthEventIngestion() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodPost, "/internal/auth-events", s.userToken,
		map[string]any{"userId": s.userID.String(), "channel": "pin", "success": false})
	s.Equal(http.StatusAccepted, rec.Code)

	var resp struct {
		Recorded bool `json:"recorded"`
		Locked   bool `json:"locked"`
	}
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.True(resp.Recorded)
	s.False(resp.Locked)
	s.Equal(1, s.audits.Len())
}

func (s *HandlerSuite) TestHealthz() {
	rec := testutil.DoJSON(s.T(), s.router, http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}
