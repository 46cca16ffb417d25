// Package handler exposes the operator-facing control API. Authorization is
// enforced by the router middleware chain; every handler here can assume an
// authenticated caller holding the operations role.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shadowgate/internal/anomaly"
	"shadowgate/internal/lockout"
	"shadowgate/internal/platform/metrics"
	"shadowgate/internal/ratelimit"
	"shadowgate/internal/session"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/platform/httputil"
	"shadowgate/pkg/requestcontext"
)

// SessionService is the session surface used by the control API.
type SessionService interface {
	Terminate(ctx context.Context, id domain.SessionID, reason string) (*session.Session, error)
	List(ctx context.Context, filter session.ListFilter) ([]session.Session, int, error)
}

// LockoutService is the lockout surface used by the control API.
type LockoutService interface {
	Lock(ctx context.Context, userID domain.UserID, reason string, durationMinutes int) (*lockout.Lockout, error)
	Unlock(ctx context.Context, userID domain.UserID) error
}

// AnomalyService is the anomaly surface used by the control API.
type AnomalyService interface {
	Resolve(ctx context.Context, id domain.AlertID, resolution, notes string) (*anomaly.Alert, error)
	List(ctx context.Context, filter anomaly.ListFilter) ([]anomaly.Alert, int, int, error)
	UpdateConfig(ctx context.Context, patch anomaly.ConfigPatch) (anomaly.Config, error)
}

// RateLimitService is the rate-limit surface used by the control API.
type RateLimitService interface {
	Summary(ctx context.Context) (ratelimit.Summary, error)
	UpdateConfig(ctx context.Context, channel string, cfg ratelimit.Config) (ratelimit.Config, error)
}

// Handler serves the operator command and read surface.
type Handler struct {
	sessions  SessionService
	lockouts  LockoutService
	anomalies AnomalyService
	rateLimit RateLimitService
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New constructs the control API handler.
func New(sessions SessionService, lockouts LockoutService, anomalies AnomalyService, rateLimit RateLimitService, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:  sessions,
		lockouts:  lockouts,
		anomalies: anomalies,
		rateLimit: rateLimit,
		metrics:   m,
		logger:    logger,
	}
}

// Register wires the operator routes onto r. The caller places them behind
// the RequireAuth and RequireOperator middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions/{id}/terminate", h.TerminateSession)
	r.Get("/sessions", h.ListSessions)
	r.Post("/users/{id}/lock", h.LockUser)
	r.Post("/users/{id}/unlock", h.UnlockUser)
	r.Get("/anomalies", h.ListAnomalies)
	r.Post("/anomalies/{id}/resolve", h.ResolveAnomaly)
	r.Put("/anomaly-config", h.UpdateAnomalyConfig)
	r.Get("/rate-limits", h.RateLimitSummary)
	r.Put("/rate-limits/{channel}", h.UpdateRateLimitConfig)
}

// TerminateSession handles POST /sessions/{id}/terminate.
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "terminate_session", err)
		return
	}
	var req terminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, "terminate_session", dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	sess, err := h.sessions.Terminate(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, "terminate_session", err)
		return
	}

	h.metrics.OpsCommands.WithLabelValues("terminate_session", "ok").Inc()
	h.metrics.SessionsTerminated.Inc()
	terminatedAt := requestcontext.Now(r.Context())
	if sess.EndedAt != nil {
		terminatedAt = *sess.EndedAt
	}
	httputil.WriteJSON(w, http.StatusOK, terminateResponse{
		Success:      true,
		SessionID:    sess.ID.String(),
		TerminatedAt: terminatedAt,
	})
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	filter := session.ListFilter{
		Status: session.Status(r.URL.Query().Get("status")),
		Sort:   r.URL.Query().Get("sort"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	// Normalize here as well as in the service: the page math below needs the
	// defaulted limit, not the raw query value.
	if err := filter.Normalize(); err != nil {
		h.fail(w, "list_sessions", err)
		return
	}
	sessions, total, err := h.sessions.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list_sessions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionsResponse{
		Data:  sessions,
		Total: total,
		Page:  filter.Offset/filter.Limit + 1,
		Limit: filter.Limit,
	})
}

// LockUser handles POST /users/{id}/lock.
func (h *Handler) LockUser(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "lock_user", err)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, "lock_user", dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	lock, err := h.lockouts.Lock(r.Context(), userID, req.Reason, req.DurationMinutes)
	if err != nil {
		h.fail(w, "lock_user", err)
		return
	}

	h.metrics.OpsCommands.WithLabelValues("lock_user", "ok").Inc()
	h.metrics.LockoutsIssued.Inc()
	httputil.WriteJSON(w, http.StatusOK, lockResponse{
		Success:     true,
		UserID:      userID.String(),
		LockedUntil: lock.LockedUntil,
		Reason:      lock.Reason,
	})
}

// UnlockUser handles POST /users/{id}/unlock.
func (h *Handler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "unlock_user", err)
		return
	}
	if err := h.lockouts.Unlock(r.Context(), userID); err != nil {
		h.fail(w, "unlock_user", err)
		return
	}
	h.metrics.OpsCommands.WithLabelValues("unlock_user", "ok").Inc()
	httputil.WriteJSON(w, http.StatusOK, unlockResponse{Success: true, UserID: userID.String()})
}

// ListAnomalies handles GET /anomalies.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	filter := anomaly.ListFilter{
		Severity: anomaly.Severity(r.URL.Query().Get("severity")),
		Status:   r.URL.Query().Get("status"),
		Limit:    queryInt(r, "limit"),
	}
	alerts, total, active, err := h.anomalies.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list_anomalies", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, anomaliesResponse{Data: alerts, Total: total, Active: active})
}

// ResolveAnomaly handles POST /anomalies/{id}/resolve.
func (h *Handler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseAlertID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "resolve_anomaly", err)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, "resolve_anomaly", dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	alert, err := h.anomalies.Resolve(r.Context(), id, req.Resolution, req.Notes)
	if err != nil {
		h.fail(w, "resolve_anomaly", err)
		return
	}

	h.metrics.OpsCommands.WithLabelValues("resolve_anomaly", "ok").Inc()
	httputil.WriteJSON(w, http.StatusOK, resolveResponse{
		Success:    true,
		AnomalyID:  alert.ID.String(),
		ResolvedAt: *alert.ResolvedAt,
	})
}

// UpdateAnomalyConfig handles PUT /anomaly-config.
func (h *Handler) UpdateAnomalyConfig(w http.ResponseWriter, r *http.Request) {
	var patch anomaly.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.fail(w, "update_anomaly_config", dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	cfg, err := h.anomalies.UpdateConfig(r.Context(), patch)
	if err != nil {
		h.fail(w, "update_anomaly_config", err)
		return
	}
	h.metrics.OpsCommands.WithLabelValues("update_anomaly_config", "ok").Inc()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "config": cfg})
}

// RateLimitSummary handles GET /rate-limits.
func (h *Handler) RateLimitSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.rateLimit.Summary(r.Context())
	if err != nil {
		h.fail(w, "rate_limit_summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// UpdateRateLimitConfig handles PUT /rate-limits/{channel}.
func (h *Handler) UpdateRateLimitConfig(w http.ResponseWriter, r *http.Request) {
	var cfg ratelimit.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.fail(w, "update_rate_limit_config", dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	updated, err := h.rateLimit.UpdateConfig(r.Context(), chi.URLParam(r, "channel"), cfg)
	if err != nil {
		h.fail(w, "update_rate_limit_config", err)
		return
	}
	h.metrics.OpsCommands.WithLabelValues("update_rate_limit_config", "ok").Inc()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"channel": chi.URLParam(r, "channel"),
		"config":  updated,
	})
}

func (h *Handler) fail(w http.ResponseWriter, command string, err error) {
	h.metrics.OpsCommands.WithLabelValues(command, "error").Inc()
	httputil.WriteError(w, err)
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
