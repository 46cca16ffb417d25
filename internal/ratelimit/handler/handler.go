// Package handler receives authentication attempt outcomes from the auth
// collaborator. The endpoint is internal: it sits behind service auth but not
// the operator role.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shadowgate/internal/platform/metrics"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/platform/httputil"
)

// Service records attempt outcomes and escalates threshold crossings.
type Service interface {
	RecordAttempt(ctx context.Context, userID domain.UserID, channel string, success bool) (bool, error)
}

// Handler serves the internal auth-event ingestion endpoint.
type Handler struct {
	service Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New constructs the auth-event handler.
func New(service Service, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, metrics: m, logger: logger}
}

// Register wires the internal ingestion routes onto r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/internal/auth-events", h.RecordAuthEvent)
}

type authEventRequest struct {
	UserID  string `json:"userId"`
	Channel string `json:"channel"`
	Success bool   `json:"success"`
}

// RecordAuthEvent handles POST /internal/auth-events. Failed attempts land in
// the audit log and may trip an automatic lockout; the response tells the
// auth service whether the user is now locked.
func (h *Handler) RecordAuthEvent(w http.ResponseWriter, r *http.Request) {
	var req authEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	userID, err := domain.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	locked, err := h.service.RecordAttempt(r.Context(), userID, req.Channel, req.Success)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !req.Success {
		h.metrics.AuthFailures.WithLabelValues(req.Channel).Inc()
	}
	if locked {
		h.metrics.LockoutsIssued.Inc()
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"recorded": true,
		"locked":   locked,
	})
}
