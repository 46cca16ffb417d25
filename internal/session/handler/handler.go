// Package handler exposes the client-facing session endpoints: shadow-mode
// entry and heartbeats. Callers are authenticated users, not operators.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shadowgate/internal/session"
	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
	"shadowgate/pkg/platform/httputil"
	"shadowgate/pkg/requestcontext"
)

// Service is the session surface used by the client endpoints.
type Service interface {
	Start(ctx context.Context, userID domain.UserID, profile session.ProfileType) (*session.Session, error)
	RecordHeartbeat(ctx context.Context, id domain.SessionID) (time.Time, error)
}

// Handler serves session entry and heartbeat.
type Handler struct {
	sessions Service
	logger   *slog.Logger
}

// New constructs the session handler.
func New(sessions Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// Register wires the client-facing session routes onto r, behind RequireAuth
// only; no elevated role needed.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Post("/sessions/{id}/heartbeat", h.Heartbeat)
}

type startSessionRequest struct {
	ProfileType string `json:"profileType"`
}

// StartSession handles POST /sessions: the caller enters shadow mode. The
// session is attributed to the authenticated caller, never a body-supplied
// user id.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.ParseUserID(requestcontext.ActorID(r.Context()))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller identity missing"))
		return
	}

	var req startSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	sess, err := h.sessions.Start(r.Context(), userID, session.ProfileType(req.ProfileType))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

// Heartbeat handles POST /sessions/{id}/heartbeat. A heartbeat against a
// terminated session returns a conflict so the client forces logout.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	last, err := h.sessions.RecordHeartbeat(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"sessionId":      id.String(),
		"lastActivityAt": last,
	})
}
