// Package httpapi assembles the HTTP surface: middleware chain, route
// registration, and the unauthenticated health and metrics endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shadowgate/internal/platform/metrics"
	"shadowgate/internal/platform/middleware"
	"shadowgate/pkg/platform/httputil"
)

// Registrar wires a handler's routes onto a router.
type Registrar interface {
	Register(r chi.Router)
}

// Deps carries everything the router needs.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator middleware.TokenValidator

	// Ops routes require the operations role; Client and Internal routes
	// require only authentication.
	Ops      Registrar
	Client   Registrar
	Internal Registrar

	RequestTimeout time.Duration
}

// NewRouter builds the service router.
func NewRouter(deps Deps) http.Handler {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(deps.Logger),
		middleware.RequestID,
		middleware.RequestTime,
		middleware.ClientMetadata,
		middleware.Logger(deps.Logger),
		middleware.Latency(deps.Metrics),
		middleware.Timeout(deps.RequestTimeout),
		middleware.ContentTypeJSON,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		deps.Client.Register(r)
		deps.Internal.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.RequireAuth(deps.Validator, deps.Logger),
			middleware.RequireOperator(deps.Logger),
		)
		deps.Ops.Register(r)
	})

	return r
}
