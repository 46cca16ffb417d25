package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the control plane.
type Metrics struct {
	OpsCommands        *prometheus.CounterVec
	LockoutsIssued     prometheus.Counter
	SessionsTerminated prometheus.Counter
	AlertsRaised       *prometheus.CounterVec
	BroadcastFailures  prometheus.Counter
	AuthFailures       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		OpsCommands: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowgate_ops_commands_total",
			Help: "Operator commands processed, by command and outcome.",
		}, []string{"command", "outcome"}),
		LockoutsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shadowgate_lockouts_issued_total",
			Help: "Lockouts issued, automatic and operator-initiated.",
		}),
		SessionsTerminated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shadowgate_sessions_terminated_total",
			Help: "Shadow sessions terminated.",
		}),
		AlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowgate_anomaly_alerts_total",
			Help: "Anomaly alerts raised, by type.",
		}, []string{"type"}),
		BroadcastFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shadowgate_broadcast_failures_total",
			Help: "Event broadcast attempts that failed and were swallowed.",
		}),
		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowgate_auth_failures_total",
			Help: "Recorded authentication failures, by channel.",
		}, []string{"channel"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadowgate_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
