package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors exported by the wallet core.
type Metrics struct {
	ProbeLatency  prometheus.Gauge
	ProbeFailures prometheus.Counter
	TxSubmitted   prometheus.Counter
	TxByStatus    *prometheus.CounterVec
	AuthAttempts  *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbeLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pivot",
			Subsystem: "network",
			Name:      "probe_latency_seconds",
			Help:      "Latency of the last RPC liveness probe.",
		}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pivot",
			Subsystem: "network",
			Name:      "probe_failures_total",
			Help:      "Total failed RPC liveness probes.",
		}),
		TxSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pivot",
			Subsystem: "tx",
			Name:      "submitted_total",
			Help:      "Total transactions submitted for tracking.",
		}),
		TxByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivot",
			Subsystem: "tx",
			Name:      "status_transitions_total",
			Help:      "Transaction status transitions by resulting status.",
		}, []string{"status"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivot",
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Authentication attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.ProbeLatency,
		m.ProbeFailures,
		m.TxSubmitted,
		m.TxByStatus,
		m.AuthAttempts,
	)
	return m
}

// NewNop returns metrics backed by an isolated registry, for tests and
// callers that do not export.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
