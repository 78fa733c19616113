package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the analysis fan-out.
type Metrics struct {
	// Per-stage latency and outcome
	StageLatency *prometheus.HistogramVec
	StageOutcome *prometheus.CounterVec

	// Events rejected by the integrity completeness gate
	IntegrityFailures prometheus.Counter
}

// NewMetrics registers the orchestrator metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		StageLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_audit_stage_duration_seconds",
			Help:    "Duration of analysis stages by stage name",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"stage"}),

		StageOutcome: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_audit_stage_outcomes_total",
			Help: "Total analysis stage outcomes by stage name and result",
		}, []string{"stage", "result"}), // result: "ok", "degraded"

		IntegrityFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vigil_audit_integrity_failures_total",
			Help: "Total events rejected by the integrity completeness gate",
		}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration, ok bool) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
		result := "ok"
		if !ok {
			result = "degraded"
		}
		m.StageOutcome.WithLabelValues(stage, result).Inc()
	}
}

// IncIntegrityFailure records an event rejected below the completeness
// threshold.
func (m *Metrics) IncIntegrityFailure() {
	if m != nil {
		m.IntegrityFailures.Inc()
	}
}
