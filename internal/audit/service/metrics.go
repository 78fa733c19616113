package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the ingestion-surface instruments. All methods are
// nil-receiver safe.
type Metrics struct {
	RecordedLatency     *prometheus.HistogramVec
	Rejected            *prometheus.CounterVec
	RiskScores          prometheus.Histogram
	ThreatAlerts        prometheus.Counter
	SignatureMismatches prometheus.Counter
	QueryCacheLookups   *prometheus.CounterVec
	RiskCacheLookups    *prometheus.CounterVec
}

// NewMetrics registers the service metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RecordedLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_audit_record_duration_seconds",
			Help:    "End-to-end latency of event ingestion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category", "severity"}),
		Rejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_audit_events_rejected_total",
			Help: "Events rejected before persistence, by reason.",
		}, []string{"reason"}),
		RiskScores: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_audit_risk_score",
			Help:    "Distribution of composite risk scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ThreatAlerts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vigil_audit_threat_alerts_total",
			Help: "Events that triggered an immediate threat alert.",
		}),
		SignatureMismatches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vigil_audit_signature_mismatches_total",
			Help: "Stored events that failed signature verification.",
		}),
		QueryCacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_audit_query_cache_lookups_total",
			Help: "Query cache lookups, by outcome.",
		}, []string{"outcome"}),
		RiskCacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_audit_risk_cache_lookups_total",
			Help: "Risk result cache lookups, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveRecorded(category, severity string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordedLatency.WithLabelValues(category, severity).Observe(d.Seconds())
}

func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRiskScore(score float64) {
	if m == nil {
		return
	}
	m.RiskScores.Observe(score)
}

func (m *Metrics) IncThreatAlert() {
	if m == nil {
		return
	}
	m.ThreatAlerts.Inc()
}

func (m *Metrics) IncSignatureMismatch() {
	if m == nil {
		return
	}
	m.SignatureMismatches.Inc()
}

func (m *Metrics) IncQueryCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.QueryCacheLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRiskCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.RiskCacheLookups.WithLabelValues(outcome).Inc()
}
