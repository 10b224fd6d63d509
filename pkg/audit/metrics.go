package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// chainValidTotal, verificationDurationSeconds and queueLag are the
// Prometheus-facing counterparts of VerificationResult, scraped by the
// same dashboard that tracks routing health (spec §4.4).
var (
	chainValidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soc",
			Subsystem: "audit",
			Name:      "chain_valid_total",
			Help:      "Total chain verification checks by check_type, tenant_id and result.",
		},
		[]string{"check_type", "tenant_id", "result"},
	)

	verificationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "soc",
			Subsystem: "audit",
			Name:      "verification_duration_seconds",
			Help:      "Chain verification pass duration in seconds by check_type.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"check_type"},
	)

	queueLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "soc",
			Subsystem: "audit",
			Name:      "queue_lag",
			Help:      "Entries by which audit.events durability trails the queue, per tenant.",
		},
		[]string{"tenant_id"},
	)
)

// Collectors returns the package's Prometheus collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{chainValidTotal, verificationDurationSeconds, queueLag}
}

// PrometheusMetrics satisfies Scheduler's MetricsRecorder by mirroring
// every observation onto the package's Prometheus collectors.
type PrometheusMetrics struct{}

// NewPrometheusMetrics constructs a PrometheusMetrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

func (PrometheusMetrics) ObserveChainValid(checkType, tenantID string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	chainValidTotal.WithLabelValues(checkType, tenantID, result).Inc()
}

func (PrometheusMetrics) ObserveVerificationDuration(checkType string, seconds float64) {
	verificationDurationSeconds.WithLabelValues(checkType).Observe(seconds)
}

func (PrometheusMetrics) ObserveQueueLag(tenantID string, lag int64) {
	queueLag.WithLabelValues(tenantID).Set(float64(lag))
}

var _ MetricsRecorder = PrometheusMetrics{}
