package llm

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TierOutcome aggregates completed-task metrics for a single
// task_type:tier combination, used to refine routing decisions over time.
type TierOutcome struct {
	Total         int
	Success       int
	TotalCostUSD  float64
	TotalLatency  float64
	ConfidenceSum float64
}

// SuccessRate is Success/Total, or 0 if no tasks have completed yet.
func (o TierOutcome) SuccessRate() float64 {
	if o.Total == 0 {
		return 0
	}
	return float64(o.Success) / float64(o.Total)
}

// AvgCostUSD is the mean cost per task.
func (o TierOutcome) AvgCostUSD() float64 {
	if o.Total == 0 {
		return 0
	}
	return o.TotalCostUSD / float64(o.Total)
}

// AvgLatencyMs is the mean latency per task.
func (o TierOutcome) AvgLatencyMs() float64 {
	if o.Total == 0 {
		return 0
	}
	return o.TotalLatency / float64(o.Total)
}

// AvgConfidence is the mean self-reported confidence per task.
func (o TierOutcome) AvgConfidence() float64 {
	if o.Total == 0 {
		return 0
	}
	return o.ConfidenceSum / float64(o.Total)
}

// routingRequestsTotal, routingCostUSDTotal and routingLatencySeconds are
// the Prometheus-facing counterparts of RoutingMetrics, scraped by the
// same dashboard that tracks circuit breaker state (spec §4.6).
var (
	routingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soc",
			Subsystem: "llm_router",
			Name:      "requests_total",
			Help:      "Total routed LLM tasks by task_type, tier and outcome.",
		},
		[]string{"task_type", "tier", "outcome"},
	)

	routingCostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soc",
			Subsystem: "llm_router",
			Name:      "cost_usd_total",
			Help:      "Cumulative LLM spend in USD by task_type and tier.",
		},
		[]string{"task_type", "tier"},
	)

	routingLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "soc",
			Subsystem: "llm_router",
			Name:      "latency_seconds",
			Help:      "LLM call latency in seconds by task_type and tier.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"task_type", "tier"},
	)
)

// Collectors returns the router's Prometheus collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{routingRequestsTotal, routingCostUSDTotal, routingLatencySeconds}
}

// RoutingMetrics collects per-task-type:tier outcome data in memory for
// routing refinement, and mirrors every recorded outcome onto the
// package's Prometheus collectors.
type RoutingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]*TierOutcome
}

// NewRoutingMetrics constructs an empty RoutingMetrics.
func NewRoutingMetrics() *RoutingMetrics {
	return &RoutingMetrics{outcomes: make(map[string]*TierOutcome)}
}

func outcomeKey(taskType string, tier ModelTier) string {
	return fmt.Sprintf("%s:%s", taskType, tier)
}

// RecordOutcome records one completed task's outcome.
func (m *RoutingMetrics) RecordOutcome(taskType string, tier ModelTier, success bool, costUSD, latencyMs, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := outcomeKey(taskType, tier)
	outcome, ok := m.outcomes[key]
	if !ok {
		outcome = &TierOutcome{}
		m.outcomes[key] = outcome
	}
	outcome.Total++
	if success {
		outcome.Success++
	}
	outcome.TotalCostUSD += costUSD
	outcome.TotalLatency += latencyMs
	outcome.ConfidenceSum += confidence

	label := "failure"
	if success {
		label = "success"
	}
	routingRequestsTotal.WithLabelValues(taskType, string(tier), label).Inc()
	routingCostUSDTotal.WithLabelValues(taskType, string(tier)).Add(costUSD)
	routingLatencySeconds.WithLabelValues(taskType, string(tier)).Observe(latencyMs / 1000.0)
}

// GetOutcome returns the aggregated outcome for task_type:tier, if any.
func (m *RoutingMetrics) GetOutcome(taskType string, tier ModelTier) (TierOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, ok := m.outcomes[outcomeKey(taskType, tier)]
	if !ok {
		return TierOutcome{}, false
	}
	return *outcome, true
}

// AllOutcomes returns a snapshot of every recorded task_type:tier outcome.
func (m *RoutingMetrics) AllOutcomes() map[string]TierOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]TierOutcome, len(m.outcomes))
	for k, v := range m.outcomes {
		out[k] = *v
	}
	return out
}
