package ops

// Severity is a Prometheus alert's severity label.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// AlertRule is a Prometheus alerting rule, kept as data so it can be
// rendered into Alertmanager YAML rather than hand-maintained there.
type AlertRule struct {
	Name        string
	Expr        string
	For         string
	Severity    Severity
	Summary     string
	Description string
	Labels      map[string]string
	Annotations map[string]string
}

// ToPrometheusRule renders r as the map shape a Prometheus rule-group
// YAML document expects.
func (r AlertRule) ToPrometheusRule() map[string]interface{} {
	labels := map[string]string{"severity": string(r.Severity)}
	for k, v := range r.Labels {
		labels[k] = v
	}
	annotations := map[string]string{"summary": r.Summary, "description": r.Description}
	for k, v := range r.Annotations {
		annotations[k] = v
	}

	return map[string]interface{}{
		"alert":       r.Name,
		"expr":        r.Expr,
		"for":         r.For,
		"labels":      labels,
		"annotations": annotations,
	}
}

// LLMCircuitBreakerAlert fires when any provider's circuit breaker opens.
// No collector in this module exports soc_llm_circuit_breaker_state.
var LLMCircuitBreakerAlert = AlertRule{
	Name:     "SOCLLMCircuitBreakerOpen",
	Expr:     `soc_llm_circuit_breaker_state{state="open"} == 1`,
	For:      "1m",
	Severity: SeverityCritical,
	Summary:  "LLM circuit breaker is OPEN",
	Description: "A provider circuit breaker has opened; routing is operating in " +
		"degraded mode. Verify provider status and check the degradation level.",
	Labels: map[string]string{"component": "llm-router"},
}

// QueueLagAlert fires when queue consumer lag crosses a warning threshold.
// No collector in this module exports soc_queue_consumer_lag.
var QueueLagAlert = AlertRule{
	Name:     "SOCQueueConsumerLagHigh",
	Expr:     "soc_queue_consumer_lag > 1000",
	For:      "5m",
	Severity: SeverityWarning,
	Summary:  "Queue consumer lag exceeds 1000 messages",
	Description: "Consumer lag on {{ $labels.topic }} partition {{ $labels.partition }} " +
		"for group {{ $labels.consumer_group }} has exceeded 1000 messages for 5 minutes.",
	Labels: map[string]string{"component": "queue"},
}

// QueueLagCriticalAlert escalates QueueLagAlert past a stuck-consumer
// threshold, over the same unexported metric.
var QueueLagCriticalAlert = AlertRule{
	Name:     "SOCQueueConsumerLagCritical",
	Expr:     "soc_queue_consumer_lag > 10000",
	For:      "5m",
	Severity: SeverityCritical,
	Summary:  "Queue consumer lag exceeds 10000 messages",
	Description: "Consumer lag on {{ $labels.topic }} has exceeded 10000 messages. " +
		"Immediate investigation required; possible stuck consumer.",
	Labels: map[string]string{"component": "queue"},
}

// AuditChainBrokenAlert fires the moment a tenant's audit chain fails
// verification — the highest-severity alert in the catalog, since a
// broken chain is a tamper-evidence failure, not a transient blip.
var AuditChainBrokenAlert = AlertRule{
	Name:     "SOCAuditChainBroken",
	Expr:     `soc_audit_chain_valid_total{result="invalid"} > 0`,
	For:      "0m",
	Severity: SeverityCritical,
	Summary:  "Audit chain verification failed",
	Description: "Continuous hash-chain verification detected a break for " +
		"{{ $labels.tenant_id }}. Escalate immediately; do not wait for the daily full check.",
	Labels: map[string]string{"component": "audit-service"},
}

// CostSoftAlert fires when monthly LLM spend crosses the soft budget.
var CostSoftAlert = AlertRule{
	Name:     "SOCMonthlySpendSoftLimit",
	Expr:     "soc_llm_router_cost_usd_total > 500",
	For:      "1m",
	Severity: SeverityWarning,
	Summary:  "Monthly LLM spend exceeds $500 soft limit",
	Description: "Current spend: ${{ $value }}. Review spend by tier and task type; " +
		"check for escalation storms or batch spikes.",
	Labels: map[string]string{"component": "llm-router"},
}

// CostHardAlert fires when monthly LLM spend crosses the hard cap.
var CostHardAlert = AlertRule{
	Name:     "SOCMonthlySpendHardCap",
	Expr:     "soc_llm_router_cost_usd_total > 1000",
	For:      "1m",
	Severity: SeverityCritical,
	Summary:  "Monthly LLM spend exceeds $1000 hard cap",
	Description: "Spend has passed the hard cap; LLM calls are not blocked automatically. Immediate action required.",
	Labels: map[string]string{"component": "llm-router"},
}

// DetectionRuleStalledAlert fires when the detection runner stops
// evaluating rules. No collector in this module exports
// soc_detection_rules_evaluated_total.
var DetectionRuleStalledAlert = AlertRule{
	Name:     "SOCDetectionRuleStalled",
	Expr:     "rate(soc_detection_rules_evaluated_total[5m]) == 0",
	For:      "15m",
	Severity: SeverityWarning,
	Summary:  "Detection rules stopped evaluating",
	Description: "No detection rule evaluations in the last 15 minutes; the runner " +
		"may have stopped or crashed.",
	Labels: map[string]string{"component": "atlas-detection"},
}

// CanaryRollbackAlert fires whenever a canary rollout rolls back. No
// collector in this module exports soc_canary_rollback_total.
var CanaryRollbackAlert = AlertRule{
	Name:     "SOCCanaryRollback",
	Expr:     "increase(soc_canary_rollback_total[1h]) > 0",
	For:      "0m",
	Severity: SeverityWarning,
	Summary:  "Canary rollout rolled back",
	Description: "Slice {{ $labels.dimension }}={{ $labels.value }} rolled back; " +
		"review precision and missed-true-positive counts before re-enabling.",
	Labels: map[string]string{"component": "orchestrator"},
}

// AllAlertRules is the full catalog every service registers against its
// Prometheus rule group.
var AllAlertRules = []AlertRule{
	LLMCircuitBreakerAlert,
	QueueLagAlert,
	QueueLagCriticalAlert,
	AuditChainBrokenAlert,
	CostSoftAlert,
	CostHardAlert,
	DetectionRuleStalledAlert,
	CanaryRollbackAlert,
}

// RenderPrometheusRules renders AllAlertRules as a single Prometheus rule
// group document.
func RenderPrometheusRules() map[string]interface{} {
	rules := make([]map[string]interface{}, 0, len(AllAlertRules))
	for _, r := range AllAlertRules {
		rules = append(rules, r.ToPrometheusRule())
	}
	return map[string]interface{}{
		"groups": []map[string]interface{}{
			{"name": "soc.rules", "rules": rules},
		},
	}
}
