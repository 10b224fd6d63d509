package detection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aluskort/soc-core/pkg/audit"
	"github.com/aluskort/soc-core/pkg/storage/graph"
)

// ConsequenceClient scores a triggered finding's blast radius over the
// asset/zone dependency graph (pkg/storage/graph.Client satisfies this).
type ConsequenceClient interface {
	GetConsequenceSeverity(ctx context.Context, findingID, zoneClassHint string) graph.Result
}

// AlertTopic is the canonical queue topic triggered detections publish
// onto (spec §6).
const AlertTopic = "alerts.raw"

// CanonicalAlert is the pipeline's normalized alert shape, the boundary
// this runner hands off across to the (out-of-scope) enrichment stage.
type CanonicalAlert struct {
	AlertID     string
	Source      string
	Timestamp   time.Time
	Title       string
	Description string
	Severity    string
	Techniques  []string
	RawPayload  map[string]interface{}
}

// ToCanonicalAlert converts a triggered Result into the pipeline's
// canonical alert shape, preserving both technique identifiers and the
// raw confidence/evidence for downstream reasoning.
func ToCanonicalAlert(r Result) CanonicalAlert {
	var techniques []string
	if r.ATLASTechnique != "" {
		techniques = append(techniques, r.ATLASTechnique)
	}
	if r.AttackTechnique != "" {
		techniques = append(techniques, r.AttackTechnique)
	}

	return CanonicalAlert{
		AlertID:     findingID(r),
		Source:      "atlas",
		Timestamp:   r.Timestamp,
		Title:       r.AlertTitle,
		Description: "ATLAS detection: " + r.AlertTitle,
		Severity:    r.AlertSeverity,
		Techniques:  techniques,
		RawPayload: map[string]interface{}{
			"rule_id":                   r.RuleID,
			"confidence":                r.Confidence,
			"evidence":                  r.Evidence,
			"threat_model_ref":          r.ThreatModelRef,
			"requires_immediate_action": r.RequiresImmediateAction,
			"safety_relevant":           r.SafetyRelevant,
			"consequence_severity":      r.ConsequenceSeverity,
			"consequence_degraded":      r.ConsequenceDegraded,
		},
	}
}

// Publisher is the narrow queue-producer surface the runner needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, alert CanonicalAlert) error
}

// Runner executes registered rules on their own schedule, applies the
// safety floor, converts triggered results to canonical alerts, and
// publishes them — failures are always logged and never raised, so one
// bad rule or a publish error never stalls the others.
type Runner struct {
	rules       []Rule
	db          DB
	publisher   Publisher
	writer      *audit.Writer
	consequence ConsequenceClient
	logger      *zap.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewRunner constructs a Runner over rules. publisher, writer and
// consequence may be nil — publish, audit-emit and consequence scoring
// then become silent no-ops.
func NewRunner(rules []Rule, db DB, publisher Publisher, writer *audit.Writer, consequence ConsequenceClient, logger *zap.Logger) *Runner {
	return &Runner{rules: rules, db: db, publisher: publisher, writer: writer, consequence: consequence, logger: logger, lastRun: make(map[string]time.Time)}
}

// Rules returns the registered rule set.
func (r *Runner) Rules() []Rule {
	return r.rules
}

// RunDue evaluates every rule whose schedule is due as of now, returning
// results keyed by rule_id. A rule that errors is logged and contributes
// an empty result list; it never interrupts the remaining rules (spec
// §7's "Rule evaluation error" policy).
func (r *Runner) RunDue(ctx context.Context, now time.Time) map[string][]Result {
	out := make(map[string][]Result, len(r.rules))
	for _, rule := range r.rules {
		r.mu.Lock()
		due := IsDue(rule, r.lastRun[rule.RuleID()], now)
		r.mu.Unlock()
		if !due {
			continue
		}

		out[rule.RuleID()] = r.runRule(ctx, rule, now)

		r.mu.Lock()
		r.lastRun[rule.RuleID()] = now
		r.mu.Unlock()
	}
	return out
}

// runRule evaluates a single rule and publishes any triggered results.
func (r *Runner) runRule(ctx context.Context, rule Rule, now time.Time) []Result {
	results, err := rule.Evaluate(ctx, r.db, now)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("detection rule failed", zap.String("rule_id", rule.RuleID()), zap.Error(err))
		}
		return nil
	}

	for i := range results {
		if !results[i].Triggered {
			continue
		}

		if IsSafetyRelevant(rule.RuleID()) {
			results[i].SafetyRelevant = true
		}
		results[i].Confidence = ApplyConfidenceFloor(rule.RuleID(), results[i].Confidence)
		r.scoreConsequence(ctx, &results[i])

		alert := ToCanonicalAlert(results[i])
		r.publish(ctx, alert)
		r.emitDetectionFired(ctx, results[i])
	}
	return results
}

// scoreConsequence fills in result's blast-radius severity from the
// consequence graph, if one is configured. A nil client or a degraded
// graph lookup never blocks the alert — it publishes with whatever
// severity (possibly the static fallback) the lookup returned.
func (r *Runner) scoreConsequence(ctx context.Context, result *Result) {
	if r.consequence == nil {
		return
	}
	res := r.consequence.GetConsequenceSeverity(ctx, findingID(*result), zoneClassHint(*result))
	result.ConsequenceSeverity = string(res.Severity)
	result.ConsequenceDegraded = res.Degraded
}

func (r *Runner) publish(ctx context.Context, alert CanonicalAlert) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, AlertTopic, alert); err != nil && r.logger != nil {
		r.logger.Warn("failed to publish detection alert", zap.String("alert_id", alert.AlertID), zap.Error(err))
	}
}

// emitDetectionFired emits the atlas.detection_fired audit event
// fire-and-forget: a failure here never blocks detection.
func (r *Runner) emitDetectionFired(ctx context.Context, result Result) {
	if r.writer == nil {
		return
	}
	_, err := r.writer.Append(ctx, "system", &audit.Record{
		EventType:     "atlas.detection_fired",
		EventCategory: "decision",
		ActorType:     "system",
		ActorID:       "atlas-detection",
		Context: map[string]interface{}{
			"rule_id":     result.RuleID,
			"alert_title": result.AlertTitle,
			"confidence":  result.Confidence,
		},
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("audit emit failed for atlas.detection_fired", zap.Error(err))
	}
}
