// Package detection schedules detection rules, enforces safety-relevant
// confidence floors, and publishes triggered results as canonical alerts
// onto the alerts.raw topic (spec §4.12).
package detection

import (
	"context"
	"fmt"
	"time"
)

// Result is the output of a single triggered (or not) rule evaluation.
type Result struct {
	RuleID                  string
	Triggered               bool
	AlertTitle              string
	AlertSeverity           string
	ATLASTechnique          string
	AttackTechnique         string
	ThreatModelRef          string
	Confidence              float64
	Evidence                map[string]interface{}
	Entities                []map[string]interface{}
	RequiresImmediateAction bool
	SafetyRelevant          bool
	Timestamp               time.Time

	// ConsequenceSeverity and ConsequenceDegraded are filled in by the
	// runner's blast-radius lookup (pkg/storage/graph), if configured,
	// after the rule itself fires.
	ConsequenceSeverity string
	ConsequenceDegraded bool
}

// findingID derives a stable identifier for a triggered result, reused
// both for the canonical alert's id and the consequence-graph lookup key.
func findingID(r Result) string {
	return fmt.Sprintf("%s-%d", r.RuleID, r.Timestamp.UnixNano())
}

// zoneClassHint extracts the zone_class evidence field a rule may report,
// used as the static-fallback key when the consequence graph can't be
// reached.
func zoneClassHint(r Result) string {
	hint, _ := r.Evidence["zone_class"].(string)
	return hint
}

// SafetyConfidenceFloors are the minimum confidences certain safety
// rules' results may report; a rule's raw confidence is never allowed to
// erode below its floor even after a downstream trust-based downgrade.
var SafetyConfidenceFloors = map[string]float64{
	"ATLAS-DETECT-005": 0.7, // physics oracle DoS
	"ATLAS-DETECT-009": 0.7, // sensor spoofing
}

// SafetyRelevantRules cannot have their results downgraded to
// false_positive by downstream LLM reasoning (spec §4.12, glossary:
// "Safety-relevant rule").
var SafetyRelevantRules = map[string]bool{
	"ATLAS-DETECT-004": true, // adversarial evasion
	"ATLAS-DETECT-005": true, // physics oracle DoS
	"ATLAS-DETECT-009": true, // sensor spoofing
}

// ApplyConfidenceFloor enforces ruleID's safety confidence floor, if any,
// raising — never lowering — confidence to at least the floor.
func ApplyConfidenceFloor(ruleID string, confidence float64) float64 {
	if floor, ok := SafetyConfidenceFloors[ruleID]; ok && confidence < floor {
		return floor
	}
	return confidence
}

// DB is the narrow telemetry-query surface a Rule needs. It is the
// out-of-scope Postgres/vector/graph connector shim's stated contract
// (spec.md §1's Non-goals) rather than a concrete driver.
type DB interface {
	Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
}

// Rule is the dynamic-dispatch interface every detection rule
// implements; a registry enumerates concrete instances at startup
// (spec §9's "Dynamic dispatch" design note).
type Rule interface {
	RuleID() string
	Frequency() time.Duration
	Lookback() time.Duration
	Evaluate(ctx context.Context, db DB, now time.Time) ([]Result, error)
}

// IsSafetyRelevant reports whether ruleID's results cannot be downgraded
// to false_positive downstream.
func IsSafetyRelevant(ruleID string) bool {
	return SafetyRelevantRules[ruleID]
}

// IsDue reports whether a rule last run at lastRun should run again as of
// now, given its configured frequency.
func IsDue(rule Rule, lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return now.Sub(lastRun) >= rule.Frequency()
}
