package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aluskort/soc-core/pkg/storage/graph"
)

type fakeRule struct {
	id        string
	frequency time.Duration
	results   []Result
	err       error
	calls     int
}

func (r *fakeRule) RuleID() string           { return r.id }
func (r *fakeRule) Frequency() time.Duration { return r.frequency }
func (r *fakeRule) Lookback() time.Duration  { return time.Hour }
func (r *fakeRule) Evaluate(ctx context.Context, db DB, now time.Time) ([]Result, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.results, nil
}

type fakePublisher struct {
	published []CanonicalAlert
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, alert CanonicalAlert) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, alert)
	return nil
}

func TestApplyConfidenceFloorRaisesSafetyRules(t *testing.T) {
	got := ApplyConfidenceFloor("ATLAS-DETECT-005", 0.3)
	if got != 0.7 {
		t.Errorf("ApplyConfidenceFloor() = %v, want 0.7 floor", got)
	}
}

func TestApplyConfidenceFloorLeavesHigherConfidenceAlone(t *testing.T) {
	got := ApplyConfidenceFloor("ATLAS-DETECT-005", 0.9)
	if got != 0.9 {
		t.Errorf("ApplyConfidenceFloor() = %v, want unchanged 0.9", got)
	}
}

func TestApplyConfidenceFloorNonSafetyRuleUnaffected(t *testing.T) {
	got := ApplyConfidenceFloor("ATLAS-DETECT-001", 0.1)
	if got != 0.1 {
		t.Errorf("ApplyConfidenceFloor() = %v, want unchanged for non-safety rule", got)
	}
}

func TestRunDueMarksSafetyRelevantAndPublishes(t *testing.T) {
	now := time.Now()
	rule := &fakeRule{
		id:        "ATLAS-DETECT-005",
		frequency: time.Hour,
		results: []Result{
			{RuleID: "ATLAS-DETECT-005", Triggered: true, Confidence: 0.3, Timestamp: now},
		},
	}
	pub := &fakePublisher{}
	runner := NewRunner([]Rule{rule}, nil, pub, nil, nil, nil)

	out := runner.RunDue(context.Background(), now)

	results := out["ATLAS-DETECT-005"]
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].SafetyRelevant {
		t.Error("safety-relevant rule's result should be flagged")
	}
	if results[0].Confidence != 0.7 {
		t.Errorf("confidence = %v, want floor-raised 0.7", results[0].Confidence)
	}
	if len(pub.published) != 1 {
		t.Errorf("published = %d alerts, want 1", len(pub.published))
	}
}

func TestRunDueSkipsRulesNotYetDue(t *testing.T) {
	now := time.Now()
	rule := &fakeRule{id: "R1", frequency: time.Hour}
	runner := NewRunner([]Rule{rule}, nil, nil, nil, nil, nil)

	runner.RunDue(context.Background(), now)
	if rule.calls != 1 {
		t.Fatalf("first RunDue should evaluate the rule once, got %d calls", rule.calls)
	}

	runner.RunDue(context.Background(), now.Add(time.Minute))
	if rule.calls != 1 {
		t.Errorf("rule run again before its frequency elapsed: calls=%d, want 1", rule.calls)
	}

	runner.RunDue(context.Background(), now.Add(2*time.Hour))
	if rule.calls != 2 {
		t.Errorf("rule should run again once frequency elapsed: calls=%d, want 2", rule.calls)
	}
}

func TestRunDueSwallowsRuleErrors(t *testing.T) {
	rule := &fakeRule{id: "R1", frequency: time.Minute, err: errors.New("telemetry query failed")}
	runner := NewRunner([]Rule{rule}, nil, nil, nil, nil, nil)

	out := runner.RunDue(context.Background(), time.Now())
	if results, ok := out["R1"]; ok && len(results) != 0 {
		t.Errorf("errored rule should contribute no results, got %v", results)
	}
}

func TestRunDuePublishFailureDoesNotPropagate(t *testing.T) {
	now := time.Now()
	rule := &fakeRule{
		id:        "R1",
		frequency: time.Minute,
		results:   []Result{{RuleID: "R1", Triggered: true, Timestamp: now}},
	}
	pub := &fakePublisher{err: errors.New("queue unavailable")}
	runner := NewRunner([]Rule{rule}, nil, pub, nil, nil, nil)

	out := runner.RunDue(context.Background(), now)
	if len(out["R1"]) != 1 {
		t.Errorf("publish failure should not suppress the rule's own results")
	}
}

type fakeConsequenceClient struct {
	result graph.Result
}

func (f *fakeConsequenceClient) GetConsequenceSeverity(ctx context.Context, findingID, zoneClassHint string) graph.Result {
	return f.result
}

func TestRunDueScoresConsequenceSeverity(t *testing.T) {
	now := time.Now()
	rule := &fakeRule{
		id:        "R1",
		frequency: time.Minute,
		results: []Result{
			{RuleID: "R1", Triggered: true, Timestamp: now, Evidence: map[string]interface{}{"zone_class": "safety"}},
		},
	}
	pub := &fakePublisher{}
	consequence := &fakeConsequenceClient{result: graph.Result{Severity: graph.SeverityCritical, Degraded: true}}
	runner := NewRunner([]Rule{rule}, nil, pub, nil, consequence, nil)

	out := runner.RunDue(context.Background(), now)

	results := out["R1"]
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ConsequenceSeverity != string(graph.SeverityCritical) {
		t.Errorf("ConsequenceSeverity = %q, want %q", results[0].ConsequenceSeverity, graph.SeverityCritical)
	}
	if !results[0].ConsequenceDegraded {
		t.Error("ConsequenceDegraded should be true when the graph lookup degrades")
	}

	if len(pub.published) != 1 {
		t.Fatalf("published = %d alerts, want 1", len(pub.published))
	}
	payload := pub.published[0].RawPayload
	if payload["consequence_severity"] != string(graph.SeverityCritical) {
		t.Errorf("RawPayload[consequence_severity] = %v, want %q", payload["consequence_severity"], graph.SeverityCritical)
	}
	if payload["consequence_degraded"] != true {
		t.Errorf("RawPayload[consequence_degraded] = %v, want true", payload["consequence_degraded"])
	}
}
