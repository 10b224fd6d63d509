package autonomy

import (
	"context"
	"testing"
	"time"
)

func TestCheckPromotionRollsBackOnMissedTPs(t *testing.T) {
	slice := CanarySlice{CreatedAt: time.Now().AddDate(0, 0, -10)}
	got := CheckPromotion(slice, 0.99, 1, DefaultCanaryConfig, time.Now())
	if got != DecisionRollback {
		t.Errorf("CheckPromotion() = %v, want rollback on missed TPs", got)
	}
}

func TestCheckPromotionRollsBackOnLowPrecision(t *testing.T) {
	slice := CanarySlice{CreatedAt: time.Now().AddDate(0, 0, -10)}
	got := CheckPromotion(slice, 0.80, 0, DefaultCanaryConfig, time.Now())
	if got != DecisionRollback {
		t.Errorf("CheckPromotion() = %v, want rollback on low precision", got)
	}
}

func TestCheckPromotionPromotesWhenAllGatesPass(t *testing.T) {
	now := time.Now()
	slice := CanarySlice{CreatedAt: now.AddDate(0, 0, -8)}
	got := CheckPromotion(slice, 0.99, 0, DefaultCanaryConfig, now)
	if got != DecisionPromote {
		t.Errorf("CheckPromotion() = %v, want promote", got)
	}
}

func TestCheckPromotionContinuesBeforePromotionAge(t *testing.T) {
	now := time.Now()
	slice := CanarySlice{CreatedAt: now.AddDate(0, 0, -2)}
	got := CheckPromotion(slice, 0.99, 0, DefaultCanaryConfig, now)
	if got != DecisionContinue {
		t.Errorf("CheckPromotion() = %v, want continue (too young)", got)
	}
}

func TestPromoteSetsStatusAndTimestamp(t *testing.T) {
	m := NewRolloutManager(nil, nil, nil)
	slice := &CanarySlice{SliceID: "s1", Dimension: "tenant", Value: "t-001", Status: CanaryActive}
	now := time.Now()

	m.Promote(context.Background(), slice, now)

	if slice.Status != CanaryPromoted {
		t.Errorf("Status = %v, want promoted", slice.Status)
	}
	if slice.PromotedAt != now {
		t.Error("PromotedAt should be stamped")
	}
	history := m.History()
	if len(history) != 1 || history[0].Action != "promote" {
		t.Errorf("history = %+v, want one promote event", history)
	}
}

func TestRollbackActivatesKillSwitch(t *testing.T) {
	ks := NewKillSwitchManager(nil, nil)
	m := NewRolloutManager(ks, nil, nil)
	slice := &CanarySlice{SliceID: "s1", Dimension: "rule_family", Value: "phishing", Status: CanaryActive}

	m.Rollback(context.Background(), slice, "precision_below_threshold", time.Now())

	if slice.Status != CanaryRolledBack {
		t.Errorf("Status = %v, want rolled_back", slice.Status)
	}
	if !ks.IsActive("pattern", "phishing") {
		t.Error("rollback on a rule_family slice should activate the pattern kill switch")
	}
}

type fakeEvaluation struct {
	evals map[string]FPEvaluationResult
}

func (f fakeEvaluation) GetEvaluation(value string) (FPEvaluationResult, bool) {
	r, ok := f.evals[value]
	return r, ok
}

func TestEvaluatorSkipsNonActiveSlices(t *testing.T) {
	m := NewRolloutManager(nil, nil, nil)
	eval := fakeEvaluation{evals: map[string]FPEvaluationResult{}}
	e := NewEvaluator(m, eval)

	slices := []*CanarySlice{
		{SliceID: "s1", Status: CanaryPromoted, Value: "t-001"},
	}
	decisions := e.EvaluateAll(context.Background(), slices, DefaultCanaryConfig, time.Now())
	if len(decisions) != 0 {
		t.Errorf("decisions = %+v, want none for a non-active slice", decisions)
	}
}

func TestEvaluatorPromotesEligibleSlice(t *testing.T) {
	m := NewRolloutManager(nil, nil, nil)
	now := time.Now()
	eval := fakeEvaluation{evals: map[string]FPEvaluationResult{
		"t-001": {Precision: 0.99, FalsePositives: 0},
	}}
	e := NewEvaluator(m, eval)

	slices := []*CanarySlice{
		{SliceID: "s1", Dimension: "tenant", Value: "t-001", Status: CanaryActive, CreatedAt: now.AddDate(0, 0, -8)},
	}
	decisions := e.EvaluateAll(context.Background(), slices, DefaultCanaryConfig, now)
	if len(decisions) != 1 || decisions[0].Decision != DecisionPromote {
		t.Fatalf("decisions = %+v, want one promote", decisions)
	}
	if slices[0].Status != CanaryPromoted {
		t.Errorf("slice status = %v, want promoted", slices[0].Status)
	}
}
