package llm

import "testing"

func TestShouldEscalateRequiresLowConfidence(t *testing.T) {
	m := NewEscalationManager(DefaultEscalationPolicy)
	if m.ShouldEscalate(0.8, "critical") {
		t.Error("high confidence should not escalate")
	}
	if !m.ShouldEscalate(0.4, "critical") {
		t.Error("low confidence + critical severity should escalate")
	}
}

func TestShouldEscalateRequiresApplicableSeverity(t *testing.T) {
	m := NewEscalationManager(DefaultEscalationPolicy)
	if m.ShouldEscalate(0.3, "medium") {
		t.Error("medium severity is not in the applicable set")
	}
}

func TestShouldEscalateRespectsHourlyBudget(t *testing.T) {
	m := NewEscalationManager(EscalationPolicy{
		ConfidenceThreshold:   0.6,
		ApplicableSeverities:  map[string]bool{"critical": true},
		MaxEscalationsPerHour: 2,
	})

	for i := 0; i < 2; i++ {
		if !m.ShouldEscalate(0.3, "critical") {
			t.Fatalf("escalation %d should be within budget", i)
		}
		m.RecordEscalation()
	}
	if m.ShouldEscalate(0.3, "critical") {
		t.Error("budget exhausted: should not escalate")
	}
	if got := m.BudgetRemaining(); got != 0 {
		t.Errorf("BudgetRemaining() = %d, want 0", got)
	}
}

func TestGetEscalationTierIsAlwaysTier1Plus(t *testing.T) {
	m := NewEscalationManager(DefaultEscalationPolicy)
	if got := m.GetEscalationTier(); got != Tier1Plus {
		t.Errorf("GetEscalationTier() = %v, want Tier1Plus", got)
	}
}
