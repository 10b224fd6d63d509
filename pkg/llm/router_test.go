package llm

import (
	"strings"
	"testing"
)

func testRegistry() map[ModelTier]ModelConfig {
	return map[ModelTier]ModelConfig{
		Tier0:     {Provider: ProviderAnthropic, ModelID: "haiku", MaxContextTokens: 200_000},
		Tier1:     {Provider: ProviderAnthropic, ModelID: "sonnet", MaxContextTokens: 200_000, SupportsToolUse: true},
		Tier1Plus: {Provider: ProviderAnthropic, ModelID: "opus", MaxContextTokens: 200_000, SupportsToolUse: true, SupportsExtendedThink: true},
		Tier2:     {Provider: ProviderAnthropic, ModelID: "sonnet-batch", MaxContextTokens: 200_000, BatchEligible: true},
	}
}

func TestRouteTimeBudgetDominatesSeverityAndContext(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	d := r.Route(TaskContext{
		TaskType:          "ioc_extraction",
		TimeBudgetSeconds: 2,
		AlertSeverity:     "critical",
		RequiresReasoning: true,
		ContextTokens:     150_000,
	})
	if d.Tier != Tier0 {
		t.Fatalf("Tier = %v, want tier_0 (time budget override)", d.Tier)
	}
}

func TestRouteSeverityOverrideRaisesFloor(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	d := r.Route(TaskContext{
		TaskType:          "ioc_extraction", // base tier_0
		TimeBudgetSeconds: 30,
		AlertSeverity:     "critical",
		RequiresReasoning: true,
	})
	if d.Tier != Tier1 {
		t.Fatalf("Tier = %v, want tier_1 (severity override)", d.Tier)
	}
}

func TestRouteContextSizeOverride(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	d := r.Route(TaskContext{
		TaskType:          "ioc_extraction",
		TimeBudgetSeconds: 30,
		ContextTokens:     150_000,
	})
	if d.Tier != Tier1 {
		t.Fatalf("Tier = %v, want tier_1 (context size override)", d.Tier)
	}
}

func TestRouteEscalationOverrideDominatesTimeBudget(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	conf := 0.4
	d := r.Route(TaskContext{
		TaskType:           "investigation",
		TimeBudgetSeconds:  2, // would force tier_0 on its own
		AlertSeverity:      "critical",
		PreviousConfidence: &conf,
	})
	if d.Tier != Tier1Plus {
		t.Fatalf("Tier = %v, want tier_1+ (escalation dominates time budget)", d.Tier)
	}
	if !d.UseExtendedThinking {
		t.Error("escalation decision should enable extended thinking")
	}
}

func TestScenarioRouterEscalation(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	conf := 0.4
	d := r.Route(TaskContext{
		TaskType:           "investigation",
		AlertSeverity:      "critical",
		PreviousConfidence: &conf,
	})
	if d.Tier != Tier1Plus || !d.UseExtendedThinking {
		t.Fatalf("got tier=%v extended=%v, want tier_1+ and extended thinking", d.Tier, d.UseExtendedThinking)
	}
	if !strings.Contains(d.Reason, "low_confidence_escalation") {
		t.Errorf("Reason = %q, want it to mention low_confidence_escalation", d.Reason)
	}
}

func TestRouteCapabilityGuardEscalates(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	d := r.Route(TaskContext{
		TaskType:          "ioc_extraction", // base tier_0, no tool use
		TimeBudgetSeconds: 30,
		Capabilities:      TaskCapabilities{RequiresToolUse: true},
	})
	if d.Tier != Tier1 {
		t.Fatalf("Tier = %v, want tier_1 (capability guard escalates past tier_0)", d.Tier)
	}
}

func TestRouteAllTaskTypesSatisfyCapabilities(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	caps := TaskCapabilities{RequiresToolUse: true, MinContextTokens: 50_000}
	for task, tier := range TaskTierMap {
		if tier == Tier2 {
			continue // batch tier is never subject to the capability escalation ladder
		}
		d := r.Route(TaskContext{TaskType: task, TimeBudgetSeconds: 30, Capabilities: caps})
		if !caps.Satisfies(d.ModelConfig) {
			t.Errorf("task %q: routed model %+v does not satisfy required capabilities", task, d.ModelConfig)
		}
	}
}

func TestRouteWithHealthFailsOverOnUnavailablePrimary(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	health := NewHealthRegistry(1, 0)
	for i := 0; i < 5; i++ {
		health.RecordFailure(ProviderAnthropic)
	}
	fallback := map[ModelTier]ModelConfig{
		Tier1: {Provider: ProviderBedrock, ModelID: "claude-bedrock", MaxContextTokens: 200_000},
	}

	d := r.RouteWithHealth(TaskContext{TaskType: "investigation", TimeBudgetSeconds: 30}, health, fallback)
	if !d.Failover {
		t.Fatal("expected Failover=true when primary provider is unavailable and a fallback exists")
	}
	if d.FailoverProvider != ProviderBedrock {
		t.Errorf("FailoverProvider = %v, want bedrock", d.FailoverProvider)
	}
	if d.ModelConfig.Provider != ProviderBedrock {
		t.Errorf("ModelConfig.Provider = %v, want bedrock", d.ModelConfig.Provider)
	}
}

func TestRouteWithHealthNoFailoverWhenPrimaryHealthy(t *testing.T) {
	r := NewRouter(testRegistry(), nil)
	health := NewHealthRegistry(5, 0)
	d := r.RouteWithHealth(TaskContext{TaskType: "investigation", TimeBudgetSeconds: 30}, health, nil)
	if d.Failover {
		t.Error("Failover should be false when the primary provider is healthy")
	}
}
