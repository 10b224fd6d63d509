package llm

import (
	"fmt"
	"strings"
)

// TaskTierMap is the base task_type → tier assignment. A task type absent
// from this map defaults to Tier1.
var TaskTierMap = map[string]ModelTier{
	// Tier 0 — Haiku (fast, cheap)
	"ioc_extraction":        Tier0,
	"log_summarisation":     Tier0,
	"entity_normalisation":  Tier0,
	"fp_suggestion":         Tier0,
	"alert_classification":  Tier0,
	"severity_assessment":   Tier0,
	// Tier 1 — Sonnet (deep reasoning)
	"investigation":         Tier1,
	"ctem_correlation":      Tier1,
	"atlas_reasoning":       Tier1,
	"attack_path_analysis":  Tier1,
	"incident_report":       Tier1,
	"playbook_selection":    Tier1,
	// Tier 2 — Sonnet Batch (offline)
	"fp_pattern_training":       Tier2,
	"playbook_generation":       Tier2,
	"agent_red_team":            Tier2,
	"detection_rule_generation": Tier2,
	"retrospective_analysis":    Tier2,
	"threat_landscape_summary":  Tier2,
}

// Router routes tasks to the most cost-effective model tier given a
// model registry and per-tier generation defaults.
type Router struct {
	registry map[ModelTier]ModelConfig
	defaults map[ModelTier]TierDefaults
}

// NewRouter constructs a Router over registry (seeded from
// internal/config at the composition root) and defaults (DefaultTierDefaults
// unless the caller overrides them).
func NewRouter(registry map[ModelTier]ModelConfig, defaults map[ModelTier]TierDefaults) *Router {
	if defaults == nil {
		defaults = DefaultTierDefaults
	}
	return &Router{registry: registry, defaults: defaults}
}

// Route determines the optimal model tier for ctx, applying the 5-step
// override chain from spec §4.6:
//
//  1. Base tier from TaskTierMap.
//  2. Time budget < 3s forces Tier0.
//  3. Critical severity + requires_reasoning raises the floor to Tier1.
//  4. Context over 100K tokens raises Tier0 to Tier1, unless step 2 fired.
//  5. Low-confidence escalation (previous_confidence < 0.6 on
//     critical/high) forces Tier1Plus, overriding everything above.
func (r *Router) Route(ctx TaskContext) RoutingDecision {
	var reasons []string

	// 1 — base tier
	base, ok := TaskTierMap[ctx.TaskType]
	if !ok {
		base = Tier1
	}
	tier := base
	reasons = append(reasons, "base="+string(base))

	// 2 — time budget override (fastest wins)
	switch {
	case ctx.TimeBudgetSeconds < 3:
		tier = Tier0
		reasons = append(reasons, "time_budget<3s→tier_0")

	// 3 — severity override
	case ctx.AlertSeverity == "critical" && ctx.RequiresReasoning:
		newTier := TierMax(tier, Tier1)
		if newTier != base {
			reasons = append(reasons, "critical+reasoning→min_tier_1")
		}
		tier = newTier
	}

	// 4 — context size override
	if ctx.ContextTokens > 100_000 && tier == Tier0 && ctx.TimeBudgetSeconds >= 3 {
		tier = Tier1
		reasons = append(reasons, "context>100k→tier_1")
	}

	// 5 — escalation
	if ctx.PreviousConfidence != nil && *ctx.PreviousConfidence < 0.6 &&
		(ctx.AlertSeverity == "critical" || ctx.AlertSeverity == "high") {
		tier = Tier1Plus
		reasons = append(reasons, "low_confidence_escalation→tier_1+")
	}

	config := r.registry[tier]

	// Capability guard: the chosen tier's model must satisfy the task's
	// requirements. This registry maps one model per tier, so "filtering
	// within the chosen tier" means escalating to the next tier up (by
	// rank, excluding Tier2) until one qualifies or none do.
	if !ctx.Capabilities.Satisfies(config) {
		if escalated, ok := r.escalateForCapabilities(tier, ctx.Capabilities); ok {
			tier = escalated
			config = r.registry[tier]
			reasons = append(reasons, "capability_guard→"+string(tier))
		} else {
			reasons = append(reasons, "capability_guard_unsatisfied")
		}
	}

	defaults := r.defaults[tier]

	return RoutingDecision{
		Tier:                tier,
		ModelConfig:         config,
		MaxTokens:           defaults.MaxTokens,
		Temperature:         defaults.Temperature,
		UseExtendedThinking: tier == Tier1Plus,
		UsePromptCaching:    config.SupportsPromptCaching,
		Reason:              strings.Join(reasons, "; "),
	}
}

// ProviderAvailability is the narrow circuit-breaker-registry surface the
// router needs to decide failover — satisfied by *HealthRegistry.
type ProviderAvailability interface {
	IsAvailable(p Provider) bool
}

// RouteWithHealth runs Route, then consults health for the selected
// model's provider. If that provider is unavailable and a fallback model
// is registered for the same tier, the decision switches to the fallback
// model and records a failover event in the reason trail (spec §4.5).
func (r *Router) RouteWithHealth(ctx TaskContext, health ProviderAvailability, fallback map[ModelTier]ModelConfig) RoutingDecision {
	decision := r.Route(ctx)
	if health == nil || health.IsAvailable(decision.ModelConfig.Provider) {
		return decision
	}

	fb, ok := fallback[decision.Tier]
	if !ok {
		decision.Reason += "; primary_provider_unavailable_no_fallback"
		return decision
	}

	primary := decision.ModelConfig.Provider
	decision.Failover = true
	decision.FailoverProvider = fb.Provider
	decision.ModelConfig = fb
	decision.UsePromptCaching = fb.SupportsPromptCaching
	decision.Reason += fmt.Sprintf("; failover:%s→%s", primary, fb.Provider)
	return decision
}

// escalateForCapabilities walks the rank-comparable tiers above from in
// ascending order, returning the first whose model satisfies caps.
func (r *Router) escalateForCapabilities(from ModelTier, caps TaskCapabilities) (ModelTier, bool) {
	ladder := []ModelTier{Tier0, Tier1, Tier1Plus}
	startIdx := 0
	for i, t := range ladder {
		if t == from {
			startIdx = i
			break
		}
	}
	for _, t := range ladder[startIdx:] {
		if caps.Satisfies(r.registry[t]) {
			return t, true
		}
	}
	return from, false
}
