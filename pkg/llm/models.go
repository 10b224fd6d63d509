// Package llm implements tiered model routing across Anthropic and a
// secondary provider, with per-provider circuit breakers, priority-based
// concurrency control, and confidence-driven escalation.
package llm

// ModelTier is one of the four tiers in the model architecture. tier_2 is
// a separate offline batch tier; TierMax ranks it level with tier_0 (see
// tierOrder and SPEC_FULL.md §6.1).
type ModelTier string

const (
	Tier0      ModelTier = "tier_0"  // Haiku — fast, cheap
	Tier1      ModelTier = "tier_1"  // Sonnet — deep reasoning
	Tier1Plus  ModelTier = "tier_1+" // Opus — complex / escalation
	Tier2      ModelTier = "tier_2"  // Sonnet Batch — offline
)

// tierOrder ranks tiers for TierMax comparisons. Tier2 is pinned to the
// same rank as Tier0: batch is never "higher" than the fast tier. Route's
// severity step passes a Tier2 base tier as an operand, so a critical
// batch task that requires reasoning is lifted to Tier1.
var tierOrder = map[ModelTier]int{
	Tier0:     0,
	Tier1:     1,
	Tier1Plus: 2,
	Tier2:     0,
}

// TierMax returns whichever of a, b ranks higher. Ties favor a. A Tier2
// operand ranks as Tier0.
func TierMax(a, b ModelTier) ModelTier {
	if tierOrder[a] >= tierOrder[b] {
		return a
	}
	return b
}

// ModelConfig is the per-tier provider/model/pricing record. Values are
// seeded from internal/config.LLMConfig at the composition root rather
// than hardcoded, so deployments can repoint model IDs without a rebuild.
type ModelConfig struct {
	Provider              Provider
	ModelID               string
	MaxContextTokens      int
	CostPerMTokInput      float64
	CostPerMTokOutput     float64
	SupportsExtendedThink bool
	SupportsToolUse       bool
	SupportsPromptCaching bool
	BatchEligible         bool
}

// TierDefaults are the default generation parameters for a tier.
type TierDefaults struct {
	MaxTokens   int
	Temperature float64
}

// DefaultTierDefaults mirrors the reference implementation's per-tier
// defaults. A deployment that wants to override these constructs its own
// map at the composition root and passes it to NewRouter.
var DefaultTierDefaults = map[ModelTier]TierDefaults{
	Tier0:     {MaxTokens: 2048, Temperature: 0.1},
	Tier1:     {MaxTokens: 8192, Temperature: 0.2},
	Tier1Plus: {MaxTokens: 16384, Temperature: 0.2},
	Tier2:     {MaxTokens: 16384, Temperature: 0.3},
}

// TaskContext describes a task to be routed.
type TaskContext struct {
	TaskType           string
	ContextTokens      int
	TimeBudgetSeconds  int
	AlertSeverity      string
	TenantTier         string
	RequiresReasoning  bool
	PreviousConfidence *float64
	Capabilities       TaskCapabilities

	// TenantID and AuditID identify the audit record this task's prompt
	// and response are evidence for. Both empty skips evidence capture.
	TenantID string
	AuditID  string
}

// TaskCapabilities is a task's minimum model requirement. Route filters
// out any tier's ModelConfig that doesn't satisfy every flag set here.
type TaskCapabilities struct {
	RequiresToolUse         bool
	RequiresJSONReliability bool
	MinContextTokens        int
	LatencySLOSeconds       int
	RequiresExtendedThink   bool
}

// Satisfies reports whether cfg meets caps's requirements. JSON
// reliability has no corresponding ModelConfig flag in this registry —
// every model in the registry is assumed JSON-reliable, so that
// requirement is never a filter criterion on its own.
func (caps TaskCapabilities) Satisfies(cfg ModelConfig) bool {
	if caps.RequiresToolUse && !cfg.SupportsToolUse {
		return false
	}
	if caps.RequiresExtendedThink && !cfg.SupportsExtendedThink {
		return false
	}
	if caps.MinContextTokens > 0 && cfg.MaxContextTokens < caps.MinContextTokens {
		return false
	}
	return true
}

// RoutingDecision is the router's output: the selected tier, its model
// config, and the generation parameters to use.
type RoutingDecision struct {
	Tier                ModelTier
	ModelConfig         ModelConfig
	MaxTokens           int
	Temperature         float64
	UseExtendedThinking bool
	UsePromptCaching    bool
	Reason              string
	Failover            bool
	FailoverProvider    Provider
}

// Provider identifies an LLM backend for circuit-breaker and health
// tracking purposes.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// DegradationLevel describes the system's current capability given
// provider health, per spec §4.7.
type DegradationLevel string

const (
	DegradationFullCapability  DegradationLevel = "full_capability"
	DegradationSecondaryActive DegradationLevel = "secondary_active"
	DegradationDeterministicOnly DegradationLevel = "deterministic_only"
)

// SeverityQueueMap maps alert severity to the priority queue topic an
// LLM job is published onto.
var SeverityQueueMap = map[string]string{
	"critical":      "jobs.llm.priority.critical",
	"high":          "jobs.llm.priority.high",
	"medium":        "jobs.llm.priority.normal",
	"low":           "jobs.llm.priority.low",
	"informational": "jobs.llm.priority.low",
}
