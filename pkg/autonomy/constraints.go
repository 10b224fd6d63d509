package autonomy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

// ExecutorConstraints are hard constraints enforced at the executor level,
// outside LLM reach: even a fully compromised model cannot auto-close an
// incident or run a playbook these constraints forbid, because the check
// runs in code the model never touches.
type ExecutorConstraints struct {
	AllowlistedPlaybooks      map[string]bool
	MinConfidenceForAutoClose float64
	RequireFPMatchForAutoClose bool
	CanModifyRoutingPolicy    bool
	CanDisableGuardrails      bool
}

// DefaultExecutorConstraints mirrors the conservative defaults: no playbook
// pre-allowlisted, a high auto-close confidence bar, and both policy
// mutation and guardrail disablement denied.
func DefaultExecutorConstraints() ExecutorConstraints {
	return ExecutorConstraints{
		AllowlistedPlaybooks:       map[string]bool{},
		MinConfidenceForAutoClose:  0.85,
		RequireFPMatchForAutoClose: true,
	}
}

// ValidatePlaybook reports whether playbookID is allowlisted for
// unattended execution.
func ValidatePlaybook(playbookID string, c ExecutorConstraints) bool {
	return c.AllowlistedPlaybooks[playbookID]
}

// ValidateAutoClose reports whether an escalation meets the auto-close
// bar: confidence at or above the floor, and — when configured — a
// matched false-positive pattern. When the match is required, neither
// condition alone suffices.
func ValidateAutoClose(confidence float64, fpMatched bool, c ExecutorConstraints) bool {
	if confidence < c.MinConfidenceForAutoClose {
		return false
	}
	if c.RequireFPMatchForAutoClose && !fpMatched {
		return false
	}
	return true
}

// PermissionDeniedError is returned when an agent role attempts an action
// outside its allowed set.
type PermissionDeniedError struct {
	Role   string
	Action string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("agent role %q is not permitted to %q", e.Role, e.Action)
}

// RolePermissions is the static role-to-action matrix. Agent roles never
// escalate their own permissions at runtime; this map is the sole source
// of truth and is enforced in code, not trusted from model output.
var RolePermissions = map[string]map[string]bool{
	"ioc_extractor": {"query_data": true, "call_llm": true},
	"context_enricher": {
		"query_data": true, "query_graph": true, "call_llm": true,
	},
	"reasoning_agent": {
		"query_data": true, "query_graph": true, "analyse": true,
		"comment_incident": true, "call_llm": true,
	},
	"response_agent": {
		"query_data": true, "analyse": true, "update_incident": true,
		"execute_playbook": true, "call_llm": true,
	},
}

// RolePermissionEnforcer enforces RolePermissions at the code level.
type RolePermissionEnforcer struct{}

// CheckPermission reports whether agentRole may perform action.
func (RolePermissionEnforcer) CheckPermission(agentRole, action string) bool {
	return RolePermissions[agentRole][action]
}

// EnforcePermission returns a PermissionDeniedError if action is not
// permitted for agentRole.
func (e RolePermissionEnforcer) EnforcePermission(agentRole, action string) error {
	if !e.CheckPermission(agentRole, action) {
		return &PermissionDeniedError{Role: agentRole, Action: action}
	}
	return nil
}

// PolicyInput is the fact set a Rego constraint policy evaluates over —
// the autonomy-guard analogue of context enrichment output.
type PolicyInput struct {
	TenantTier       string                 `json:"tenant_tier"`
	AutonomyLevel    string                 `json:"autonomy_level"`
	Confidence       float64                `json:"confidence"`
	FPMatched        bool                   `json:"fp_matched"`
	DriftElevated    bool                   `json:"drift_elevated"`
	KillSwitchActive bool                   `json:"kill_switch_active"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
}

// PolicyResult is a constraint policy's verdict.
type PolicyResult struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// ConstraintPolicy evaluates a compiled Rego module against a PolicyInput.
// Unlike ExecutorConstraints (fixed Go logic), this is for constraints an
// operator can redeploy without a code change — e.g. tenant-tier-specific
// autonomy ceilings — while still running outside the LLM's reach.
type ConstraintPolicy struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewConstraintPolicy compiles a Rego module (source text, not a file path
// — callers load from config/object storage) exposing data.autonomy.allow
// and data.autonomy.reason.
func NewConstraintPolicy(ctx context.Context, module string, logger *zap.Logger) (*ConstraintPolicy, error) {
	query, err := rego.New(
		rego.Query("allow := data.autonomy.allow; reason := data.autonomy.reason"),
		rego.Module("autonomy_constraints.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("autonomy: compile constraint policy: %w", err)
	}
	return &ConstraintPolicy{query: query, logger: logger}, nil
}

// Evaluate runs the compiled policy against input. A policy that fails to
// evaluate is treated as deny, never allow — constraint evaluation never
// fails open.
func (p *ConstraintPolicy) Evaluate(ctx context.Context, input PolicyInput) (PolicyResult, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"tenant_tier":        input.TenantTier,
		"autonomy_level":     input.AutonomyLevel,
		"confidence":         input.Confidence,
		"fp_matched":         input.FPMatched,
		"drift_elevated":     input.DriftElevated,
		"kill_switch_active": input.KillSwitchActive,
		"extra":              input.Extra,
	}))
	if err != nil {
		return PolicyResult{Allow: false, Reason: "policy evaluation error"}, fmt.Errorf("autonomy: evaluate constraint policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Bindings) == 0 {
		return PolicyResult{Allow: false, Reason: "policy produced no result"}, nil
	}

	allow, _ := rs[0].Bindings["allow"].(bool)
	reason, _ := rs[0].Bindings["reason"].(string)
	if !allow && reason == "" {
		reason = "denied by constraint policy"
	}
	return PolicyResult{Allow: allow, Reason: reason}, nil
}

// DefaultConstraintModule is the baseline policy: deny whenever the
// kill-switch is active or drift is elevated, and require a false-positive
// pattern match before allowing auto-close at all.
const DefaultConstraintModule = `
package autonomy

default allow := false

allow if {
	not input.kill_switch_active
	not input.drift_elevated
	input.fp_matched
	input.confidence >= 0.85
}

reason := "kill switch active" if {
	input.kill_switch_active
} else := "concept drift elevated" if {
	input.drift_elevated
} else := "confidence below auto-close floor" if {
	input.confidence < 0.85
} else := "no matched false-positive pattern" if {
	not input.fp_matched
} else := "allowed"
`
