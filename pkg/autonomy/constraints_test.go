package autonomy

import (
	"context"
	"testing"
)

func TestValidatePlaybookChecksAllowlist(t *testing.T) {
	c := DefaultExecutorConstraints()
	c.AllowlistedPlaybooks["isolate-host"] = true

	if !ValidatePlaybook("isolate-host", c) {
		t.Error("allowlisted playbook should validate")
	}
	if ValidatePlaybook("wipe-disk", c) {
		t.Error("non-allowlisted playbook should not validate")
	}
}

func TestValidateAutoCloseRequiresBothConditions(t *testing.T) {
	c := DefaultExecutorConstraints()

	if ValidateAutoClose(0.5, true, c) {
		t.Error("low confidence should fail auto-close regardless of fp match")
	}
	if ValidateAutoClose(0.9, false, c) {
		t.Error("missing fp match should fail auto-close when required")
	}
	if !ValidateAutoClose(0.9, true, c) {
		t.Error("high confidence plus fp match should pass")
	}
}

func TestValidateAutoCloseWithoutFPMatchRequirement(t *testing.T) {
	c := DefaultExecutorConstraints()
	c.RequireFPMatchForAutoClose = false

	if !ValidateAutoClose(0.9, false, c) {
		t.Error("auto-close should pass on confidence alone when fp match is not required")
	}
}

func TestRolePermissionEnforcerAllowsMatrixActions(t *testing.T) {
	e := RolePermissionEnforcer{}

	if !e.CheckPermission("response_agent", "execute_playbook") {
		t.Error("response_agent should be permitted to execute_playbook")
	}
	if e.CheckPermission("ioc_extractor", "execute_playbook") {
		t.Error("ioc_extractor should not be permitted to execute_playbook")
	}
}

func TestRolePermissionEnforcerReturnsErrorOnDenial(t *testing.T) {
	e := RolePermissionEnforcer{}

	err := e.EnforcePermission("ioc_extractor", "execute_playbook")
	if err == nil {
		t.Fatal("expected PermissionDeniedError")
	}
	if _, ok := err.(*PermissionDeniedError); !ok {
		t.Errorf("error type = %T, want *PermissionDeniedError", err)
	}
}

func TestRolePermissionEnforcerUnknownRoleDeniedEverything(t *testing.T) {
	e := RolePermissionEnforcer{}

	if e.CheckPermission("unregistered_role", "query_data") {
		t.Error("unknown role should have no permissions")
	}
}

func TestConstraintPolicyDeniesWhenKillSwitchActive(t *testing.T) {
	ctx := context.Background()
	policy, err := NewConstraintPolicy(ctx, DefaultConstraintModule, nil)
	if err != nil {
		t.Fatalf("NewConstraintPolicy() error = %v", err)
	}

	result, err := policy.Evaluate(ctx, PolicyInput{
		KillSwitchActive: true,
		Confidence:       0.99,
		FPMatched:        true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allow {
		t.Error("kill switch active should deny regardless of confidence")
	}
	if result.Reason != "kill switch active" {
		t.Errorf("Reason = %q, want %q", result.Reason, "kill switch active")
	}
}

func TestConstraintPolicyAllowsWhenAllConditionsMet(t *testing.T) {
	ctx := context.Background()
	policy, err := NewConstraintPolicy(ctx, DefaultConstraintModule, nil)
	if err != nil {
		t.Fatalf("NewConstraintPolicy() error = %v", err)
	}

	result, err := policy.Evaluate(ctx, PolicyInput{
		Confidence: 0.9,
		FPMatched:  true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Allow {
		t.Errorf("expected allow, got deny with reason %q", result.Reason)
	}
}

func TestConstraintPolicyDeniesBelowConfidenceFloor(t *testing.T) {
	ctx := context.Background()
	policy, err := NewConstraintPolicy(ctx, DefaultConstraintModule, nil)
	if err != nil {
		t.Fatalf("NewConstraintPolicy() error = %v", err)
	}

	result, err := policy.Evaluate(ctx, PolicyInput{
		Confidence: 0.5,
		FPMatched:  true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allow {
		t.Error("confidence below floor should deny")
	}
}
