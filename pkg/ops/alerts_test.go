package ops

import "testing"

func TestToPrometheusRuleIncludesSeverityLabel(t *testing.T) {
	rule := LLMCircuitBreakerAlert.ToPrometheusRule()

	labels, ok := rule["labels"].(map[string]string)
	if !ok {
		t.Fatal("labels should be a map[string]string")
	}
	if labels["severity"] != "critical" {
		t.Errorf("labels[severity] = %v, want critical", labels["severity"])
	}
	if labels["component"] != "llm-router" {
		t.Errorf("labels[component] = %v, want llm-router", labels["component"])
	}
}

func TestToPrometheusRuleIncludesSummaryAndDescription(t *testing.T) {
	rule := QueueLagAlert.ToPrometheusRule()

	annotations, ok := rule["annotations"].(map[string]string)
	if !ok {
		t.Fatal("annotations should be a map[string]string")
	}
	if annotations["summary"] == "" {
		t.Error("expected a non-empty summary annotation")
	}
}

func TestRenderPrometheusRulesIncludesEveryCatalogRule(t *testing.T) {
	doc := RenderPrometheusRules()
	groups, ok := doc["groups"].([]map[string]interface{})
	if !ok || len(groups) != 1 {
		t.Fatal("expected a single rule group")
	}
	rules, ok := groups[0]["rules"].([]map[string]interface{})
	if !ok {
		t.Fatal("expected a rules list")
	}
	if len(rules) != len(AllAlertRules) {
		t.Errorf("rendered %d rules, want %d", len(rules), len(AllAlertRules))
	}
}

func TestAuditChainBrokenAlertIsCriticalWithNoForDelay(t *testing.T) {
	if AuditChainBrokenAlert.Severity != SeverityCritical {
		t.Error("a broken audit chain must alert at critical severity")
	}
	if AuditChainBrokenAlert.For != "0m" {
		t.Errorf("For = %q, want immediate (0m) firing for a tamper-evidence failure", AuditChainBrokenAlert.For)
	}
}
