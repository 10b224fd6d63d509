package ops

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLivenessAlwaysHealthy(t *testing.T) {
	h := NewHealthCheck("llm-router", "1.0.0", nil)
	resp := h.Liveness()
	if resp.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", resp.Status)
	}
	if resp.Service != "llm-router" {
		t.Errorf("Service = %v, want llm-router", resp.Service)
	}
}

func TestReadinessAllDependenciesHealthy(t *testing.T) {
	h := NewHealthCheck("llm-router", "1.0.0", map[string]Checker{
		"redis": func(ctx context.Context) DependencyStatus {
			return DependencyStatus{Name: "redis", Healthy: true}
		},
	})

	resp := h.Readiness(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", resp.Status)
	}
}

func TestReadinessDegradedWhenSomeDependenciesFail(t *testing.T) {
	h := NewHealthCheck("orchestrator", "1.0.0", map[string]Checker{
		"postgres": func(ctx context.Context) DependencyStatus {
			return DependencyStatus{Name: "postgres", Healthy: true}
		},
		"redis": func(ctx context.Context) DependencyStatus {
			return DependencyStatus{Name: "redis", Healthy: false, Error: "connection refused"}
		},
		"queue": func(ctx context.Context) DependencyStatus {
			return DependencyStatus{Name: "queue", Healthy: true}
		},
		"vector": func(ctx context.Context) DependencyStatus {
			return DependencyStatus{Name: "vector", Healthy: true}
		},
	})

	resp := h.Readiness(context.Background())
	if resp.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", resp.Status)
	}
	if resp.Status.HTTPStatusCode() != 200 {
		t.Errorf("HTTPStatusCode() = %v, want 200 for degraded", resp.Status.HTTPStatusCode())
	}
}

func TestReadinessUnhealthyWhenAllDependenciesFail(t *testing.T) {
	h := NewHealthCheck("llm-router", "1.0.0", map[string]Checker{
		"redis": func(ctx context.Context) DependencyStatus {
			return DependencyStatus{Name: "redis", Healthy: false}
		},
	})

	resp := h.Readiness(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", resp.Status)
	}
	if resp.Status.HTTPStatusCode() != 503 {
		t.Errorf("HTTPStatusCode() = %v, want 503", resp.Status.HTTPStatusCode())
	}
}

func TestReadinessMissingCheckerReportsUnhealthy(t *testing.T) {
	h := NewHealthCheck("llm-router", "1.0.0", nil)
	resp := h.Readiness(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy when no checker is configured", resp.Status)
	}
	if resp.Dependencies[0].Error != "no checker configured" {
		t.Errorf("Error = %q, want 'no checker configured'", resp.Dependencies[0].Error)
	}
}

func TestReadinessVacuousForServiceWithNoDependencies(t *testing.T) {
	h := NewHealthCheck("unregistered-service", "1.0.0", nil)
	resp := h.Readiness(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy for a service with no listed dependencies", resp.Status)
	}
}

func TestTimedCheckerConvertsErrorToUnhealthyStatus(t *testing.T) {
	checker := TimedChecker("postgres", func(ctx context.Context) error {
		return errors.New("ping failed")
	})

	status := checker(context.Background())
	if status.Healthy {
		t.Error("expected unhealthy status on probe error")
	}
	if status.Error != "ping failed" {
		t.Errorf("Error = %q, want 'ping failed'", status.Error)
	}
}

func TestTimedCheckerHealthyOnSuccess(t *testing.T) {
	checker := TimedChecker("postgres", func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	status := checker(context.Background())
	if !status.Healthy {
		t.Error("expected healthy status when probe succeeds")
	}
	if status.LatencyMs <= 0 {
		t.Error("expected a positive latency measurement")
	}
}
