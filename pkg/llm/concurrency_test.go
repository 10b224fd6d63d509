package llm

import "testing"

func TestAcquireGrantsUpToMaxConcurrent(t *testing.T) {
	c := NewConcurrencyController(map[string]PriorityLimit{
		"critical": {MaxConcurrent: 8, MaxRPM: 200},
	}, nil)

	for i := 0; i < 8; i++ {
		if !c.Acquire("critical") {
			t.Fatalf("acquire %d: want granted", i)
		}
	}
	if c.Acquire("critical") {
		t.Error("9th acquire: want denied")
	}

	c.Release("critical")
	if !c.Acquire("critical") {
		t.Error("acquire after release: want granted")
	}
}

func TestAcquireEnforcesRPMWindow(t *testing.T) {
	c := NewConcurrencyController(map[string]PriorityLimit{
		"low": {MaxConcurrent: 1000, MaxRPM: 2},
	}, nil)

	if !c.Acquire("low") || !c.Acquire("low") {
		t.Fatal("first two acquires should be granted")
	}
	if c.Acquire("low") {
		t.Error("third acquire within RPM window: want denied")
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	c := NewConcurrencyController(nil, nil)
	c.Release("critical")
	c.Release("critical")
	if got := c.ActiveCount("critical"); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}

func TestUnknownPriorityAlwaysGranted(t *testing.T) {
	c := NewConcurrencyController(map[string]PriorityLimit{}, nil)
	if !c.Acquire("mystery") {
		t.Error("unconfigured priority: want granted")
	}
}

func TestCheckTenantQuotaExceeded(t *testing.T) {
	c := NewConcurrencyController(nil, map[string]int{"trial": 2})
	for i := 0; i < 2; i++ {
		if err := c.CheckTenantQuota("t1", "trial"); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		c.RecordTenantCall("t1")
	}
	if err := c.CheckTenantQuota("t1", "trial"); err == nil {
		t.Error("expected quota-exceeded error on 3rd call")
	}
}

func TestTenantQuotaIndependentOfConcurrency(t *testing.T) {
	c := NewConcurrencyController(map[string]PriorityLimit{
		"critical": {MaxConcurrent: 1, MaxRPM: 1},
	}, map[string]int{"standard": 100})

	if !c.Acquire("critical") {
		t.Fatal("first acquire should be granted")
	}
	if err := c.CheckTenantQuota("t1", "standard"); err != nil {
		t.Errorf("tenant quota should pass independently of concurrency exhaustion: %v", err)
	}
}
