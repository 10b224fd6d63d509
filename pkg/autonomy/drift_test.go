package autonomy

import (
	"testing"
	"time"
)

func TestJSDivergenceIdenticalDistributionsIsZero(t *testing.T) {
	d := NewDriftDetector(0.30)
	dist := map[string]int{"wiz": 10, "snyk": 5}
	got := d.ComputeSourceDrift(dist, dist)
	if got != 0 {
		t.Errorf("identical distributions: got %v, want 0", got)
	}
}

func TestJSDivergenceDisjointDistributionsIsOne(t *testing.T) {
	d := NewDriftDetector(0.30)
	a := map[string]int{"wiz": 10}
	b := map[string]int{"snyk": 10}
	got := d.ComputeSourceDrift(a, b)
	if got < 0.99 {
		t.Errorf("fully disjoint distributions: got %v, want ~1.0", got)
	}
}

func TestJSDivergenceEmptyDistributionsIsZero(t *testing.T) {
	got := jsDivergence(map[string]int{}, map[string]int{})
	if got != 0 {
		t.Errorf("both empty: got %v, want 0", got)
	}
}

func TestComputeOverallDriftWeights(t *testing.T) {
	d := NewDriftDetector(0.30)
	got := d.ComputeOverallDrift(1.0, 0.0, 0.0)
	if got != 0.40 {
		t.Errorf("source-only drift: got %v, want 0.40", got)
	}
}

func TestDetectFlagsThresholdExceeded(t *testing.T) {
	d := NewDriftDetector(0.30)
	now := time.Now()
	state := d.Detect(
		map[string]int{"wiz": 10}, map[string]int{"snyk": 10},
		map[string]int{"t1": 10}, map[string]int{"t2": 10},
		map[string]int{"e1": 10}, map[string]int{"e2": 10},
		now,
	)
	if !state.ThresholdExceeded {
		t.Errorf("fully disjoint across all dimensions should exceed threshold, overall=%v", state.OverallDrift)
	}
}

func TestThresholdAdjusterElevatesOnDrift(t *testing.T) {
	a := NewThresholdAdjuster()
	if got := a.GetThreshold(nil); got != 0.90 {
		t.Errorf("no state recorded: got %v, want normal 0.90", got)
	}

	a.Update(DriftState{ThresholdExceeded: true})
	if got := a.GetThreshold(nil); got != 0.95 {
		t.Errorf("drift exceeded: got %v, want elevated 0.95", got)
	}
	if !a.IsElevated() {
		t.Error("IsElevated() should be true")
	}

	a.Update(DriftState{ThresholdExceeded: false})
	if got := a.GetThreshold(nil); got != 0.90 {
		t.Errorf("drift restored: got %v, want normal 0.90", got)
	}
}

func TestSamplingCallbackElevatesOnlyAffectedFamilies(t *testing.T) {
	cb := NewSamplingCallback()
	cb.OnDriftDetected([]string{"phishing"})

	if got := cb.GetSampleMultiplier("phishing"); got != 2.0 {
		t.Errorf("phishing multiplier = %v, want 2.0", got)
	}
	if got := cb.GetSampleMultiplier("malware"); got != 1.0 {
		t.Errorf("malware multiplier = %v, want 1.0 (unaffected family)", got)
	}

	cb.OnDriftRestored()
	if got := cb.GetSampleMultiplier("phishing"); got != 1.0 {
		t.Errorf("after restore: multiplier = %v, want 1.0", got)
	}
}
