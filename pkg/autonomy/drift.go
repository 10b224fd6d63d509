package autonomy

import (
	"math"
	"sync"
	"time"
)

const (
	sourceWeight    = 0.40
	techniqueWeight = 0.35
	entityWeight    = 0.25

	defaultDriftThreshold = 0.30
	normalThreshold       = 0.90
	elevatedThreshold     = 0.95
)

// DriftState is the latest drift measurement across the three dimensions
// tracked by the detector (spec §4.10).
type DriftState struct {
	SourceDrift      float64
	TechniqueDrift   float64
	EntityDrift      float64
	OverallDrift     float64
	ThresholdExceeded bool
	DetectedAt       time.Time
}

// DriftDetector measures Jensen-Shannon divergence between a current
// window and a baseline period across alert source, technique, and
// entity-pattern distributions.
type DriftDetector struct {
	threshold float64
}

// NewDriftDetector constructs a DriftDetector. threshold <= 0 falls back
// to the 0.30 default.
func NewDriftDetector(threshold float64) *DriftDetector {
	if threshold <= 0 {
		threshold = defaultDriftThreshold
	}
	return &DriftDetector{threshold: threshold}
}

// ComputeSourceDrift measures the JSD between current and baseline alert
// source count distributions.
func (d *DriftDetector) ComputeSourceDrift(current, baseline map[string]int) float64 {
	return jsDivergence(current, baseline)
}

// ComputeTechniqueDrift measures the JSD between current and baseline
// technique frequency distributions.
func (d *DriftDetector) ComputeTechniqueDrift(current, baseline map[string]int) float64 {
	return jsDivergence(current, baseline)
}

// ComputeEntityDrift measures the JSD between current and baseline
// entity-type distributions.
func (d *DriftDetector) ComputeEntityDrift(current, baseline map[string]int) float64 {
	return jsDivergence(current, baseline)
}

// ComputeOverallDrift weights the three per-dimension drifts per spec
// §4.10: 0.40 source + 0.35 technique + 0.25 entity.
func (d *DriftDetector) ComputeOverallDrift(source, technique, entity float64) float64 {
	return sourceWeight*source + techniqueWeight*technique + entityWeight*entity
}

// Detect runs the full three-dimension drift measurement and returns the
// resulting DriftState, stamped at now.
func (d *DriftDetector) Detect(
	currentSources, baselineSources map[string]int,
	currentTechniques, baselineTechniques map[string]int,
	currentEntities, baselineEntities map[string]int,
	now time.Time,
) DriftState {
	source := d.ComputeSourceDrift(currentSources, baselineSources)
	technique := d.ComputeTechniqueDrift(currentTechniques, baselineTechniques)
	entity := d.ComputeEntityDrift(currentEntities, baselineEntities)
	overall := d.ComputeOverallDrift(source, technique, entity)

	return DriftState{
		SourceDrift:       source,
		TechniqueDrift:    technique,
		EntityDrift:       entity,
		OverallDrift:      overall,
		ThresholdExceeded: overall > d.threshold,
		DetectedAt:        now,
	}
}

// jsDivergence computes the Jensen-Shannon divergence, base-2 log,
// between two count distributions, bounded to [0, 1]. Distributions are
// normalized by their own totals (falling back to a denominator of 1 when
// a distribution is empty, per spec §4.10, to avoid a divide-by-zero);
// terms where either probability or the midpoint is zero are skipped,
// matching the convention that 0·log(0) = 0.
func jsDivergence(a, b map[string]int) float64 {
	keys := make(map[string]bool)
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	if len(keys) == 0 {
		return 0.0
	}

	totalA := sumCounts(a)
	if totalA == 0 {
		totalA = 1
	}
	totalB := sumCounts(b)
	if totalB == 0 {
		totalB = 1
	}

	p := make(map[string]float64, len(keys))
	q := make(map[string]float64, len(keys))
	m := make(map[string]float64, len(keys))
	for k := range keys {
		p[k] = float64(a[k]) / float64(totalA)
		q[k] = float64(b[k]) / float64(totalB)
		m[k] = (p[k] + q[k]) / 2
	}

	var klPM, klQM float64
	for k := range keys {
		if p[k] > 0 && m[k] > 0 {
			klPM += p[k] * math.Log2(p[k]/m[k])
		}
		if q[k] > 0 && m[k] > 0 {
			klQM += q[k] * math.Log2(q[k]/m[k])
		}
	}

	jsd := 0.5*klPM + 0.5*klQM
	if jsd < 0 {
		return 0
	}
	if jsd > 1 {
		return 1
	}
	return jsd
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

// ThresholdAdjuster raises the auto-close confidence threshold from
// normal (0.90) to elevated (0.95) while drift is detected, and restores
// it once drift subsides.
type ThresholdAdjuster struct {
	normal   float64
	elevated float64

	mu    sync.RWMutex
	state *DriftState
}

// NewThresholdAdjuster constructs a ThresholdAdjuster using the spec's
// default normal/elevated thresholds.
func NewThresholdAdjuster() *ThresholdAdjuster {
	return &ThresholdAdjuster{normal: normalThreshold, elevated: elevatedThreshold}
}

// Update records the most recent drift measurement.
func (a *ThresholdAdjuster) Update(state DriftState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := state
	a.state = &s
}

// GetThreshold returns the effective confidence threshold for the given
// state, or the last state passed to Update when state is nil.
func (a *ThresholdAdjuster) GetThreshold(state *DriftState) float64 {
	s := state
	if s == nil {
		a.mu.RLock()
		s = a.state
		a.mu.RUnlock()
	}
	if s != nil && s.ThresholdExceeded {
		return a.elevated
	}
	return a.normal
}

// IsElevated reports whether the last recorded drift state exceeded
// threshold.
func (a *ThresholdAdjuster) IsElevated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state != nil && a.state.ThresholdExceeded
}

// SamplingCallback raises the FP-evaluation sampling multiplier for rule
// families under active drift, restoring it once drift is resolved
// (spec §4.10's sampling callback).
type SamplingCallback struct {
	mu               sync.Mutex
	multiplier       float64
	elevatedFamilies map[string]bool
}

// NewSamplingCallback constructs a SamplingCallback at the default 1x
// multiplier.
func NewSamplingCallback() *SamplingCallback {
	return &SamplingCallback{multiplier: 1.0, elevatedFamilies: make(map[string]bool)}
}

// OnDriftDetected raises the sampling multiplier to 2x for ruleFamilies.
func (s *SamplingCallback) OnDriftDetected(ruleFamilies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range ruleFamilies {
		s.elevatedFamilies[f] = true
	}
	s.multiplier = 2.0
}

// OnDriftRestored clears every elevated family and restores the 1x
// multiplier.
func (s *SamplingCallback) OnDriftRestored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elevatedFamilies = make(map[string]bool)
	s.multiplier = 1.0
}

// GetSampleMultiplier returns the current multiplier for ruleFamily. An
// empty ruleFamily returns the global multiplier; a non-elevated family
// always returns 1.0 even while other families are elevated.
func (s *SamplingCallback) GetSampleMultiplier(ruleFamily string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.elevatedFamilies) == 0 {
		return 1.0
	}
	if ruleFamily != "" && !s.elevatedFamilies[ruleFamily] {
		return 1.0
	}
	return s.multiplier
}

// ElevatedFamilies returns the set of rule families currently under
// elevated sampling.
func (s *SamplingCallback) ElevatedFamilies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.elevatedFamilies))
	for f := range s.elevatedFamilies {
		out = append(out, f)
	}
	return out
}
