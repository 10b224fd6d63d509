// Package autonomy implements the false-positive evaluation framework,
// concept-drift detection, canary rollout, and kill-switch guardrails
// that keep auto-closure decisions safe as autonomy expands (spec §4.9-§4.11).
package autonomy

import (
	"math/rand"
	"time"
)

// FPEvaluationResult is one rule family's precision/recall/FNR rollup
// over a batch of reviewed auto-closures.
type FPEvaluationResult struct {
	RuleFamily      string
	TotalClosures   int
	TruePositives   int // correctly auto-closed (was truly FP)
	FalsePositives  int // incorrectly auto-closed (was actually TP)
	FalseNegatives  int // missed auto-close (was FP but not caught)
	Precision       float64
	Recall          float64
	FNR             float64
}

// ComputeMetrics recomputes Precision, Recall, and FNR from the raw
// TP/FP/FN counts. Each ratio defaults per spec §4.9 when its
// denominator is zero: precision and recall to 1.0 (nothing wrong was
// missed because nothing was evaluated), FNR to 0.0.
func (r *FPEvaluationResult) ComputeMetrics() {
	tp, fp, fn := float64(r.TruePositives), float64(r.FalsePositives), float64(r.FalseNegatives)

	if tp+fp > 0 {
		r.Precision = tp / (tp + fp)
	} else {
		r.Precision = 1.0
	}
	if tp+fn > 0 {
		r.Recall = tp / (tp + fn)
	} else {
		r.Recall = 1.0
	}
	if fn+tp > 0 {
		r.FNR = fn / (fn + tp)
	} else {
		r.FNR = 0.0
	}
}

// Closure is one auto-closed alert under review.
type Closure struct {
	AlertID            string
	RuleFamily         string
	Severity           string
	AssetCriticality   string
	PatternID          string
	PatternCreatedAt   time.Time

	FNFlagged    bool
	FNFlaggedAt  time.Time
	ReviewStatus string
}

func stratumKey(c Closure) string {
	return c.RuleFamily + ":" + c.Severity + ":" + c.AssetCriticality
}

// Framework groups closures into sampling strata and selects the review
// sample per spec §4.9: every closure referencing a pattern younger than
// 30 days is sampled at 100%, and the rest are randomly sampled up to
// minPerStratum.
type Framework struct {
	NovelPatternCutoff time.Duration
	rand               *rand.Rand
}

// NewFramework constructs a Framework using the default 30-day novelty
// cutoff.
func NewFramework() *Framework {
	return &Framework{NovelPatternCutoff: 30 * 24 * time.Hour}
}

// ComputeStrata groups closures by (rule_family, severity, asset_criticality).
func (f *Framework) ComputeStrata(closures []Closure) map[string][]Closure {
	strata := make(map[string][]Closure)
	for _, c := range closures {
		key := stratumKey(c)
		strata[key] = append(strata[key], c)
	}
	return strata
}

// IsNovelPattern reports whether patternCreatedAt is younger than the
// novelty cutoff, as of now.
func (f *Framework) IsNovelPattern(patternCreatedAt time.Time, now time.Time) bool {
	if patternCreatedAt.IsZero() {
		return false
	}
	return now.Sub(patternCreatedAt) < f.NovelPatternCutoff
}

// SelectSample builds the review sample from strata: all novel-pattern
// closures plus a random fill to minPerStratum non-novel closures per
// stratum, capped at the stratum's non-novel population.
func (f *Framework) SelectSample(strata map[string][]Closure, minPerStratum int, now time.Time) []Closure {
	var sample []Closure
	for _, closures := range strata {
		var novel, nonNovel []Closure
		for _, c := range closures {
			if f.IsNovelPattern(c.PatternCreatedAt, now) {
				novel = append(novel, c)
			} else {
				nonNovel = append(nonNovel, c)
			}
		}
		sample = append(sample, novel...)

		remaining := minPerStratum - len(novel)
		if remaining <= 0 || len(nonNovel) == 0 {
			continue
		}
		count := remaining
		if count > len(nonNovel) {
			count = len(nonNovel)
		}
		sample = append(sample, randomSample(nonNovel, count)...)
	}
	return sample
}

func randomSample(pool []Closure, n int) []Closure {
	shuffled := make([]Closure, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// FlaggedClosure is a closure the daily FN detector has marked for
// manual review because the same alert later reappeared via escalation.
type FlaggedClosure struct {
	Closure
}

// DailyFNDetector cross-references recent auto-closures against recent
// escalations (from any source) to surface likely false negatives: an
// alert that was auto-closed but subsequently escalated anyway.
type DailyFNDetector struct{}

// Escalation is a minimal view of an escalation event for FN
// cross-referencing.
type Escalation struct {
	AlertID string
}

// CheckAutoClosedEscalated returns the closures whose alert_id also
// appears in escalations, each stamped fn_flagged/pending_review.
func (d *DailyFNDetector) CheckAutoClosedEscalated(closures []Closure, escalations []Escalation, now time.Time) []FlaggedClosure {
	escalated := make(map[string]bool, len(escalations))
	for _, e := range escalations {
		if e.AlertID != "" {
			escalated[e.AlertID] = true
		}
	}

	var flagged []FlaggedClosure
	for _, c := range closures {
		if escalated[c.AlertID] {
			flagged = append(flagged, FlaggedClosure{Closure: d.flagPotentialFalseNegative(c, now)})
		}
	}
	return flagged
}

func (d *DailyFNDetector) flagPotentialFalseNegative(c Closure, now time.Time) Closure {
	c.FNFlagged = true
	c.FNFlaggedAt = now
	c.ReviewStatus = "pending_review"
	return c
}

// Targets are the precision/recall/FNR goals the autonomy guard enforces.
type Targets struct {
	Precision float64
	FNR       float64
}

// DefaultTargets mirrors the reference implementation's PRECISION_TARGET
// / FNR_CEILING constants.
var DefaultTargets = Targets{Precision: 0.98, FNR: 0.005}

// Guard decides whether FP evaluation results warrant reducing the
// system's autonomy (raising the auto-close confidence threshold).
type Guard struct {
	Targets Targets
}

// NewGuard constructs a Guard using DefaultTargets.
func NewGuard() *Guard {
	return &Guard{Targets: DefaultTargets}
}

// ShouldReduceAutonomy reports whether eval misses precision or FNR
// targets.
func (g *Guard) ShouldReduceAutonomy(eval FPEvaluationResult) bool {
	return eval.Precision < g.Targets.Precision || eval.FNR > g.Targets.FNR
}

// GetAdjustedThreshold raises current by 0.02 per missed target
// (precision, FNR), capped at 0.99. Returns current unchanged when both
// targets are met.
func (g *Guard) GetAdjustedThreshold(current float64, eval FPEvaluationResult) float64 {
	if !g.ShouldReduceAutonomy(eval) {
		return current
	}

	adjustment := 0.0
	if eval.Precision < g.Targets.Precision {
		adjustment += 0.02
	}
	if eval.FNR > g.Targets.FNR {
		adjustment += 0.02
	}

	adjusted := current + adjustment
	if adjusted > 0.99 {
		return 0.99
	}
	return adjusted
}
