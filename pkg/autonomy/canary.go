package autonomy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aluskort/soc-core/pkg/audit"
)

// CanarySlice status values.
const (
	CanaryActive     = "active"
	CanaryPromoted   = "promoted"
	CanaryRolledBack = "rolled_back"
)

// CanarySlice is one rollout slice targeting a (dimension, value) pair
// (spec §3's CanarySlice, §4.11).
type CanarySlice struct {
	SliceID     string
	Dimension   string // tenant, severity, rule_family, datasource
	Value       string
	CreatedAt   time.Time
	PromotedAt  time.Time
	Status      string
}

// AgeDays returns the slice's age in days as of now.
func (s CanarySlice) AgeDays(now time.Time) float64 {
	if s.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CreatedAt).Hours() / 24
}

// CanaryConfig configures promotion/rollback gates for a rollout.
type CanaryConfig struct {
	PromotionDays     int
	MinPrecision      float64
	RollbackPrecision float64
}

// DefaultCanaryConfig mirrors the reference implementation's constants.
var DefaultCanaryConfig = CanaryConfig{
	PromotionDays:     7,
	MinPrecision:      0.98,
	RollbackPrecision: 0.95,
}

// PromotionDecision is the check_promotion verdict.
type PromotionDecision string

const (
	DecisionPromote  PromotionDecision = "promote"
	DecisionRollback PromotionDecision = "rollback"
	DecisionContinue PromotionDecision = "continue"
)

// killSwitchDimensionMap maps a canary dimension to the kill-switch
// dimension it activates on rollback (spec §4.11).
var killSwitchDimensionMap = map[string]string{
	"tenant":      "tenant",
	"rule_family": "pattern",
	"severity":    "tenant",
	"datasource":  "datasource",
}

// RolloutEvent records one promote/rollback action for the rollout
// history surface.
type RolloutEvent struct {
	Action    string
	SliceID   string
	Dimension string
	Value     string
	Reason    string
	At        time.Time
}

// RolloutManager decides and applies promotion/rollback for canary
// slices, consulting a kill-switch manager on rollback and emitting
// audit events for both outcomes.
type RolloutManager struct {
	killSwitch *KillSwitchManager
	writer     *audit.Writer
	logger     *zap.Logger
	notifier   Notifier

	mu      sync.Mutex
	history []RolloutEvent
}

// Notifier is the narrow operator-alerting surface a RolloutManager
// pushes promote/rollback events to — satisfied by *pkg/notify.Notifier,
// kept as an interface here to avoid this package depending on Slack.
type Notifier interface {
	CanaryPromotion(ctx context.Context, dimension, value string)
	CanaryRollback(ctx context.Context, dimension, value, reason string)
}

// NewRolloutManager constructs a RolloutManager. writer may be nil in
// tests that don't assert on audit emission.
func NewRolloutManager(killSwitch *KillSwitchManager, writer *audit.Writer, logger *zap.Logger) *RolloutManager {
	return &RolloutManager{killSwitch: killSwitch, writer: writer, logger: logger}
}

// SetNotifier wires an operator-alert sink used on promote/rollback. Not
// a constructor argument so existing callers (and tests) are unaffected.
func (m *RolloutManager) SetNotifier(n Notifier) {
	m.notifier = n
}

// CheckPromotion decides promote/rollback/continue for slice given its
// latest precision and missed-true-positive count, per the spec §4.11
// ordered gate: rollback checks first (safety takes priority), then the
// promotion gate.
func CheckPromotion(slice CanarySlice, precision float64, missedTPs int, cfg CanaryConfig, now time.Time) PromotionDecision {
	if missedTPs > 0 {
		return DecisionRollback
	}
	if precision < cfg.RollbackPrecision {
		return DecisionRollback
	}
	if slice.AgeDays(now) >= float64(cfg.PromotionDays) && precision >= cfg.MinPrecision && missedTPs == 0 {
		return DecisionPromote
	}
	return DecisionContinue
}

// Promote marks slice promoted and emits a canary.promoted audit event.
func (m *RolloutManager) Promote(ctx context.Context, slice *CanarySlice, now time.Time) {
	slice.Status = CanaryPromoted
	slice.PromotedAt = now

	m.recordHistory(RolloutEvent{
		Action: "promote", SliceID: slice.SliceID, Dimension: slice.Dimension, Value: slice.Value, At: now,
	})
	m.emitAudit(ctx, "canary.promoted", slice, "")
	if m.notifier != nil {
		m.notifier.CanaryPromotion(ctx, slice.Dimension, slice.Value)
	}
}

// Rollback marks slice rolled back, activates the mapped kill switch, and
// emits a canary.rolled_back audit event.
func (m *RolloutManager) Rollback(ctx context.Context, slice *CanarySlice, reason string, now time.Time) {
	slice.Status = CanaryRolledBack

	m.recordHistory(RolloutEvent{
		Action: "rollback", SliceID: slice.SliceID, Dimension: slice.Dimension, Value: slice.Value, Reason: reason, At: now,
	})

	if m.killSwitch != nil {
		ksDimension := killSwitchDimensionMap[slice.Dimension]
		if ksDimension == "" {
			ksDimension = slice.Dimension
		}
		_ = m.killSwitch.Activate(ctx, ksDimension, slice.Value, "canary_rollout_manager", "canary rollback: "+reason)
	}

	m.emitAudit(ctx, "canary.rolled_back", slice, reason)
	if m.notifier != nil {
		m.notifier.CanaryRollback(ctx, slice.Dimension, slice.Value, reason)
	}
}

func (m *RolloutManager) recordHistory(e RolloutEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, e)
}

// History returns every promote/rollback event recorded so far.
func (m *RolloutManager) History() []RolloutEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RolloutEvent, len(m.history))
	copy(out, m.history)
	return out
}

func (m *RolloutManager) emitAudit(ctx context.Context, eventType string, slice *CanarySlice, reason string) {
	if m.writer == nil {
		return
	}
	context := map[string]interface{}{
		"slice_id":  slice.SliceID,
		"dimension": slice.Dimension,
		"value":     slice.Value,
	}
	if reason != "" {
		context["reason"] = reason
	}

	_, err := m.writer.Append(ctx, "system", &audit.Record{
		EventType:     eventType,
		EventCategory: "decision",
		ActorType:     "agent",
		ActorID:       "canary_rollout_manager",
		Context:       context,
	})
	if err != nil && m.logger != nil {
		m.logger.Warn("failed to emit canary audit event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// Evaluation abstracts the FP evaluation lookup the evaluator needs per
// canary slice value, decoupling this package from pkg/autonomy's own
// FPEvaluationResult storage so it can be backed by any lookup (cache,
// Postgres rollup, in-memory map in tests).
type Evaluation interface {
	GetEvaluation(value string) (FPEvaluationResult, bool)
}

// Evaluator iterates active canary slices, pulls each one's current
// precision/missed-TP count from an Evaluation source, and applies the
// promotion/rollback decision.
type Evaluator struct {
	manager *RolloutManager
	fpEval  Evaluation
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(manager *RolloutManager, fpEval Evaluation) *Evaluator {
	return &Evaluator{manager: manager, fpEval: fpEval}
}

// SliceDecision is one slice's evaluation outcome, returned for logging
// or dashboards.
type SliceDecision struct {
	SliceID   string
	Decision  PromotionDecision
	Precision float64
	MissedTPs int
}

// EvaluateAll evaluates every active slice in slices against cfg and
// applies promote/rollback as needed, returning the decisions made.
func (e *Evaluator) EvaluateAll(ctx context.Context, slices []*CanarySlice, cfg CanaryConfig, now time.Time) []SliceDecision {
	var decisions []SliceDecision
	for _, slice := range slices {
		if slice.Status != CanaryActive {
			continue
		}

		precision := 1.0
		missedTPs := 0
		if eval, ok := e.fpEval.GetEvaluation(slice.Value); ok {
			precision = eval.Precision
			missedTPs = eval.FalsePositives
		}

		decision := CheckPromotion(*slice, precision, missedTPs, cfg, now)
		switch decision {
		case DecisionPromote:
			e.manager.Promote(ctx, slice, now)
		case DecisionRollback:
			reason := "precision_below_threshold"
			if missedTPs > 0 {
				reason = "missed_tps"
			}
			e.manager.Rollback(ctx, slice, reason, now)
		}

		decisions = append(decisions, SliceDecision{
			SliceID: slice.SliceID, Decision: decision, Precision: precision, MissedTPs: missedTPs,
		})
	}
	return decisions
}
