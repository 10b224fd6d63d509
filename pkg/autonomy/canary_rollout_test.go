package autonomy_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aluskort/soc-core/pkg/autonomy"
)

// fakeCanaryNotifier records the promote/rollback alerts a RolloutManager
// pushes, so the suite can assert the operator-alerting surface fires
// without depending on pkg/notify's Slack wiring.
type fakeCanaryNotifier struct {
	promotions []string
	rollbacks  []string
}

func (f *fakeCanaryNotifier) CanaryPromotion(ctx context.Context, dimension, value string) {
	f.promotions = append(f.promotions, dimension+":"+value)
}

func (f *fakeCanaryNotifier) CanaryRollback(ctx context.Context, dimension, value, reason string) {
	f.rollbacks = append(f.rollbacks, dimension+":"+value+":"+reason)
}

type fakeFPEvaluation struct {
	evals map[string]autonomy.FPEvaluationResult
}

func (f fakeFPEvaluation) GetEvaluation(value string) (autonomy.FPEvaluationResult, bool) {
	r, ok := f.evals[value]
	return r, ok
}

var _ = Describe("RolloutManager", func() {
	var (
		ctx      context.Context
		now      time.Time
		killSw   *autonomy.KillSwitchManager
		manager  *autonomy.RolloutManager
		notifier *fakeCanaryNotifier
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Now()
		killSw = autonomy.NewKillSwitchManager(nil, nil)
		manager = autonomy.NewRolloutManager(killSw, nil, nil)
		notifier = &fakeCanaryNotifier{}
		manager.SetNotifier(notifier)
	})

	Describe("promoting a slice", func() {
		It("marks the slice promoted and notifies the operator channel", func() {
			slice := &autonomy.CanarySlice{SliceID: "s1", Dimension: "tenant", Value: "tenant-a", Status: autonomy.CanaryActive}

			manager.Promote(ctx, slice, now)

			Expect(slice.Status).To(Equal(autonomy.CanaryPromoted))
			Expect(slice.PromotedAt).To(Equal(now))
			Expect(notifier.promotions).To(ConsistOf("tenant:tenant-a"))
			Expect(notifier.rollbacks).To(BeEmpty())
		})
	})

	Describe("rolling back a slice", func() {
		It("activates the mapped kill switch and notifies the operator channel", func() {
			slice := &autonomy.CanarySlice{SliceID: "s2", Dimension: "rule_family", Value: "phishing", Status: autonomy.CanaryActive}

			manager.Rollback(ctx, slice, "precision_below_threshold", now)

			Expect(slice.Status).To(Equal(autonomy.CanaryRolledBack))
			Expect(killSw.IsActive("pattern", "phishing")).To(BeTrue())
			Expect(notifier.rollbacks).To(ConsistOf("rule_family:phishing:precision_below_threshold"))
		})

		It("records the rollback in the rollout history", func() {
			slice := &autonomy.CanarySlice{SliceID: "s3", Dimension: "datasource", Value: "edr", Status: autonomy.CanaryActive}

			manager.Rollback(ctx, slice, "missed_tps", now)

			history := manager.History()
			Expect(history).To(HaveLen(1))
			Expect(history[0].Action).To(Equal("rollback"))
			Expect(history[0].Reason).To(Equal("missed_tps"))
		})
	})

	Describe("evaluating a batch of active slices end to end", func() {
		It("promotes, rolls back, and leaves young slices alone in a single pass", func() {
			old := now.AddDate(0, 0, -8)
			young := now.AddDate(0, 0, -1)

			slices := []*autonomy.CanarySlice{
				{SliceID: "promote-me", Dimension: "tenant", Value: "tenant-good", Status: autonomy.CanaryActive, CreatedAt: old},
				{SliceID: "rollback-me", Dimension: "rule_family", Value: "noisy-rule", Status: autonomy.CanaryActive, CreatedAt: old},
				{SliceID: "too-young", Dimension: "tenant", Value: "tenant-new", Status: autonomy.CanaryActive, CreatedAt: young},
			}

			eval := fakeFPEvaluation{evals: map[string]autonomy.FPEvaluationResult{
				"tenant-good": {Precision: 0.99, FalsePositives: 0},
				"noisy-rule":  {Precision: 0.80, FalsePositives: 0},
				"tenant-new":  {Precision: 0.99, FalsePositives: 0},
			}}
			evaluator := autonomy.NewEvaluator(manager, eval)

			decisions := evaluator.EvaluateAll(ctx, slices, autonomy.DefaultCanaryConfig, now)

			Expect(decisions).To(HaveLen(3))
			Expect(slices[0].Status).To(Equal(autonomy.CanaryPromoted))
			Expect(slices[1].Status).To(Equal(autonomy.CanaryRolledBack))
			Expect(slices[2].Status).To(Equal(autonomy.CanaryActive))

			Expect(notifier.promotions).To(ConsistOf("tenant:tenant-good"))
			Expect(notifier.rollbacks).To(ConsistOf("rule_family:noisy-rule:precision_below_threshold"))
			Expect(killSw.IsActive("pattern", "noisy-rule")).To(BeTrue())
		})
	})
})
