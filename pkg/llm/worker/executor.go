// Package worker dequeues routed LLM tasks and executes them against the
// provider the router selects, under the priority concurrency/RPM limits
// spec §4.7 describes. It is the consumer side of pkg/queue's
// jobs.llm.priority.* topics.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aluskort/soc-core/pkg/audit/evidence"
	"github.com/aluskort/soc-core/pkg/llm"
	"github.com/aluskort/soc-core/pkg/llm/client"
)

// Providers maps a llm.Provider identifier to its guarded client.
type Providers map[llm.Provider]client.Provider

// EvidenceStore captures a completion's prompt and response alongside
// the audit record it belongs to (spec §4.4's 10%-weighted evidence
// capture). evidence.Store satisfies this.
type EvidenceStore interface {
	StoreEvidenceBatch(ctx context.Context, tenantID, auditID string, items []evidence.Item) []evidence.Ref
}

// Job is the JSON envelope published onto jobs.llm.priority.* topics.
type Job struct {
	Task    llm.TaskContext `json:"task"`
	Request client.Request  `json:"request"`
}

// Executor routes a task, acquires a priority slot, calls the selected
// provider, and records the outcome on the router's metrics.
type Executor struct {
	router      *llm.Router
	health      *llm.HealthRegistry
	concurrency *llm.ConcurrencyController
	metrics     *llm.RoutingMetrics
	providers   Providers
	escalation  *llm.EscalationManager
	evidence    EvidenceStore
	logger      *zap.Logger
}

// NewExecutor constructs an Executor. providers must have an entry for
// every Provider any tier in the router's registry can resolve to.
// escalation may be nil, disabling ExecuteWithFollowup's re-analysis pass.
// evidenceStore may be nil, disabling prompt/response evidence capture.
func NewExecutor(router *llm.Router, health *llm.HealthRegistry, concurrency *llm.ConcurrencyController, metrics *llm.RoutingMetrics, providers Providers, escalation *llm.EscalationManager, evidenceStore EvidenceStore, logger *zap.Logger) *Executor {
	return &Executor{router: router, health: health, concurrency: concurrency, metrics: metrics, providers: providers, escalation: escalation, evidence: evidenceStore, logger: logger}
}

// Priority maps a task's alert severity onto the concurrency
// controller's named pools (spec §4.7).
func Priority(task llm.TaskContext) string {
	switch task.AlertSeverity {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "normal"
	}
}

// Execute routes task, takes a concurrency slot for its priority (returning
// an error at once when none is free), calls the selected provider, and
// reports the outcome.
func (e *Executor) Execute(ctx context.Context, task llm.TaskContext, req client.Request) (client.Response, error) {
	decision := e.router.RouteWithHealth(task, e.health, nil)

	priority := Priority(task)
	if !e.concurrency.Acquire(priority) {
		return client.Response{}, fmt.Errorf("worker: no %s concurrency slot available", priority)
	}
	defer e.concurrency.Release(priority)

	provider, ok := e.providers[decision.ModelConfig.Provider]
	if !ok {
		return client.Response{}, fmt.Errorf("worker: no client configured for provider %s", decision.ModelConfig.Provider)
	}

	req.MaxTokens = decision.MaxTokens
	req.Temperature = decision.Temperature
	req.ExtendedThink = decision.UseExtendedThinking
	req.PromptCaching = decision.UsePromptCaching

	start := time.Now()
	resp, err := provider.Complete(ctx, decision.ModelConfig.ModelID, req)
	latencyMs := float64(time.Since(start).Milliseconds())

	cost := estimateCostUSD(decision.ModelConfig, resp)
	e.metrics.RecordOutcome(task.TaskType, decision.Tier, err == nil, cost, latencyMs, 0)

	if err != nil && e.logger != nil {
		e.logger.Warn("llm completion failed",
			zap.String("task_type", task.TaskType),
			zap.String("tier", string(decision.Tier)),
			zap.String("provider", string(decision.ModelConfig.Provider)),
			zap.Bool("failover", decision.Failover),
			zap.Error(err))
	}

	e.captureEvidence(ctx, task, req, resp, err)

	return resp, err
}

// captureEvidence stores the prompt and (on success) the response as
// evidence items linked to task's audit record, fire-and-forget. A task
// with no TenantID/AuditID (not every caller has an audit record to
// attach to) skips capture entirely.
func (e *Executor) captureEvidence(ctx context.Context, task llm.TaskContext, req client.Request, resp client.Response, completionErr error) {
	if e.evidence == nil || task.TenantID == "" || task.AuditID == "" {
		return
	}

	promptRaw, err := json.Marshal(req)
	if err != nil {
		return
	}
	items := []evidence.Item{{EvidenceType: "llm_prompt", Content: promptRaw}}
	if completionErr == nil {
		items = append(items, evidence.Item{EvidenceType: "llm_response", Content: []byte(resp.Text)})
	}

	e.evidence.StoreEvidenceBatch(ctx, task.TenantID, task.AuditID, items)
}

// ExecuteWithFollowup runs task once, then — if an escalation manager is
// configured and it judges confidence/severity to warrant it — re-runs
// task at tier_1+ with PreviousConfidence set, per spec §4.8. Returns the
// follow-up response when a re-analysis ran, otherwise the first one.
func (e *Executor) ExecuteWithFollowup(ctx context.Context, task llm.TaskContext, req client.Request, confidence float64, severity string) (client.Response, error) {
	resp, err := e.Execute(ctx, task, req)
	if err != nil {
		return resp, err
	}

	if e.escalation == nil || !e.escalation.ShouldEscalate(confidence, severity) {
		return resp, nil
	}

	escalated := task
	escalated.PreviousConfidence = &confidence
	if e.logger != nil {
		e.logger.Info("escalating low-confidence result",
			zap.String("task_type", task.TaskType),
			zap.Float64("confidence", confidence))
	}
	return e.Execute(ctx, escalated, req)
}

// HandleJob unmarshals a queue message payload as a Job and executes it,
// satisfying pkg/queue.Handler.
func (e *Executor) HandleJob(ctx context.Context, payload []byte) error {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("worker: unmarshal job payload: %w", err)
	}
	_, err := e.Execute(ctx, job.Task, job.Request)
	return err
}

func estimateCostUSD(model llm.ModelConfig, resp client.Response) float64 {
	inCost := float64(resp.InputTokens) / 1_000_000 * model.CostPerMTokInput
	outCost := float64(resp.OutputTokens) / 1_000_000 * model.CostPerMTokOutput
	return inCost + outCost
}
