// Package client implements the two provider backends the LLM router
// chooses between: Anthropic as primary, Bedrock (Claude-on-Bedrock) as
// secondary. Both report outcomes to a llm.HealthRegistry so the circuit
// breaker and degradation-level computation stay provider-agnostic of
// the call itself (spec §4.6).
package client

import (
	"context"
	"time"

	"github.com/aluskort/soc-core/pkg/llm"
)

// Request is a single completion request, already parameterized by the
// router's RoutingDecision.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	ExtendedThink bool
	PromptCaching bool
}

// Message is one turn in the conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Response is a provider-agnostic completion result.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
	Latency      time.Duration
}

// Provider calls a specific backend for a given model ID.
type Provider interface {
	Complete(ctx context.Context, modelID string, req Request) (Response, error)
}

// BreakerGuarded wraps a Provider with the router's per-provider circuit
// breaker: calls are skipped with ErrProviderUnavailable when the
// breaker is open, and every outcome is reported back to health.
type BreakerGuarded struct {
	name     llm.Provider
	inner    Provider
	health   *llm.HealthRegistry
}

// NewBreakerGuarded wraps inner with a breaker-checked call path for
// provider name, reporting outcomes to health.
func NewBreakerGuarded(name llm.Provider, inner Provider, health *llm.HealthRegistry) *BreakerGuarded {
	return &BreakerGuarded{name: name, inner: inner, health: health}
}

// ErrProviderUnavailable is returned without calling inner when the
// breaker for this provider is open.
type ErrProviderUnavailable struct {
	Provider llm.Provider
}

func (e *ErrProviderUnavailable) Error() string {
	return "llm/client: provider " + string(e.Provider) + " unavailable (breaker open)"
}

// Complete checks breaker availability, calls inner, and records the
// outcome. A breaker-open skip never touches inner and is not itself
// recorded as a new failure (it was already the failure that opened it).
func (b *BreakerGuarded) Complete(ctx context.Context, modelID string, req Request) (Response, error) {
	if !b.health.IsAvailable(b.name) {
		return Response{}, &ErrProviderUnavailable{Provider: b.name}
	}

	start := time.Now()
	resp, err := b.inner.Complete(ctx, modelID, req)
	resp.Latency = time.Since(start)

	if err != nil {
		b.health.RecordFailure(b.name)
		return resp, err
	}
	b.health.RecordSuccess(b.name)
	return resp, nil
}
