package llm

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerState is the three-state circuit breaker's current state,
// expressed with this module's own vocabulary rather than gobreaker's.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

var errRecordedFailure = errors.New("llm: recorded failure")

// Breaker is a per-provider circuit breaker built on gobreaker.
// CircuitBreaker. The spec's record_success/record_failure calls are
// decoupled from the call they observed (the LLM client calls the
// provider itself and reports the outcome afterward), so RecordSuccess
// and RecordFailure drive gobreaker's accounting through Execute with a
// trivial probe function rather than wrapping the real call directly —
// gobreaker.Execute is still the engine deciding state transitions and
// the OPEN→HALF_OPEN timeout promotion.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker constructs a Breaker that opens after failureThreshold
// consecutive failures and attempts one probe request after
// recoveryTimeout has elapsed.
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return newBreaker(failureThreshold, recoveryTimeout, nil)
}

func newBreaker(failureThreshold int, recoveryTimeout time.Duration, onTrip func()) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		MaxRequests: 1,
		Interval:    0,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onTrip != nil && to == gobreaker.StateOpen {
				onTrip()
			}
		},
	})
	return &Breaker{cb: cb}
}

func toBreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// State returns the current state. gobreaker.CircuitBreaker.State()
// itself performs the OPEN→HALF_OPEN promotion purely on elapsed time
// when queried, with no successful call required.
func (b *Breaker) State() BreakerState {
	return toBreakerState(b.cb.State())
}

// IsAvailable reports whether a call should be attempted: true in CLOSED
// and HALF_OPEN, false in OPEN.
func (b *Breaker) IsAvailable() bool {
	return b.State() != BreakerOpen
}

// RecordSuccess reports that a call to the guarded provider succeeded.
func (b *Breaker) RecordSuccess() {
	_, _ = b.cb.Execute(func() (interface{}, error) { return nil, nil })
}

// RecordFailure reports that a call to the guarded provider failed.
func (b *Breaker) RecordFailure() {
	_, _ = b.cb.Execute(func() (interface{}, error) { return nil, errRecordedFailure })
}

// HealthRegistry manages per-provider Breakers, auto-creating one on
// first access.
type HealthRegistry struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	onTrip           func(Provider)

	mu       sync.Mutex
	breakers map[Provider]*Breaker
}

// NewHealthRegistry constructs a HealthRegistry whose auto-created
// breakers use the given thresholds.
func NewHealthRegistry(failureThreshold int, recoveryTimeout time.Duration) *HealthRegistry {
	return &HealthRegistry{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		breakers:         make(map[Provider]*Breaker),
	}
}

// SetOnTrip wires a callback invoked whenever any provider's breaker
// transitions to open, from closed or from half_open. A breaker keeps the
// callback that was set when it was first created. The composition root
// uses this to page
// operators (pkg/notify) without this package importing Slack.
func (r *HealthRegistry) SetOnTrip(fn func(Provider)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrip = fn
}

func (r *HealthRegistry) get(p Provider) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[p]
	if !ok {
		onTrip := r.onTrip
		b = newBreaker(r.failureThreshold, r.recoveryTimeout, func() {
			if onTrip != nil {
				onTrip(p)
			}
		})
		r.breakers[p] = b
	}
	return b
}

// IsAvailable checks whether provider is considered healthy.
func (r *HealthRegistry) IsAvailable(p Provider) bool {
	return r.get(p).IsAvailable()
}

// RecordSuccess records a successful call to provider.
func (r *HealthRegistry) RecordSuccess(p Provider) {
	r.get(p).RecordSuccess()
}

// RecordFailure records a failed call to provider.
func (r *HealthRegistry) RecordFailure(p Provider) {
	r.get(p).RecordFailure()
}

// ComputeDegradationLevel derives the system's capability level from
// primary (Anthropic) and secondary (Bedrock) provider health.
func (r *HealthRegistry) ComputeDegradationLevel() DegradationLevel {
	if r.IsAvailable(ProviderAnthropic) {
		return DegradationFullCapability
	}
	if r.IsAvailable(ProviderBedrock) {
		return DegradationSecondaryActive
	}
	return DegradationDeterministicOnly
}

// DegradationPolicy carries the behavioral overrides a DegradationLevel
// applies — a confidence-threshold floor and whether extended reasoning
// remains available.
type DegradationPolicy struct {
	ConfidenceThresholdFloor float64
	ExtendedReasoningAllowed bool
}

// DegradationPolicies is the fixed mapping from level to policy.
var DegradationPolicies = map[DegradationLevel]DegradationPolicy{
	DegradationFullCapability:    {ConfidenceThresholdFloor: 0.0, ExtendedReasoningAllowed: true},
	DegradationSecondaryActive:   {ConfidenceThresholdFloor: 0.75, ExtendedReasoningAllowed: false},
	DegradationDeterministicOnly: {ConfidenceThresholdFloor: 1.0, ExtendedReasoningAllowed: false},
}

// Policy returns the DegradationPolicy for the registry's current level.
func (r *HealthRegistry) Policy() DegradationPolicy {
	return DegradationPolicies[r.ComputeDegradationLevel()]
}
