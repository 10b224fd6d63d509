package llm

import (
	"sync"
	"time"
)

// EscalationPolicy configures when a low-confidence classification is
// re-analyzed at a higher tier (spec §4.8).
type EscalationPolicy struct {
	ConfidenceThreshold      float64
	ApplicableSeverities     map[string]bool
	MaxEscalationsPerHour    int
	ExtendedThinkingBudget   int
}

// DefaultEscalationPolicy mirrors the reference implementation's fixed
// constants.
var DefaultEscalationPolicy = EscalationPolicy{
	ConfidenceThreshold:    0.6,
	ApplicableSeverities:   map[string]bool{"critical": true, "high": true},
	MaxEscalationsPerHour:  10,
	ExtendedThinkingBudget: 8192,
}

// EscalationManager decides whether a low-confidence tier_1 result should
// be re-analyzed at tier_1+, subject to an hourly escalation budget.
type EscalationManager struct {
	policy EscalationPolicy

	mu         sync.Mutex
	timestamps []time.Time
}

// NewEscalationManager constructs an EscalationManager with policy. A
// zero-value policy falls back to DefaultEscalationPolicy.
func NewEscalationManager(policy EscalationPolicy) *EscalationManager {
	if policy.ConfidenceThreshold == 0 && policy.MaxEscalationsPerHour == 0 {
		policy = DefaultEscalationPolicy
	}
	return &EscalationManager{policy: policy}
}

// escalationsThisHour prunes and returns the escalation window, assuming
// m.mu is held.
func (m *EscalationManager) escalationsThisHour() int {
	now := time.Now()
	kept := m.timestamps[:0]
	for _, t := range m.timestamps {
		if now.Sub(t) < time.Hour {
			kept = append(kept, t)
		}
	}
	m.timestamps = kept
	return len(m.timestamps)
}

// EscalationsThisHour returns the number of escalations recorded in the
// rolling hourly window.
func (m *EscalationManager) EscalationsThisHour() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalationsThisHour()
}

// BudgetRemaining returns how many escalations remain in the current
// hourly budget.
func (m *EscalationManager) BudgetRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.policy.MaxEscalationsPerHour - m.escalationsThisHour()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldEscalate reports whether a confidence/severity pair warrants
// re-analysis at the next tier: confidence below threshold, severity in
// the applicable set, and hourly budget not exhausted.
func (m *EscalationManager) ShouldEscalate(confidence float64, severity string) bool {
	if confidence >= m.policy.ConfidenceThreshold {
		return false
	}
	if !m.policy.ApplicableSeverities[severity] {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalationsThisHour() < m.policy.MaxEscalationsPerHour
}

// RecordEscalation appends now to the hourly budget window.
func (m *EscalationManager) RecordEscalation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timestamps = append(m.timestamps, time.Now())
}

// GetEscalationTier returns the tier an escalated task is routed to.
func (m *EscalationManager) GetEscalationTier() ModelTier {
	return Tier1Plus
}
