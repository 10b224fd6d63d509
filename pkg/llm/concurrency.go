package llm

import (
	"sync"
	"time"

	apperrors "github.com/aluskort/soc-core/internal/errors"
)

// PriorityLimit is the per-priority concurrency and RPM ceiling.
type PriorityLimit struct {
	MaxConcurrent int
	MaxRPM        int
}

// DefaultPriorityLimits mirrors the reference implementation's fixed
// priority table (spec §4.7). A deployment overriding these constructs
// its own map at the composition root and passes it to NewConcurrencyController.
var DefaultPriorityLimits = map[string]PriorityLimit{
	"critical": {MaxConcurrent: 8, MaxRPM: 200},
	"high":     {MaxConcurrent: 6, MaxRPM: 100},
	"normal":   {MaxConcurrent: 4, MaxRPM: 50},
	"low":      {MaxConcurrent: 2, MaxRPM: 20},
}

// TenantQuotas is the default hourly call quota per tenant billing tier.
var TenantQuotas = map[string]int{
	"premium":  500,
	"standard": 100,
	"trial":    20,
}

// Utilisation reports a priority's current slot usage.
type Utilisation struct {
	Active        int
	MaxConcurrent int
	Ratio         float64
}

// ConcurrencyController enforces per-priority concurrency/RPM limits and
// per-tenant hourly quotas, both guarded by a single mutex per spec §5's
// shared-resource policy. Callers acquire, execute, and release on every
// exit path including error.
type ConcurrencyController struct {
	limits  map[string]PriorityLimit
	quotas  map[string]int

	mu         sync.Mutex
	active     map[string]int
	timestamps map[string][]time.Time
	tenantCalls map[string][]time.Time
}

// NewConcurrencyController constructs a ConcurrencyController. A nil
// limits or quotas map falls back to the package defaults.
func NewConcurrencyController(limits map[string]PriorityLimit, quotas map[string]int) *ConcurrencyController {
	if limits == nil {
		limits = DefaultPriorityLimits
	}
	if quotas == nil {
		quotas = TenantQuotas
	}
	return &ConcurrencyController{
		limits:      limits,
		quotas:      quotas,
		active:      make(map[string]int),
		timestamps:  make(map[string][]time.Time),
		tenantCalls: make(map[string][]time.Time),
	}
}

// Acquire attempts to reserve a concurrency slot for priority. It prunes
// the priority's sliding 60s RPM window first, denies when either the RPM
// window or the concurrency ceiling is saturated, and otherwise grants
// the slot and records the call. An unknown priority is always granted
// (no configured limit to enforce).
func (c *ConcurrencyController) Acquire(priority string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[priority]
	if !ok {
		return true
	}

	now := time.Now()
	c.timestamps[priority] = pruneOlderThan(c.timestamps[priority], now, 60*time.Second)

	if len(c.timestamps[priority]) >= limit.MaxRPM {
		return false
	}
	if c.active[priority] >= limit.MaxConcurrent {
		return false
	}

	c.active[priority]++
	c.timestamps[priority] = append(c.timestamps[priority], now)
	return true
}

// Release frees a concurrency slot for priority. Releasing at zero is a
// no-op — active count never goes negative.
func (c *ConcurrencyController) Release(priority string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[priority] > 0 {
		c.active[priority]--
	}
}

// ActiveCount returns the current in-flight count for priority.
func (c *ConcurrencyController) ActiveCount(priority string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[priority]
}

// Utilisations returns a snapshot of every configured priority's slot
// usage, for the /metrics surface.
func (c *ConcurrencyController) Utilisations() map[string]Utilisation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Utilisation, len(c.limits))
	for priority, limit := range c.limits {
		active := c.active[priority]
		ratio := 0.0
		if limit.MaxConcurrent > 0 {
			ratio = float64(active) / float64(limit.MaxConcurrent)
		}
		out[priority] = Utilisation{Active: active, MaxConcurrent: limit.MaxConcurrent, Ratio: ratio}
	}
	return out
}

// CheckTenantQuota raises a typed quota-exceeded error when tenantID has
// used its hourly quota for tenantTier. Concurrency and tenant quota are
// independent axes per spec §4.7 — both must pass before a call proceeds.
func (c *ConcurrencyController) CheckTenantQuota(tenantID, tenantTier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	quota, ok := c.quotas[tenantTier]
	if !ok {
		quota = c.quotas["standard"]
	}

	now := time.Now()
	calls := pruneOlderThan(c.tenantCalls[tenantID], now, time.Hour)
	c.tenantCalls[tenantID] = calls

	if len(calls) >= quota {
		return apperrors.NewQuotaExceededError(tenantID, tenantTier, len(calls), quota)
	}
	return nil
}

// RecordTenantCall appends a call timestamp to tenantID's hourly window.
func (c *ConcurrencyController) RecordTenantCall(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenantCalls[tenantID] = append(c.tenantCalls[tenantID], time.Now())
}

func pruneOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}
