// Package ops implements the /healthz aggregator and the Prometheus
// alerting rule catalog every service in the platform ships with (spec
// §5's "Health checks carry explicit per-dependency timeouts").
package ops

import (
	"context"
	"time"
)

// Status is the overall health verdict for a service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HTTPStatusCode maps Status to the code a /healthz handler should
// return: 200 for healthy or degraded (still serving traffic), 503 only
// when every dependency is down.
func (s Status) HTTPStatusCode() int {
	if s == StatusUnhealthy {
		return 503
	}
	return 200
}

// DependencyStatus is the outcome of probing a single infrastructure
// dependency.
type DependencyStatus struct {
	Name      string
	Healthy   bool
	LatencyMs float64
	Error     string
	CheckedAt time.Time
}

// Checker probes one dependency and reports its status. ctx carries the
// per-dependency timeout; Readiness waits for the Checker to return, so a
// probe that honors ctx reports unhealthy once it expires, while one that
// ignores ctx holds up the readiness response.
type Checker func(ctx context.Context) DependencyStatus

// Response is the payload a liveness or readiness probe returns.
type Response struct {
	Status        Status
	Service       string
	Version       string
	UptimeSeconds float64
	Dependencies  []DependencyStatus
	Timestamp     time.Time
}

// ServiceDependencies lists which named dependencies each service's
// readiness probe checks. A service missing from this map has no
// dependencies to check — readiness degenerates to liveness.
var ServiceDependencies = map[string][]string{
	"entity-parser":    {"postgres", "queue"},
	"ctem-normaliser":  {"postgres", "queue"},
	"orchestrator":     {"postgres", "redis", "queue", "vector", "cache"},
	"context-gateway":  {"redis"},
	"llm-router":       {"redis"},
	"batch-scheduler":  {"postgres", "queue"},
	"sentinel-adapter": {"queue"},
	"atlas-detection":  {"postgres", "queue"},
	"audit-service":    {"postgres", "blob"},
}

// CheckTimeout is the per-dependency probe budget, applied as a ctx
// deadline. A probe that honors ctx and does not answer within this window
// counts as unhealthy; the deadline is not enforced on a Checker that
// ignores ctx.
const CheckTimeout = 2 * time.Second

// HealthCheck tracks one service's liveness/readiness state.
type HealthCheck struct {
	service   string
	version   string
	checkers  map[string]Checker
	startedAt time.Time
}

// NewHealthCheck constructs a HealthCheck for service, wiring checkers by
// dependency name (e.g. "postgres", "redis", "vector", "queue", "blob").
// Dependencies named in ServiceDependencies[service] without a matching
// checker report unhealthy with "no checker configured" rather than
// panicking.
func NewHealthCheck(service, version string, checkers map[string]Checker) *HealthCheck {
	return &HealthCheck{service: service, version: version, checkers: checkers, startedAt: time.Now()}
}

// UptimeSeconds is the elapsed time since construction.
func (h *HealthCheck) UptimeSeconds() float64 {
	return time.Since(h.startedAt).Seconds()
}

// Liveness always reports healthy — it only confirms the process is
// scheduling goroutines, never an external dependency.
func (h *HealthCheck) Liveness() Response {
	return Response{
		Status:        StatusHealthy,
		Service:       h.service,
		Version:       h.version,
		UptimeSeconds: h.UptimeSeconds(),
		Timestamp:     time.Now(),
	}
}

// Readiness probes every dependency ServiceDependencies lists for this
// service, with CheckTimeout per probe, and aggregates: healthy if all
// pass, degraded if some do, unhealthy if none do. A service with no
// listed dependencies is vacuously ready (healthy).
func (h *HealthCheck) Readiness(ctx context.Context) Response {
	names := ServiceDependencies[h.service]
	statuses := make([]DependencyStatus, 0, len(names))

	for _, name := range names {
		checker, ok := h.checkers[name]
		if !ok {
			statuses = append(statuses, DependencyStatus{
				Name: name, Healthy: false, Error: "no checker configured", CheckedAt: time.Now(),
			})
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		statuses = append(statuses, checker(checkCtx))
		cancel()
	}

	return Response{
		Status:        aggregate(statuses),
		Service:       h.service,
		Version:       h.version,
		UptimeSeconds: h.UptimeSeconds(),
		Dependencies:  statuses,
		Timestamp:     time.Now(),
	}
}

func aggregate(statuses []DependencyStatus) Status {
	if len(statuses) == 0 {
		return StatusHealthy
	}

	allHealthy, anyHealthy := true, false
	for _, s := range statuses {
		if s.Healthy {
			anyHealthy = true
		} else {
			allHealthy = false
		}
	}

	switch {
	case allHealthy:
		return StatusHealthy
	case anyHealthy:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// TimedChecker wraps a connectivity probe (e.g. db.PingContext) into a
// Checker, recording wall-clock latency and converting any error into a
// DependencyStatus instead of propagating it.
func TimedChecker(name string, probe func(ctx context.Context) error) Checker {
	return func(ctx context.Context) DependencyStatus {
		start := time.Now()
		err := probe(ctx)
		latency := time.Since(start).Seconds() * 1000

		if err != nil {
			return DependencyStatus{Name: name, Healthy: false, LatencyMs: latency, Error: err.Error(), CheckedAt: time.Now()}
		}
		return DependencyStatus{Name: name, Healthy: true, LatencyMs: latency, CheckedAt: time.Now()}
	}
}
