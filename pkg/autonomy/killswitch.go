package autonomy

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aluskort/soc-core/internal/errors"
)

// KillSwitch is one (dimension, value) entry disabling autonomous
// action, consulted before any auto-response (glossary: "Kill switch").
type KillSwitch struct {
	Dimension   string
	Value       string
	ActivatedBy string
	Reason      string
	ActivatedAt time.Time
}

func killSwitchKey(dimension, value string) string {
	return dimension + ":" + value
}

// KillSwitchManager tracks active kill switches in memory with an
// optional Postgres-backed mirror so a restart doesn't silently drop an
// operator's emergency stop.
type KillSwitchManager struct {
	db     *sql.DB
	logger *zap.Logger

	mu       sync.RWMutex
	switches map[string]KillSwitch
}

// NewKillSwitchManager constructs a KillSwitchManager. db may be nil for
// in-memory-only use (e.g. tests).
func NewKillSwitchManager(db *sql.DB, logger *zap.Logger) *KillSwitchManager {
	return &KillSwitchManager{db: db, logger: logger, switches: make(map[string]KillSwitch)}
}

// Activate disables autonomous action for (dimension, value). Failing to
// persist to Postgres logs a warning but does not block the in-memory
// activation — the kill switch must take effect immediately regardless
// of storage health.
func (m *KillSwitchManager) Activate(ctx context.Context, dimension, value, activatedBy, reason string) error {
	ks := KillSwitch{
		Dimension:   dimension,
		Value:       value,
		ActivatedBy: activatedBy,
		Reason:      reason,
		ActivatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.switches[killSwitchKey(dimension, value)] = ks
	m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	_, err := m.db.ExecContext(ctx,
		"INSERT INTO kill_switches (dimension, value, activated_by, reason, activated_at) "+
			"VALUES ($1,$2,$3,$4,$5) ON CONFLICT (dimension, value) DO UPDATE SET "+
			"activated_by = $3, reason = $4, activated_at = $5",
		dimension, value, activatedBy, reason, ks.ActivatedAt,
	)
	if err != nil && m.logger != nil {
		m.logger.Warn("failed to persist kill switch activation",
			zap.String("dimension", dimension), zap.String("value", value), zap.Error(err))
	}
	return nil
}

// Deactivate clears a kill switch, e.g. once an operator resolves the
// underlying issue.
func (m *KillSwitchManager) Deactivate(ctx context.Context, dimension, value string) error {
	m.mu.Lock()
	delete(m.switches, killSwitchKey(dimension, value))
	m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	if _, err := m.db.ExecContext(ctx,
		"DELETE FROM kill_switches WHERE dimension = $1 AND value = $2", dimension, value,
	); err != nil {
		return apperrors.NewDatabaseError("deactivate kill switch", err)
	}
	return nil
}

// IsActive reports whether (dimension, value) currently has an active
// kill switch.
func (m *KillSwitchManager) IsActive(dimension, value string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.switches[killSwitchKey(dimension, value)]
	return ok
}

// Get returns the active kill switch for (dimension, value), if any.
func (m *KillSwitchManager) Get(dimension, value string) (KillSwitch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks, ok := m.switches[killSwitchKey(dimension, value)]
	return ks, ok
}

// All returns a snapshot of every active kill switch.
func (m *KillSwitchManager) All() []KillSwitch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]KillSwitch, 0, len(m.switches))
	for _, ks := range m.switches {
		out = append(out, ks)
	}
	return out
}
