package audit

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/aluskort/soc-core/internal/errors"
)

// ChainStateManager reads and upserts per-tenant chain heads in the
// audit_chain_state table, with an in-memory cache to avoid a DB
// round-trip on every event within the service's lifetime.
type ChainStateManager struct {
	db     *sql.DB
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]ChainState
}

// NewChainStateManager constructs a ChainStateManager over db.
func NewChainStateManager(db *sql.DB, logger *zap.Logger) *ChainStateManager {
	return &ChainStateManager{
		db:     db,
		logger: logger,
		cache:  make(map[string]ChainState),
	}
}

// GetState returns the current chain head for tenantID, or
// (ChainState{}, false, nil) if the tenant has no chain yet.
func (m *ChainStateManager) GetState(ctx context.Context, tenantID string) (ChainState, bool, error) {
	m.mu.RLock()
	if state, ok := m.cache[tenantID]; ok {
		m.mu.RUnlock()
		return state, true, nil
	}
	m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx,
		"SELECT tenant_id, last_sequence, last_hash, last_timestamp FROM audit_chain_state WHERE tenant_id = $1",
		tenantID,
	)
	var state ChainState
	if err := row.Scan(&state.TenantID, &state.LastSequence, &state.LastHash, &state.LastTimestamp); err != nil {
		if err == sql.ErrNoRows {
			return ChainState{}, false, nil
		}
		return ChainState{}, false, apperrors.NewDatabaseError("get chain state", err)
	}

	m.mu.Lock()
	m.cache[tenantID] = state
	m.mu.Unlock()
	return state, true, nil
}

// UpdateState upserts the chain head for tenantID and refreshes the cache.
func (m *ChainStateManager) UpdateState(ctx context.Context, state ChainState) error {
	_, err := m.db.ExecContext(ctx,
		"INSERT INTO audit_chain_state (tenant_id, last_sequence, last_hash, last_timestamp, updated_at) "+
			"VALUES ($1, $2, $3, $4, NOW()) "+
			"ON CONFLICT (tenant_id) DO UPDATE SET "+
			"last_sequence = $2, last_hash = $3, last_timestamp = $4, updated_at = NOW()",
		state.TenantID, state.LastSequence, state.LastHash, state.LastTimestamp,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update chain state", err)
	}

	m.mu.Lock()
	m.cache[state.TenantID] = state
	m.mu.Unlock()
	return nil
}

// EnsureGenesis returns the tenant's chain head, creating and persisting a
// genesis record first if the tenant has no chain state yet.
func (m *ChainStateManager) EnsureGenesis(ctx context.Context, tenantID string) (ChainState, error) {
	if state, ok, err := m.GetState(ctx, tenantID); err != nil {
		return ChainState{}, err
	} else if ok {
		return state, nil
	}

	genesis, err := CreateGenesisRecord(tenantID)
	if err != nil {
		return ChainState{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to build genesis record")
	}

	// Persisted so chain verification finds sequence 0 in audit_records,
	// not only in audit_chain_state.
	_, err = m.db.ExecContext(ctx,
		"INSERT INTO audit_records (audit_id, tenant_id, sequence_number, previous_hash, "+
			"record_hash, timestamp, ingested_at, event_type, event_category, severity, "+
			"actor_type, actor_id, record_version, source_service) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) "+
			"ON CONFLICT (audit_id) DO NOTHING",
		genesis.AuditID, genesis.TenantID, genesis.SequenceNumber, genesis.PreviousHash,
		genesis.RecordHash, genesis.Timestamp, genesis.IngestedAt, genesis.EventType,
		genesis.EventCategory, genesis.Severity, genesis.ActorType, genesis.ActorID,
		genesis.RecordVersion, genesis.SourceService,
	)
	if err != nil {
		return ChainState{}, apperrors.NewDatabaseError("insert genesis record", err)
	}

	state := ChainState{
		TenantID:      tenantID,
		LastSequence:  genesis.SequenceNumber,
		LastHash:      genesis.RecordHash,
		LastTimestamp: genesis.Timestamp,
	}
	if err := m.UpdateState(ctx, state); err != nil {
		return ChainState{}, err
	}
	return state, nil
}

// Writer appends events to a tenant's hash chain, serializing writers per
// tenant in-process so sequence numbers never race (spec §4.1's
// single-writer-per-tenant invariant). Cross-process serialization is the
// caller's responsibility — e.g. a Postgres advisory lock keyed by tenant.
type Writer struct {
	chains *ChainStateManager
	db     *sql.DB
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewWriter constructs a Writer over chains and db.
func NewWriter(chains *ChainStateManager, db *sql.DB, logger *zap.Logger) *Writer {
	return &Writer{
		chains: chains,
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (w *Writer) tenantLock(tenantID string) *sync.Mutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()
	lock, ok := w.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[tenantID] = lock
	}
	return lock
}

// Append chains event onto tenantID's hash chain and persists the
// resulting record, creating the genesis record first if needed.
func (w *Writer) Append(ctx context.Context, tenantID string, event *Record) (*Record, error) {
	lock := w.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	head, err := w.chains.EnsureGenesis(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	event.TenantID = tenantID
	rec, err := ChainEvent(event, head)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to chain event")
	}

	if _, err := w.db.ExecContext(ctx,
		"INSERT INTO audit_records (audit_id, tenant_id, sequence_number, previous_hash, "+
			"record_hash, timestamp, ingested_at, event_type, event_category, severity, "+
			"actor_type, actor_id, actor_permissions, investigation_id, alert_id, entity_ids, "+
			"context, decision, outcome, record_version, source_service) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)",
		rec.AuditID, rec.TenantID, rec.SequenceNumber, rec.PreviousHash, rec.RecordHash,
		rec.Timestamp, rec.IngestedAt, rec.EventType, rec.EventCategory, rec.Severity,
		rec.ActorType, rec.ActorID, jsonOrNil(rec.ActorPermissions), rec.InvestigationID,
		rec.AlertID, jsonOrNil(rec.EntityIDs), jsonOrNil(rec.Context), jsonOrNil(rec.Decision),
		jsonOrNil(rec.Outcome), rec.RecordVersion, rec.SourceService,
	); err != nil {
		return nil, apperrors.NewDatabaseError("insert audit record", err)
	}

	if err := w.chains.UpdateState(ctx, ChainState{
		TenantID:      tenantID,
		LastSequence:  rec.SequenceNumber,
		LastHash:      rec.RecordHash,
		LastTimestamp: rec.Timestamp,
	}); err != nil {
		return nil, err
	}

	return rec, nil
}
