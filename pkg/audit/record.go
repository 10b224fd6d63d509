// Package audit implements the tamper-evident, per-tenant hash-chained
// audit trail: record hashing, chain state management, scheduled
// verification, and warm-to-cold retention.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the previous_hash value for sequence 0 of every tenant's
// chain: 64 zero characters, never a real SHA-256 digest.
var GenesisHash = strings.Repeat("0", 64)

// Record is a single entry in a tenant's hash chain.
type Record struct {
	AuditID           string                 `json:"audit_id"`
	TenantID          string                 `json:"tenant_id"`
	SequenceNumber    int64                  `json:"sequence_number"`
	PreviousHash      string                 `json:"previous_hash"`
	Timestamp         string                 `json:"timestamp"`
	IngestedAt        string                 `json:"ingested_at"`
	EventType         string                 `json:"event_type"`
	EventCategory     string                 `json:"event_category"`
	Severity          string                 `json:"severity"`
	ActorType         string                 `json:"actor_type"`
	ActorID           string                 `json:"actor_id"`
	ActorPermissions  []string               `json:"actor_permissions"`
	InvestigationID   string                 `json:"investigation_id"`
	AlertID           string                 `json:"alert_id"`
	EntityIDs         []string               `json:"entity_ids"`
	Context           map[string]interface{} `json:"context"`
	Decision          map[string]interface{} `json:"decision"`
	Outcome           map[string]interface{} `json:"outcome"`
	RecordVersion     string                 `json:"record_version"`
	SourceService     string                 `json:"source_service"`
	RecordHash        string                 `json:"record_hash"`
}

// nowRFC3339Milli returns the current UTC time formatted the way the
// original service stamps timestamps: millisecond precision, "Z" suffix.
func nowRFC3339Milli() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// ComputeRecordHash returns the SHA-256 hex digest of rec's canonical JSON
// form with record_hash itself excluded from the input. encoding/json
// marshals map[string]interface{} keys in sorted order and emits compact
// (no-space) output by default, matching Python's
// json.dumps(sort_keys=True, separators=(",", ":")).
func ComputeRecordHash(rec *Record) (string, error) {
	clone := *rec
	clone.RecordHash = ""

	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}

	// Round-trip through a generic map keyed by the struct's json tags so
	// that the "record_hash" key (serialized as an empty string above) is
	// dropped entirely rather than hashed as "".
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	delete(generic, "record_hash")

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CreateGenesisRecord builds the sequence-0 record for a tenant with no
// prior chain state.
func CreateGenesisRecord(tenantID string) (*Record, error) {
	now := nowRFC3339Milli()
	rec := &Record{
		AuditID:          uuid.NewString(),
		TenantID:         tenantID,
		SequenceNumber:   0,
		PreviousHash:     GenesisHash,
		Timestamp:        now,
		IngestedAt:       now,
		EventType:        "system.genesis",
		EventCategory:    "system",
		Severity:         "info",
		ActorType:        "system",
		ActorID:          "audit-service",
		ActorPermissions: []string{},
		EntityIDs:        []string{},
		Context:          map[string]interface{}{},
		Decision:         map[string]interface{}{},
		Outcome:          map[string]interface{}{},
		RecordVersion:    "1.0",
		SourceService:    "audit-service",
	}
	hash, err := ComputeRecordHash(rec)
	if err != nil {
		return nil, err
	}
	rec.RecordHash = hash
	return rec, nil
}

// ChainEvent assigns the next sequence number and previous_hash link to an
// incoming event record given the tenant's current chain head, then
// computes its record_hash. The caller owns serializing access per tenant
// (spec §4.1's single-writer-per-tenant invariant) — ChainEvent itself is
// a pure function and does no locking.
func ChainEvent(event *Record, head ChainState) (*Record, error) {
	rec := *event
	rec.SequenceNumber = head.LastSequence + 1
	rec.PreviousHash = head.LastHash
	rec.IngestedAt = nowRFC3339Milli()

	hash, err := ComputeRecordHash(&rec)
	if err != nil {
		return nil, err
	}
	rec.RecordHash = hash
	return &rec, nil
}

// ChainState is a tenant's chain head as persisted in audit_chain_state.
type ChainState struct {
	TenantID      string
	LastSequence  int64
	LastHash      string
	LastTimestamp string
}
