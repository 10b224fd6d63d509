package evidence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aluskort/soc-core/pkg/audit"
)

func nowRFC3339Milli() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Package is a self-contained investigation dossier assembled from a
// tenant's audit records: the original alert, every state transition,
// every LLM interaction, the final classification, and chain-verification
// status — everything an analyst or auditor needs without querying any
// other system.
type Package struct {
	PackageID       string
	InvestigationID string
	TenantID        string
	GeneratedAt     string
	GeneratedBy     string

	Events            []*audit.Record
	StateTransitions  []*audit.Record
	RetrievalContext  []*audit.Record
	LLMInteractions   []*audit.Record
	ActionsExecuted   []*audit.Record
	ActionsPending    []*audit.Record
	Approvals         []*audit.Record

	FinalClassification string
	FinalConfidence      float64
	FinalSeverity        string
	ReasoningChain       []string

	ChainVerified           bool
	ChainVerificationErrors []string

	PackageHash string
}

// Builder assembles Packages from a tenant's audit_records.
type Builder struct {
	db    *sql.DB
	store *Store
}

// NewBuilder constructs a Builder. BuildPackage does not read store:
// packages carry audit records only, and referenced evidence blobs are
// not fetched into them, so store may be nil.
func NewBuilder(db *sql.DB, store *Store) *Builder {
	return &Builder{db: db, store: store}
}

// BuildPackage queries every audit record for an investigation, buckets
// them by event_type, verifies the hash chain over just those records,
// and computes the package's own content hash.
func (b *Builder) BuildPackage(ctx context.Context, investigationID, tenantID string) (*Package, error) {
	records, err := b.queryInvestigationRecords(ctx, investigationID, tenantID)
	if err != nil {
		return nil, err
	}

	pkg := &Package{
		PackageID:       uuid.NewString(),
		InvestigationID: investigationID,
		TenantID:        tenantID,
		GeneratedAt:     nowRFC3339Milli(),
		GeneratedBy:     "aluskort-audit-service v1.0",
		Events:          records,
	}

	for _, rec := range records {
		switch {
		case strings.HasPrefix(rec.EventType, "investigation."):
			pkg.StateTransitions = append(pkg.StateTransitions, rec)
		case strings.HasPrefix(rec.EventType, "response."):
			outcome, _ := rec.Outcome["outcome_status"].(string)
			if outcome == "success" {
				pkg.ActionsExecuted = append(pkg.ActionsExecuted, rec)
			} else if outcome == "pending_approval" {
				pkg.ActionsPending = append(pkg.ActionsPending, rec)
			}
		case strings.HasPrefix(rec.EventType, "approval."):
			pkg.Approvals = append(pkg.Approvals, rec)
		}

		if containsLLMContext(rec.Context) {
			pkg.LLMInteractions = append(pkg.LLMInteractions, rec)
		}
		if rec.Context != nil {
			if _, ok := rec.Context["retrieval_stores_queried"]; ok {
				pkg.RetrievalContext = append(pkg.RetrievalContext, rec)
			}
		}

		if summary, ok := rec.Decision["reasoning_summary"].(string); ok && summary != "" {
			pkg.ReasoningChain = append(pkg.ReasoningChain, summary)
		}

		if rec.EventType == "alert.classified" {
			if classification, ok := rec.Decision["classification"].(string); ok {
				pkg.FinalClassification = classification
			}
			if confidence, ok := rec.Decision["confidence"].(float64); ok {
				pkg.FinalConfidence = confidence
			}
			if severity, ok := rec.Decision["severity_assigned"].(string); ok {
				pkg.FinalSeverity = severity
			}
		}
	}

	valid, errs := audit.VerifyChain(records)
	pkg.ChainVerified = valid
	pkg.ChainVerificationErrors = errs

	hash, err := computePackageHash(pkg)
	if err != nil {
		return nil, err
	}
	pkg.PackageHash = hash
	return pkg, nil
}

func (b *Builder) queryInvestigationRecords(ctx context.Context, investigationID, tenantID string) ([]*audit.Record, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT audit_id, tenant_id, sequence_number, previous_hash, record_hash, timestamp, "+
			"ingested_at, event_type, event_category, severity, actor_type, actor_id, record_version, "+
			"source_service, context, decision, outcome FROM audit_records "+
			"WHERE investigation_id = $1 AND tenant_id = $2 ORDER BY sequence_number",
		investigationID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		rec := &audit.Record{}
		var contextRaw, decisionRaw, outcomeRaw []byte
		if err := rows.Scan(&rec.AuditID, &rec.TenantID, &rec.SequenceNumber, &rec.PreviousHash,
			&rec.RecordHash, &rec.Timestamp, &rec.IngestedAt, &rec.EventType, &rec.EventCategory,
			&rec.Severity, &rec.ActorType, &rec.ActorID, &rec.RecordVersion, &rec.SourceService,
			&contextRaw, &decisionRaw, &outcomeRaw,
		); err != nil {
			return nil, err
		}
		rec.Context = unmarshalMap(contextRaw)
		rec.Decision = unmarshalMap(decisionRaw)
		rec.Outcome = unmarshalMap(outcomeRaw)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func unmarshalMap(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	m := map[string]interface{}{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func containsLLMContext(ctx map[string]interface{}) bool {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return false
	}
	return strings.Contains(string(raw), "llm_")
}

// computePackageHash hashes the package's canonical JSON form excluding
// PackageHash itself, mirroring audit.ComputeRecordHash's approach for
// individual records.
func computePackageHash(pkg *Package) (string, error) {
	clone := *pkg
	clone.PackageHash = ""

	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	delete(generic, "PackageHash")

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
