package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	apperrors "github.com/aluskort/soc-core/internal/errors"
)

const (
	exportLagMonths = 2
)

// ExportSummary reports the outcome of a monthly warm-to-cold export.
type ExportSummary struct {
	ExportedCount int
	PartitionName string
	Verified      bool
	Skipped       string
	S3Path        string
	FileHash      string
	Err           error
}

// s3API is the narrow PutObject/GetObject surface RetentionLifecycle
// needs; *s3.Client satisfies it structurally, and tests substitute a
// fake without touching the production call site.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RetentionLifecycle manages the monthly warm(Postgres)-to-cold(S3
// JSON-lines) export and the subsequent partition-drop decision, per spec
// §4.3's three-tier retention policy.
type RetentionLifecycle struct {
	db         *sql.DB
	s3         s3API
	bucket     string
	legalHold  map[string]bool
	warmMonths int
	logger     *zap.Logger
}

// NewRetentionLifecycle constructs a RetentionLifecycle. legalHoldTenants
// lists tenants whose partitions are never dropped regardless of age.
func NewRetentionLifecycle(db *sql.DB, s3Client s3API, bucket string, legalHoldTenants []string, warmRetentionMonths int, logger *zap.Logger) *RetentionLifecycle {
	hold := make(map[string]bool, len(legalHoldTenants))
	for _, t := range legalHoldTenants {
		hold[t] = true
	}
	return &RetentionLifecycle{
		db:         db,
		s3:         s3Client,
		bucket:     bucket,
		legalHold:  hold,
		warmMonths: warmRetentionMonths,
		logger:     logger,
	}
}

// RunMonthlyExport exports the partition from two months before
// referenceDate to S3 as newline-delimited JSON (no Parquet output)
// alongside a SHA-256 sidecar, then verifies
// the upload by re-downloading and re-hashing it.
func (r *RetentionLifecycle) RunMonthlyExport(ctx context.Context, referenceDate time.Time) (ExportSummary, error) {
	target := subtractMonths(referenceDate, exportLagMonths)
	partitionName := partitionName(target)
	s3Prefix := fmt.Sprintf("cold/%s", target.Format("2006-01"))

	records, err := r.queryPartitionRecords(ctx, target)
	if err != nil {
		return ExportSummary{}, err
	}
	if len(records) == 0 {
		return ExportSummary{ExportedCount: 0, PartitionName: partitionName, Verified: true, Skipped: "no_records"}, nil
	}

	payload, err := recordsToExportBytes(records)
	if err != nil {
		return ExportSummary{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to encode export payload")
	}
	hashSum := sha256.Sum256(payload)
	fileHash := hex.EncodeToString(hashSum[:])

	dataKey := s3Prefix + "/audit_records.jsonl"
	hashKey := s3Prefix + "/audit_records.jsonl.sha256"

	if _, err := r.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(r.bucket),
		Key:                  aws.String(dataKey),
		Body:                 bytes.NewReader(payload),
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	}); err != nil {
		return ExportSummary{ExportedCount: len(records), PartitionName: partitionName, Verified: false}, nil
	}
	if _, err := r.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(hashKey),
		Body:   bytes.NewReader([]byte(fileHash)),
	}); err != nil {
		return ExportSummary{ExportedCount: len(records), PartitionName: partitionName, Verified: false}, nil
	}

	verified := r.verifyUpload(ctx, dataKey, fileHash)

	return ExportSummary{
		ExportedCount: len(records),
		PartitionName: partitionName,
		Verified:      verified,
		S3Path:        fmt.Sprintf("s3://%s/%s", r.bucket, dataKey),
		FileHash:      fileHash,
	}, nil
}

// DropOldPartition drops a warm partition, but only when the export was
// verified, the partition is older than the buffer window, and it holds
// no data for a tenant under legal hold.
func (r *RetentionLifecycle) DropOldPartition(ctx context.Context, partition string, verified bool, bufferMonths int) (bool, error) {
	if !verified {
		r.logger.Warn("refusing to drop partition: export not verified", zap.String("partition", partition))
		return false, nil
	}

	partitionDate, ok := parsePartitionDate(partition)
	if !ok {
		r.logger.Warn("cannot parse partition date", zap.String("partition", partition))
		return false, nil
	}

	bufferCutoff := subtractMonths(time.Now().UTC(), bufferMonths)
	if !partitionDate.Before(bufferCutoff) {
		r.logger.Warn("refusing to drop partition: within buffer window", zap.String("partition", partition))
		return false, nil
	}

	held, err := r.hasLegalHoldData(ctx, partition)
	if err != nil {
		return false, err
	}
	if held {
		r.logger.Warn("refusing to drop partition: legal hold data present", zap.String("partition", partition))
		return false, nil
	}

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", partition)); err != nil {
		return false, apperrors.NewDatabaseError("drop partition", err)
	}
	r.logger.Info("dropped partition", zap.String("partition", partition))
	return true, nil
}

// CreateNextPartitions creates `count` upcoming monthly partitions of
// audit_records ahead of time so writes never block on DDL.
func (r *RetentionLifecycle) CreateNextPartitions(ctx context.Context, count int) ([]string, error) {
	now := time.Now().UTC()
	var created []string
	for i := 1; i <= count; i++ {
		target := addMonths(now, i)
		name := partitionName(target)
		start := target.Format("2006-01-02")
		end := addMonths(target, 1).Format("2006-01-02")
		_, err := r.db.ExecContext(ctx, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_records FOR VALUES FROM ('%s') TO ('%s')",
			name, start, end,
		))
		if err != nil {
			r.logger.Error("failed to create partition", zap.String("partition", name), zap.Error(err))
			continue
		}
		created = append(created, name)
	}
	return created, nil
}

func (r *RetentionLifecycle) queryPartitionRecords(ctx context.Context, target time.Time) ([]*Record, error) {
	start := target.Format("2006-01-02")
	end := addMonths(target, 1).Format("2006-01-02")

	rows, err := r.db.QueryContext(ctx,
		"SELECT audit_id, tenant_id, sequence_number, previous_hash, record_hash, timestamp, "+
			"ingested_at, event_type, event_category, severity, actor_type, actor_id, "+
			"actor_permissions, investigation_id, alert_id, entity_ids, context, decision, "+
			"outcome, record_version, source_service FROM audit_records "+
			"WHERE timestamp >= $1 AND timestamp < $2 ORDER BY tenant_id, sequence_number",
		start, end,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query partition records", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var actorPermsRaw, entityIDsRaw, contextRaw, decisionRaw, outcomeRaw []byte
		if err := rows.Scan(&rec.AuditID, &rec.TenantID, &rec.SequenceNumber, &rec.PreviousHash,
			&rec.RecordHash, &rec.Timestamp, &rec.IngestedAt, &rec.EventType, &rec.EventCategory,
			&rec.Severity, &rec.ActorType, &rec.ActorID, &actorPermsRaw, &rec.InvestigationID,
			&rec.AlertID, &entityIDsRaw, &contextRaw, &decisionRaw, &outcomeRaw,
			&rec.RecordVersion, &rec.SourceService,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan partition record", err)
		}
		rec.ActorPermissions = unmarshalStrings(actorPermsRaw)
		rec.EntityIDs = unmarshalStrings(entityIDsRaw)
		rec.Context = unmarshalJSONMap(contextRaw)
		rec.Decision = unmarshalJSONMap(decisionRaw)
		rec.Outcome = unmarshalJSONMap(outcomeRaw)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *RetentionLifecycle) verifyUpload(ctx context.Context, key, expectedHash string) bool {
	resp, err := r.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(key)})
	if err != nil {
		r.logger.Error("verification download failed", zap.String("key", key), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return false
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]) == expectedHash
}

func (r *RetentionLifecycle) hasLegalHoldData(ctx context.Context, partition string) (bool, error) {
	if len(r.legalHold) == 0 {
		return false, nil
	}
	ids := make([]string, 0, len(r.legalHold))
	for id := range r.legalHold {
		ids = append(ids, id)
	}
	placeholders := ""
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}

	var count int
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id IN (%s)", partition, placeholders), args...)
	if err := row.Scan(&count); err != nil {
		return false, apperrors.NewDatabaseError("legal hold check", err)
	}
	return count > 0, nil
}

func recordsToExportBytes(records []*Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func partitionName(t time.Time) string {
	return fmt.Sprintf("audit_records_%s", t.Format("2006_01"))
}

func parsePartitionDate(name string) (time.Time, bool) {
	var year, month int
	if _, err := fmt.Sscanf(name, "audit_records_%d_%d", &year, &month); err != nil {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

func subtractMonths(t time.Time, months int) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, -months, 0)
}

func addMonths(t time.Time, months int) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, months, 0)
}
