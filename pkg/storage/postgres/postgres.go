// Package postgres opens the shared *sql.DB pool every other storage
// package (pkg/audit, pkg/storage/vector, pkg/autonomy's kill-switch
// mirror) builds its queries against, and hosts the one repository spec.md
// §6 calls out with non-trivial write semantics: ctem_exposures' status-
// preserving conditional upsert.
package postgres

import (
	"context"
	"database/sql"
	"time"

	// Registers the "pgx" database/sql driver as a side effect.
	_ "github.com/jackc/pgx/v5/stdlib"

	apperrors "github.com/aluskort/soc-core/internal/errors"
)

// DefaultStatementTimeout is the default per-statement timeout spec §5
// requires ("Database statements carry a 30 s default timeout").
const DefaultStatementTimeout = 30 * time.Second

// Open connects to dsn through pgx's database/sql driver and verifies
// connectivity with a bounded ping.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to open postgres connection")
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultStatementTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to connect to postgres")
	}
	return db, nil
}

// statementContext bounds ctx by DefaultStatementTimeout unless ctx
// already carries an earlier deadline.
func statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultStatementTimeout)
}

// Exposure is one row of ctem_exposures (spec §6's abbreviated schema).
type Exposure struct {
	ExposureKey string
	TenantID    string
	Status      string // "Open", "Verified", "Closed"
	Source      string
	Severity    string
	LastSeenAt  time.Time
}

// statusPreservingStates are the statuses a conditional upsert must not
// silently downgrade: once a human (or automation) has verified or closed
// an exposure, a re-scan reporting it as merely "Open" again must not
// overwrite that judgment.
var statusPreservingStates = map[string]bool{
	"Verified": true,
	"Closed":   true,
}

// ExposureRepository is the pgx-backed store for ctem_exposures.
type ExposureRepository struct {
	db *sql.DB
}

// NewExposureRepository constructs an ExposureRepository over db.
func NewExposureRepository(db *sql.DB) *ExposureRepository {
	return &ExposureRepository{db: db}
}

// Upsert writes e, preserving an existing Verified/Closed status on
// conflict rather than letting a re-scan's "Open" clobber it — the
// conditional upsert spec §6 names explicitly.
func (r *ExposureRepository) Upsert(ctx context.Context, e Exposure) error {
	ctx, cancel := statementContext(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ctem_exposures (exposure_key, tenant_id, status, source, severity, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (exposure_key) DO UPDATE SET
			status = CASE
				WHEN ctem_exposures.status IN ('Verified', 'Closed') THEN ctem_exposures.status
				ELSE EXCLUDED.status
			END,
			source = EXCLUDED.source,
			severity = EXCLUDED.severity,
			last_seen_at = EXCLUDED.last_seen_at
	`, e.ExposureKey, e.TenantID, e.Status, e.Source, e.Severity, e.LastSeenAt)
	if err != nil {
		return apperrors.NewDatabaseError("upsert ctem exposure", err)
	}
	return nil
}

// Get fetches one exposure by key, tenant-scoped.
func (r *ExposureRepository) Get(ctx context.Context, tenantID, exposureKey string) (Exposure, bool, error) {
	ctx, cancel := statementContext(ctx)
	defer cancel()

	var e Exposure
	row := r.db.QueryRowContext(ctx, `
		SELECT exposure_key, tenant_id, status, source, severity, last_seen_at
		FROM ctem_exposures WHERE tenant_id = $1 AND exposure_key = $2
	`, tenantID, exposureKey)
	if err := row.Scan(&e.ExposureKey, &e.TenantID, &e.Status, &e.Source, &e.Severity, &e.LastSeenAt); err != nil {
		if err == sql.ErrNoRows {
			return Exposure{}, false, nil
		}
		return Exposure{}, false, apperrors.NewDatabaseError("get ctem exposure", err)
	}
	return e, true, nil
}

// IsStatusPreserved reports whether status is one the conditional upsert
// refuses to overwrite with a fresher scan's "Open".
func IsStatusPreserved(status string) bool {
	return statusPreservingStates[status]
}
