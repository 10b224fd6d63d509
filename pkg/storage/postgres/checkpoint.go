package postgres

import (
	"context"
	"database/sql"

	apperrors "github.com/aluskort/soc-core/internal/errors"
	"github.com/aluskort/soc-core/pkg/migration"
)

// checkpointKey identifies one embedding migration's progress row.
func checkpointKey(oldModel, newModel, collection string) string {
	return oldModel + "->" + newModel + ":" + collection
}

// CheckpointRepository is the Postgres-backed migration.CheckpointStore
// for the embedding backfill job (spec §4.13).
type CheckpointRepository struct {
	db *sql.DB
}

// NewCheckpointRepository constructs a CheckpointRepository over db.
func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

var _ migration.CheckpointStore = (*CheckpointRepository)(nil)

// SaveCheckpoint upserts the backfill's progress for (oldModel, newModel,
// collection).
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, oldModel, newModel, collection, lastPointID string, pointsMigrated int) error {
	ctx, cancel := statementContext(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO embedding_migration_checkpoints (job_name, last_point_id, points_done, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (job_name) DO UPDATE SET
			last_point_id = $2, points_done = $3, updated_at = NOW()
	`, checkpointKey(oldModel, newModel, collection), lastPointID, pointsMigrated)
	if err != nil {
		return apperrors.NewDatabaseError("save embedding checkpoint", err)
	}
	return nil
}

// LoadCheckpoint returns the last persisted point id for (oldModel,
// newModel, collection), or ok=false if the job has never checkpointed.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, oldModel, newModel, collection string) (string, bool, error) {
	ctx, cancel := statementContext(ctx)
	defer cancel()

	var lastPointID string
	row := r.db.QueryRowContext(ctx,
		"SELECT last_point_id FROM embedding_migration_checkpoints WHERE job_name = $1",
		checkpointKey(oldModel, newModel, collection),
	)
	if err := row.Scan(&lastPointID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, apperrors.NewDatabaseError("load embedding checkpoint", err)
	}
	return lastPointID, true, nil
}
