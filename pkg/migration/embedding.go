// Package migration implements the checkpointed, rate-limited embedding
// re-embedding backfill (spec §4.13): the only one of the embedding
// migration's four phases (dual-write, backfill, verify, cleanup) this
// module implements.
package migration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultBatchSize = 100

// Point is one vector-store record carrying the old embedding model.
type Point struct {
	ID      string
	Payload map[string]interface{}
}

// VectorStore is the narrow surface the backfill needs: paginate points
// still on the old embedding model, and upsert re-embedded ones. Concrete
// implementations live behind pkg/storage/vector; this is the contract
// spec.md §1 treats as out-of-scope connector-shim territory.
type VectorStore interface {
	FetchPointsByModel(ctx context.Context, collection, modelID string, startAfter string, limit int) ([]Point, error)
	UpsertPoint(ctx context.Context, collection string, id string, vector []float32, payload map[string]interface{}) error
}

// CheckpointStore persists backfill progress so a crash or cancellation
// resumes rather than restarting.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, oldModel, newModel, collection, lastPointID string, pointsMigrated int) error
	LoadCheckpoint(ctx context.Context, oldModel, newModel, collection string) (string, bool, error)
}

// EmbedFunc re-embeds a point's payload with the new model.
type EmbedFunc func(ctx context.Context, payload map[string]interface{}) ([]float32, error)

// Job runs the backfill phase of an embedding model migration: paginate
// points on the old model, re-embed with embedFn, upsert under the new
// model with enriched metadata, and checkpoint every batchSize points.
// Upserts are keyed by point id, so re-running the job after a crash is
// idempotent.
type Job struct {
	vector      VectorStore
	checkpoints CheckpointStore
	embedFn     EmbedFunc
	logger      *zap.Logger

	OldModel     string
	NewModel     string
	Collection   string
	BatchSize    int
	RateLimitRPS float64
}

// NewJob constructs a Job. A zero BatchSize defaults to 100; a zero
// RateLimitRPS disables rate limiting.
func NewJob(vector VectorStore, checkpoints CheckpointStore, embedFn EmbedFunc, oldModel, newModel, collection string, logger *zap.Logger) *Job {
	return &Job{
		vector:       vector,
		checkpoints:  checkpoints,
		embedFn:      embedFn,
		logger:       logger,
		OldModel:     oldModel,
		NewModel:     newModel,
		Collection:   collection,
		BatchSize:    defaultBatchSize,
		RateLimitRPS: 10.0,
	}
}

// Summary reports the backfill's outcome.
type Summary struct {
	OldModel       string
	NewModel       string
	Collection     string
	PointsMigrated int
	LastPointID    string
	Status         string
}

// Run executes the backfill, resuming from resumeFrom if non-empty, else
// the persisted checkpoint, else the beginning. ctx cancellation stops
// the loop after the current point and checkpoints what has been done so
// far — the job is safe to re-run from there.
func (j *Job) Run(ctx context.Context, resumeFrom string) (Summary, error) {
	startFrom := resumeFrom
	if startFrom == "" {
		if cp, ok, err := j.checkpoints.LoadCheckpoint(ctx, j.OldModel, j.NewModel, j.Collection); err != nil {
			return Summary{}, err
		} else if ok {
			startFrom = cp
		}
	}

	minInterval := time.Duration(0)
	if j.RateLimitRPS > 0 {
		minInterval = time.Duration(float64(time.Second) / j.RateLimitRPS)
	}

	migrated := 0
	lastID := startFrom
	lastOpTime := time.Time{}
	batchSize := j.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	cursor := startFrom
	for {
		select {
		case <-ctx.Done():
			return j.finish(ctx, migrated, lastID, "cancelled")
		default:
		}

		points, err := j.vector.FetchPointsByModel(ctx, j.Collection, j.OldModel, cursor, batchSize)
		if err != nil {
			return Summary{}, fmt.Errorf("migration: fetch old-model points: %w", err)
		}
		if len(points) == 0 {
			break
		}

		for _, point := range points {
			select {
			case <-ctx.Done():
				return j.finish(ctx, migrated, lastID, "cancelled")
			default:
			}

			if !lastOpTime.IsZero() && minInterval > 0 {
				if elapsed := time.Since(lastOpTime); elapsed < minInterval {
					sleepCtx(ctx, minInterval-elapsed)
				}
			}

			vector, err := j.embedFn(ctx, point.Payload)
			if err != nil {
				return Summary{}, fmt.Errorf("migration: embed point %s: %w", point.ID, err)
			}

			payload := clonePayload(point.Payload)
			payload["embedding_model_id"] = j.NewModel
			payload["embedding_version"] = time.Now().UTC().Format("2006-01")

			if err := j.vector.UpsertPoint(ctx, j.Collection, point.ID, vector, payload); err != nil {
				return Summary{}, fmt.Errorf("migration: upsert point %s: %w", point.ID, err)
			}

			lastOpTime = time.Now()
			migrated++
			lastID = point.ID
			cursor = point.ID

			if migrated%batchSize == 0 {
				if err := j.checkpoints.SaveCheckpoint(ctx, j.OldModel, j.NewModel, j.Collection, lastID, migrated); err != nil && j.logger != nil {
					j.logger.Warn("failed to persist migration checkpoint", zap.Error(err))
				}
			}
		}
	}

	return j.finish(ctx, migrated, lastID, "completed")
}

func (j *Job) finish(ctx context.Context, migrated int, lastID, status string) (Summary, error) {
	if migrated > 0 {
		if err := j.checkpoints.SaveCheckpoint(ctx, j.OldModel, j.NewModel, j.Collection, lastID, migrated); err != nil && j.logger != nil {
			j.logger.Warn("failed to persist final migration checkpoint", zap.Error(err))
		}
	}
	return Summary{
		OldModel:       j.OldModel,
		NewModel:       j.NewModel,
		Collection:     j.Collection,
		PointsMigrated: migrated,
		LastPointID:    lastID,
		Status:         status,
	}, nil
}

func clonePayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
