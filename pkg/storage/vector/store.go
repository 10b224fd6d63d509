// Package vector stores retrieval-context embeddings in Postgres via
// pgvector, over the same database/sql handle pkg/audit and
// pkg/storage/postgres use, rather than a separate pool.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	apperrors "github.com/aluskort/soc-core/internal/errors"
	"github.com/aluskort/soc-core/pkg/migration"
)

// Store is the Postgres/pgvector-backed implementation of
// migration.VectorStore, plus a tenant-scoped SimilaritySearch over
// retrieval-context embeddings.
type Store struct {
	db *sql.DB
}

// New constructs a Store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ migration.VectorStore = (*Store)(nil)

// FetchPointsByModel paginates rows in collection still carrying
// embedding_model_id = modelID, ordered by id, resuming strictly after
// startAfter.
func (s *Store) FetchPointsByModel(ctx context.Context, collection, modelID, startAfter string, limit int) ([]migration.Point, error) {
	query := fmt.Sprintf(
		"SELECT id, payload FROM %s WHERE embedding_model_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3",
		pq(collection),
	)
	rows, err := s.db.QueryContext(ctx, query, modelID, startAfter, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("fetch points by model", err)
	}
	defer rows.Close()

	var points []migration.Point
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, apperrors.NewDatabaseError("scan vector point", err)
		}
		payload := map[string]interface{}{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, fmt.Errorf("vector: unmarshal payload for %s: %w", id, err)
			}
		}
		points = append(points, migration.Point{ID: id, Payload: payload})
	}
	return points, rows.Err()
}

// UpsertPoint writes vector and payload for id in collection, inserting
// or overwriting by primary key — the embedding backfill relies on this
// being idempotent under re-run.
func (s *Store) UpsertPoint(ctx context.Context, collection, id string, vec []float32, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("vector: marshal payload for %s: %w", id, err)
	}

	embedding := pgvector.NewVector(vec)
	modelID, _ := payload["embedding_model_id"].(string)

	query := fmt.Sprintf(
		`INSERT INTO %s (id, embedding, embedding_model_id, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET embedding = $2, embedding_model_id = $3, payload = $4`,
		pq(collection),
	)
	if _, err := s.db.ExecContext(ctx, query, id, embedding, modelID, raw); err != nil {
		return apperrors.NewDatabaseError("upsert vector point", err)
	}
	return nil
}

// SimilaritySearch returns the topK rows in collection nearest queryVec
// by cosine distance, restricted to tenantID.
func (s *Store) SimilaritySearch(ctx context.Context, collection, tenantID string, queryVec []float32, topK int) ([]migration.Point, error) {
	embedding := pgvector.NewVector(queryVec)
	query := fmt.Sprintf(
		`SELECT id, payload FROM %s WHERE tenant_id = $1 ORDER BY embedding <=> $2 LIMIT $3`,
		pq(collection),
	)
	rows, err := s.db.QueryContext(ctx, query, tenantID, embedding, topK)
	if err != nil {
		return nil, apperrors.NewDatabaseError("vector similarity search", err)
	}
	defer rows.Close()

	var points []migration.Point
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, apperrors.NewDatabaseError("scan similarity result", err)
		}
		payload := map[string]interface{}{}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &payload)
		}
		points = append(points, migration.Point{ID: id, Payload: payload})
	}
	return points, rows.Err()
}

// pq double-quotes an identifier without escaping embedded quotes. The
// collection names passed in come from configuration (cmd/socd passes
// cfg.Embedding.Collection), not from request input.
func pq(identifier string) string {
	return `"` + identifier + `"`
}
