package postgres

import (
	"context"
	"database/sql"

	"github.com/aluskort/soc-core/pkg/detection"
)

// QueryAdapter satisfies detection.DB over the shared *sql.DB pool,
// turning a row set into the generic map shape detection rules evaluate
// against (spec §9's rules are free to query any column they declare).
type QueryAdapter struct {
	db *sql.DB
}

// NewQueryAdapter constructs a QueryAdapter over db.
func NewQueryAdapter(db *sql.DB) *QueryAdapter {
	return &QueryAdapter{db: db}
}

var _ detection.DB = (*QueryAdapter)(nil)

// Query runs query and decodes every row into a column-name-keyed map.
func (a *QueryAdapter) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	ctx, cancel := statementContext(ctx)
	defer cancel()

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		pointers := make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
