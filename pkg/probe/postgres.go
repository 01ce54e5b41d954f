package probe

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver

	"github.com/quayside/workorder/pkg/engine"
)

// PostgresProbe queries a Postgres replica directly. Deployments without an
// MCP data service in front of the database use this probe; the read-only
// guard applies either way.
type PostgresProbe struct {
	db *sql.DB
}

// NewPostgresProbe opens a connection pool and verifies connectivity.
func NewPostgresProbe(ctx context.Context, dsn string) (*PostgresProbe, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("probe: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("probe: ping postgres: %w", err)
	}
	return &PostgresProbe{db: db}, nil
}

// Close releases the connection pool.
func (p *PostgresProbe) Close() error { return p.db.Close() }

// Query runs one SELECT and materializes the full result set.
func (p *PostgresProbe) Query(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	if err := EnsureReadOnly(sqlText); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("probe: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("probe: columns: %w", err)
	}
	out := &engine.QueryResult{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("probe: scan: %w", err)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("probe: iterate rows: %w", err)
	}
	out.RowCount = len(out.Rows)
	return out, nil
}
