// Package coldb wraps the embedded DuckDB file that backs both storage
// modes: DDL, integrity probe, batched upsert, full-table scan, latest
// materialization, snapshot, and Parquet export (spec §4.E).
package coldb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
)

// Gateway owns one DuckDB file and every table in it. Mirrors the
// teacher's thin-repo-over-*sql.DB shape (pkg/storage's use of a single
// handle guarded by the orchestrator's flush lock), generalized to the
// dated/collection table sets instead of a fixed schema.
type Gateway struct {
	db   *sql.DB
	path string
}

// Open creates or reopens the DuckDB file at path, runs ddlStatements in
// order, then probes tables for readability. A probe failure is wrapped
// as persisterrors.DbCorrupt naming recovery so the caller can decide
// mode-specific remediation (spec §7).
func Open(ctx context.Context, path string, ddlStatements []string, tables []string, recovery string) (*Gateway, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, persisterrors.NewDbCorruptError(path, recovery, fmt.Errorf("open: %w", err))
	}

	for _, stmt := range ddlStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, persisterrors.NewDbCorruptError(path, recovery, fmt.Errorf("ddl: %w", err))
		}
	}

	g := &Gateway{db: db, path: path}
	if err := g.Probe(ctx, tables); err != nil {
		db.Close()
		return nil, persisterrors.NewDbCorruptError(path, recovery, err)
	}
	return g, nil
}

// Probe runs a trivial read against every named table, the integrity
// check spec §4.E calls for on open.
func (g *Gateway) Probe(ctx context.Context, tables []string) error {
	for _, table := range tables {
		var n int64
		row := g.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table))
		if err := row.Scan(&n); err != nil {
			return fmt.Errorf("probe %s: %w", table, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for callers that need raw SQL access
// (Parquet export's COPY statement in particular).
func (g *Gateway) DB() *sql.DB { return g.db }

// Path returns the file path this gateway opened.
func (g *Gateway) Path() string { return g.path }

// Close closes the underlying DuckDB handle.
func (g *Gateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}
