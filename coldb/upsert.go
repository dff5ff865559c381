package coldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
	"github.com/ionbus/ionbus-fast-persist/schema"
)

// UpsertDatedBatch upserts records into storage_data within a single
// transaction, keyed on (key, process_name). Spec §4.E's "insert ... on
// conflict replace" becomes DuckDB's ON CONFLICT DO UPDATE form; the
// transaction commits atomically, or the whole batch rolls back pending a
// retry (spec §4.H step 6).
func (g *Gateway) UpsertDatedBatch(ctx context.Context, reg *schema.Registry, records []recordmodel.Record) error {
	return g.upsertBatch(ctx, DatedTable, datedColumns(reg), []string{"key", "process_name"}, records, func(r recordmodel.Record) ([]any, error) {
		return datedRowValues(r, reg)
	})
}

// UpsertCollectionBatch upserts records into table (storage_history or
// storage_latest) within a single transaction, keyed on
// (key, collection_name, item_name).
func (g *Gateway) UpsertCollectionBatch(ctx context.Context, table string, reg *schema.Registry, records []recordmodel.Record) error {
	return g.upsertBatch(ctx, table, collectionColumns(reg), []string{"key", "collection_name", "item_name"}, records, func(r recordmodel.Record) ([]any, error) {
		return collectionRowValues(r, reg)
	})
}

func (g *Gateway) upsertBatch(ctx context.Context, table string, columns []string, keyCols []string, records []recordmodel.Record, rowValues func(recordmodel.Record) ([]any, error)) error {
	if len(records) == 0 {
		return nil
	}

	stmtSQL := upsertSQL(table, columns, keyCols)

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		values, err := rowValues(rec)
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("upsert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertSQL(table string, columns []string, keyCols []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}

	isKey := make(map[string]struct{}, len(keyCols))
	for _, k := range keyCols {
		isKey[k] = struct{}{}
	}
	var setClauses []string
	for _, c := range columns {
		if _, ok := isKey[c]; ok {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keyCols, ", "),
		strings.Join(setClauses, ", "),
	)
}
