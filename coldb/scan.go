package coldb

import (
	"context"
	"fmt"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
	"github.com/ionbus/ionbus-fast-persist/schema"
)

// ScanDated streams every row of storage_data back as Records, used at
// startup to rebuild the dated-mode in-memory cache (spec §4.E, §4.F).
func (g *Gateway) ScanDated(ctx context.Context, reg *schema.Registry) ([]recordmodel.Record, error) {
	rows, err := g.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", DatedTable))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", DatedTable, err)
	}
	defer rows.Close()

	var out []recordmodel.Record
	for rows.Next() {
		row, err := scanRowsGeneric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", DatedTable, err)
		}
		out = append(out, rowToDatedRecord(row, reg))
	}
	return out, rows.Err()
}

// ScanCollection streams every row of table (storage_history or
// storage_latest) back as Records. collectionName, if non-empty,
// restricts the scan to one collection — the lazy-load path (spec §4.F).
func (g *Gateway) ScanCollection(ctx context.Context, table string, reg *schema.Registry, collectionName string) ([]recordmodel.Record, error) {
	query := fmt.Sprintf("SELECT * FROM %s", table)
	args := []any{}
	if collectionName != "" {
		query += " WHERE collection_name = ?"
		args = append(args, collectionName)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	defer rows.Close()

	var out []recordmodel.Record
	for rows.Next() {
		row, err := scanRowsGeneric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, rowToCollectionRecord(row, reg))
	}
	return out, rows.Err()
}

// RebuildLatestFromHistory reads storage_history, keeps only the
// max-version row per (key, collection_name, item_name), and upserts the
// result into storage_latest — spec §4.D/§4.E's "rebuild latest from
// history" operation.
func (g *Gateway) RebuildLatestFromHistory(ctx context.Context, reg *schema.Registry) (int, error) {
	history, err := g.ScanCollection(ctx, HistoryTable, reg, "")
	if err != nil {
		return 0, err
	}

	best := make(map[recordmodel.Identity]recordmodel.Record, len(history))
	for _, rec := range history {
		cur, ok := best[rec.Identity]
		if !ok || rec.Version > cur.Version {
			best[rec.Identity] = rec
		}
	}

	latest := make([]recordmodel.Record, 0, len(best))
	for _, rec := range best {
		latest = append(latest, rec)
	}

	if err := g.UpsertCollectionBatch(ctx, LatestTable, reg, latest); err != nil {
		return 0, fmt.Errorf("materialize latest: %w", err)
	}
	return len(latest), nil
}
