package coldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
	"github.com/ionbus/ionbus-fast-persist/schema"
)

func openDatedGateway(t *testing.T, reg *schema.Registry) *Gateway {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage_data.duckdb")
	g, err := Open(context.Background(), path, []string{DatedDDL(reg)}, []string{DatedTable}, "recreate the file")
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestUpsertDatedBatchInsertAndUpdate(t *testing.T) {
	reg, err := schema.New(recordmodel.DatedReservedNames(), nil)
	require.NoError(t, err)
	g := openDatedGateway(t, reg)
	ctx := context.Background()

	rec := recordmodel.Record{
		Identity:  recordmodel.Identity{Key: "job-1", ProcessName: "ingest"},
		Data:      map[string]any{"attempt": 1},
		UpdatedAt: time.Now().UTC(),
		Version:   1,
	}
	require.NoError(t, g.UpsertDatedBatch(ctx, reg, []recordmodel.Record{rec}))

	rows, err := g.ScanDated(ctx, reg)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Version)

	rec.Data = map[string]any{"attempt": 2}
	rec.Version = 2
	require.NoError(t, g.UpsertDatedBatch(ctx, reg, []recordmodel.Record{rec}))

	rows, err = g.ScanDated(ctx, reg)
	require.NoError(t, err)
	require.Len(t, rows, 1, "same identity must replace, not append")
	require.Equal(t, int64(2), rows[0].Version)
}

func TestRebuildLatestFromHistoryKeepsMaxVersion(t *testing.T) {
	reg, err := schema.New(recordmodel.CollectionReservedNames(), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "storage_collection.duckdb")
	g, err := Open(context.Background(),
		path,
		[]string{CollectionDDL(HistoryTable, reg), CollectionDDL(LatestTable, reg)},
		[]string{HistoryTable, LatestTable},
		"rebuild from WAL",
	)
	require.NoError(t, err)
	defer g.Close()
	ctx := context.Background()

	identity := recordmodel.Identity{Key: "widget", CollectionName: "inventory", ItemName: "count"}
	older := recordmodel.Record{Identity: identity, Value: recordmodel.ValueOf(int64(3)), UpdatedAt: time.Now().UTC(), Version: 1}
	newer := recordmodel.Record{Identity: identity, Value: recordmodel.ValueOf(int64(5)), UpdatedAt: time.Now().UTC(), Version: 2}
	require.NoError(t, g.UpsertCollectionBatch(ctx, HistoryTable, reg, []recordmodel.Record{older, newer}))

	n, err := g.RebuildLatestFromHistory(ctx, reg)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	latest, err := g.ScanCollection(ctx, LatestTable, reg, "")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, int64(2), latest[0].Version)
	require.Equal(t, int64(5), latest[0].Value.Int)
}

func TestExtraSchemaColumnRoundTrips(t *testing.T) {
	reg, err := schema.New(recordmodel.DatedReservedNames(), map[string]string{"region": "string"})
	require.NoError(t, err)
	g := openDatedGateway(t, reg)
	ctx := context.Background()

	rec := recordmodel.Record{
		Identity:  recordmodel.Identity{Key: "job-2", ProcessName: "ingest"},
		Data:      map[string]any{},
		UpdatedAt: time.Now().UTC(),
		Version:   1,
		Extras:    map[string]any{"region": "us-east"},
	}
	require.NoError(t, g.UpsertDatedBatch(ctx, reg, []recordmodel.Record{rec}))

	rows, err := g.ScanDated(ctx, reg)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "us-east", rows[0].Extras["region"])
}
