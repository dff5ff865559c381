package coldb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ionbus/ionbus-fast-persist/schema"
)

// CopyFile performs the byte-for-byte snapshot spec §4.E describes:
// called once the orchestrator has quiesced the flusher and closed the
// ColDB handle, so no writer can be mid-write during the copy.
func CopyFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mkdir dest: %w", err)
	}

	tmp := destPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dest: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync dest: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close dest: %w", err)
	}
	return os.Rename(tmp, destPath)
}

// ExportParquet writes storage_data out as a hive-partitioned Parquet
// tree rooted at destRoot, partitioned by process_name and the calendar
// date of updated_at, via DuckDB's native COPY ... (FORMAT PARQUET,
// PARTITION_BY ...) — no separate Arrow/Parquet library needed (spec §6).
func (g *Gateway) ExportParquet(ctx context.Context, reg *schema.Registry, destRoot string) error {
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return fmt.Errorf("mkdir export root: %w", err)
	}

	cols := []string{
		"key", "process_name",
		"strftime(updated_at, '%Y-%m-%d') AS date",
		"data", "timestamp", "status", "status_int", "username", "updated_at", "version",
	}
	for _, name := range reg.Names() {
		cols = append(cols, name)
	}

	query := fmt.Sprintf("COPY (SELECT %s FROM %s) TO '%s' (FORMAT PARQUET, PARTITION_BY (process_name, date), OVERWRITE_OR_IGNORE true)",
		strings.Join(cols, ", "), DatedTable, destRoot)

	if _, err := g.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("copy to parquet: %w", err)
	}
	return nil
}
