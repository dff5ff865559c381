// Package backup implements collection mode's close-time snapshot and
// retention sweep (spec §4.J): copy storage_history/storage_latest into
// today's date directory, then prune date directories older than the
// retention window.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/ionbus/ionbus-fast-persist/coldb"
)

var dateDirRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const dateLayout = "2006-01-02"

// SnapshotAndPrune copies historyPath/latestPath into
// <baseDir>/<today>/storage_history.duckdb.backup and
// .../storage_latest.duckdb.backup, then removes any sibling date
// directory under baseDir whose date is strictly before
// today - (retainDays - 1) days (spec §4.J, §8 property 9).
//
// Callers must have already quiesced the flusher and closed the ColDB
// handle — this is a plain byte-for-byte file copy, not a live export.
func SnapshotAndPrune(baseDir string, historyPath, latestPath string, today time.Time, retainDays int) error {
	today = today.UTC()
	dateDir := filepath.Join(baseDir, today.Format(dateLayout))

	if err := coldb.CopyFile(historyPath, filepath.Join(dateDir, filepath.Base(historyPath)+".backup")); err != nil {
		return fmt.Errorf("backup history: %w", err)
	}
	if err := coldb.CopyFile(latestPath, filepath.Join(dateDir, filepath.Base(latestPath)+".backup")); err != nil {
		return fmt.Errorf("backup latest: %w", err)
	}

	return prune(baseDir, today, retainDays)
}

// prune removes date directories older than today - (retainDays - 1).
// today itself and the previous retainDays-1 days are kept (spec §4.J).
func prune(baseDir string, today time.Time, retainDays int) error {
	if retainDays <= 0 {
		return nil
	}
	y, mo, day := today.UTC().Date()
	cutoff := time.Date(y, mo, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retainDays - 1))

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("list base dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() || !dateDirRE.MatchString(e.Name()) {
			continue
		}
		d, err := time.Parse(dateLayout, e.Name())
		if err != nil {
			continue
		}
		if d.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(baseDir, e.Name())); err != nil {
				return fmt.Errorf("prune %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// RetainedDates returns the date directories under baseDir that survive a
// prune with the given parameters, sorted ascending. Exposed for tests
// and operator tooling; pruning itself never needs this list.
func RetainedDates(baseDir string, today time.Time, retainDays int) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	y, mo, day := today.UTC().Date()
	cutoff := time.Date(y, mo, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retainDays - 1))

	var kept []string
	for _, e := range entries {
		if !e.IsDir() || !dateDirRE.MatchString(e.Name()) {
			continue
		}
		d, err := time.Parse(dateLayout, e.Name())
		if err != nil {
			continue
		}
		if !d.Before(cutoff) {
			kept = append(kept, e.Name())
		}
	}
	sort.Strings(kept)
	return kept, nil
}
