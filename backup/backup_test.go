package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotAndPruneCopiesAndKeepsWindow(t *testing.T) {
	base := t.TempDir()
	history := filepath.Join(t.TempDir(), "storage_history.duckdb")
	latest := filepath.Join(t.TempDir(), "storage_latest.duckdb")
	require.NoError(t, os.WriteFile(history, []byte("history-bytes"), 0o644))
	require.NoError(t, os.WriteFile(latest, []byte("latest-bytes"), 0o644))

	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	for i := 6; i >= 1; i-- {
		old := today.AddDate(0, 0, -i)
		require.NoError(t, os.MkdirAll(filepath.Join(base, old.Format(dateLayout)), 0o755))
	}

	require.NoError(t, SnapshotAndPrune(base, history, latest, today, 5))

	historyBackup := filepath.Join(base, today.Format(dateLayout), "storage_history.duckdb.backup")
	gotHistory, err := os.ReadFile(historyBackup)
	require.NoError(t, err)
	require.Equal(t, "history-bytes", string(gotHistory))

	kept, err := RetainedDates(base, today, 5)
	require.NoError(t, err)
	require.Len(t, kept, 5, "today plus the previous 4 days must survive")

	oldestKept := today.AddDate(0, 0, -4).Format(dateLayout)
	require.Contains(t, kept, oldestKept)

	prunedDay := today.AddDate(0, 0, -5).Format(dateLayout)
	require.NoDirExists(t, filepath.Join(base, prunedDay))
}

func TestPruneRetainDaysZeroKeepsEverything(t *testing.T) {
	base := t.TempDir()
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(dateLayout)
	require.NoError(t, os.MkdirAll(filepath.Join(base, day), 0o755))

	require.NoError(t, prune(base, time.Now(), 0))
	require.DirExists(t, filepath.Join(base, day))
}
