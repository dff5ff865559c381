package walio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

func appendRecord(t *testing.T, w *Writer, key string, version int64) {
	t.Helper()
	rec := recordmodel.Record{
		Identity: recordmodel.Identity{Key: key, ProcessName: "ingest"},
		Data:     map[string]any{"n": version},
		Version:  version,
	}
	line, err := Marshal(EntryFromRecord(rec, time.Now()))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := w.Append(line); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestWriterSegmentNaming(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1<<20, 300)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if got := filepath.Base(w.CurrentPath()); got != "wal_000001.jsonl" {
		t.Fatalf("expected first segment wal_000001.jsonl, got %s", got)
	}
}

func TestWriterResumesSequenceOnReopen(t *testing.T) {
	dir := t.TempDir()
	w1, err := NewWriter(dir, 1<<20, 300)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	appendRecord(t, w1, "a", 1)
	if err := w1.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	appendRecord(t, w1, "b", 1)
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := NewWriter(dir, 1<<20, 300)
	if err != nil {
		t.Fatalf("NewWriter (reopen): %v", err)
	}
	defer w2.Close()

	if got := filepath.Base(w2.CurrentPath()); got != "wal_000003.jsonl" {
		t.Fatalf("expected resumed sequence wal_000003.jsonl, got %s", got)
	}
}

func TestWriterRotatesOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 64, 300) // tiny size budget forces rotation
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 10; i++ {
		appendRecord(t, w, "k", int64(i+1))
	}

	segs, err := w.SegmentCount()
	if err != nil {
		t.Fatalf("SegmentCount: %v", err)
	}
	if segs < 2 {
		t.Fatalf("expected rotation to have produced multiple segments, got %d", segs)
	}
}

func TestWriterRotatesOnAgeThreshold(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1<<20, 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	appendRecord(t, w, "k", 1)
	first := w.CurrentPath()

	w.cur.openedAt = time.Now().Add(-time.Hour) // simulate an aged-out segment

	appendRecord(t, w, "k", 2)
	second := w.CurrentPath()
	if first == second {
		t.Fatalf("expected the aged-out segment to rotate on the next append")
	}
}

func TestRecoverAppliesLastWriterWinsAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1<<20, 300)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	appendRecord(t, w, "dup", 1)
	if err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	appendRecord(t, w, "dup", 2)
	appendRecord(t, w, "other", 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	segments, err := Recover(dir)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	var total int
	var sawVersion2 bool
	for _, seg := range segments {
		for _, rec := range seg.Records {
			total++
			if rec.Identity.Key == "dup" {
				if rec.Version != 2 {
					t.Fatalf("expected last-writer-wins version 2, got %d", rec.Version)
				}
				sawVersion2 = true
			}
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 surviving records (dup collapsed, other kept), got %d", total)
	}
	if !sawVersion2 {
		t.Fatalf("expected the duplicated identity to survive with its later version")
	}
}

func TestRecoverDropsTornTailLine(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1<<20, 300)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	appendRecord(t, w, "good", 1)
	path := w.CurrentPath()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"op":"put","key":"torn"`); err != nil { // no closing brace, no newline
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	segments, err := Recover(dir)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(segments) != 1 || len(segments[0].Records) != 1 {
		t.Fatalf("expected exactly the one complete record to survive, got %+v", segments)
	}
	if segments[0].Records[0].Identity.Key != "good" {
		t.Fatalf("expected surviving record to be %q, got %q", "good", segments[0].Records[0].Identity.Key)
	}
}

func TestDeleteSegmentsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1<<20, 300)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	appendRecord(t, w, "a", 1)
	path := w.CurrentPath()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := DeleteSegments([]string{path}); err != nil {
		t.Fatalf("DeleteSegments: %v", err)
	}
	// Deleting an already-gone segment must not error (spec §4.D retry path).
	if err := DeleteSegments([]string{path}); err != nil {
		t.Fatalf("DeleteSegments (repeat): %v", err)
	}
}
