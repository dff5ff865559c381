package walio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

// RecoveredSegment is one segment's replay result: the records it
// contributed (after intra-segment identity collisions resolve
// last-writer-wins) and the path, so the caller can delete it once its
// records are durably upserted.
type RecoveredSegment struct {
	Path    string
	Records []recordmodel.Record
}

// Recover enumerates dir's segments in numeric order and replays each
// line into a recovered-record stream, per spec §4.D. Identity collisions
// are resolved last-writer-wins across the whole directory: a record
// appearing again later (in the same segment or in a later one) is
// reported only once, carrying its last line's values, and is attributed
// to the segment holding that line for deletion bookkeeping.
//
// A torn tail — a final line that is not valid, newline-terminated JSON —
// is dropped silently; every earlier line in that segment is kept.
func Recover(dir string) ([]RecoveredSegment, error) {
	paths, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}

	type linePos struct{ seg, idx int }
	bySegment := make([]RecoveredSegment, len(paths))
	latest := make(map[recordmodel.Identity]linePos) // identity -> position of its last line

	for i, path := range paths {
		bySegment[i] = RecoveredSegment{Path: path}
		entries, err := readSegment(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			rec := e.ToRecord()
			latest[rec.Identity] = linePos{seg: i, idx: len(bySegment[i].Records)}
			bySegment[i].Records = append(bySegment[i].Records, rec)
		}
	}

	// Drop any record whose identity was overwritten by a later line,
	// leaving each identity attributed to exactly the segment that should
	// be credited with (and whose deletion is gated on) its final value.
	for i := range bySegment {
		kept := bySegment[i].Records[:0]
		for j, rec := range bySegment[i].Records {
			if latest[rec.Identity] == (linePos{seg: i, idx: j}) {
				kept = append(kept, rec)
			}
		}
		bySegment[i].Records = kept
	}

	return bySegment, nil
}

// readSegment parses dir's JSON lines one at a time, dropping a torn
// (non-JSON, non-terminated) final line without failing the whole
// segment.
func readSegment(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, persisterrors.NewWalIOError(path, fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Torn tail: stop here, keep everything read so far.
			break
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, persisterrors.NewWalIOError(path, fmt.Errorf("scan: %w", err))
	}
	return entries, nil
}

// DeleteSegments removes the given segment paths after their records have
// been durably upserted into ColDB. Deletion failures are returned but are
// expected to be treated as non-fatal by the caller (spec §4.D: a failed
// deletion is corrected by idempotent re-replay on the next run).
func DeleteSegments(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return persisterrors.NewWalIOError(p, fmt.Errorf("remove: %w", err))
		}
	}
	return nil
}
