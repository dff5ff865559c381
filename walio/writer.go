package walio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
)

var segmentNameRE = regexp.MustCompile(`^wal_(\d{6})\.jsonl$`)

// segment tracks one open WAL file: its sequence number, handle, and the
// bookkeeping needed to decide when it has earned rotation.
type segment struct {
	seq      int
	path     string
	file     *os.File
	size     int64
	entries  int
	openedAt time.Time
}

// Writer owns one WAL directory and the single segment currently open for
// append within it. Only a Writer may hold a writable handle into its
// directory (spec §4.B: "WAL directory and current segment: owned by
// WalWriter; only it may open a writable handle").
type Writer struct {
	mu  sync.Mutex
	dir string

	maxSize    int64
	maxAgeSecs int64

	cur *segment
}

// NewWriter opens dir (creating it if absent) and resumes sequence
// numbering at one past the highest existing segment, per spec §4.C.
func NewWriter(dir string, maxWalSize int64, maxWalAgeSeconds int64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persisterrors.NewWalIOError(dir, fmt.Errorf("mkdir: %w", err))
	}

	nextSeq, err := nextSequence(dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:        dir,
		maxSize:    maxWalSize,
		maxAgeSecs: maxWalAgeSeconds,
	}
	if err := w.openSegment(nextSeq); err != nil {
		return nil, err
	}
	return w, nil
}

func nextSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, persisterrors.NewWalIOError(dir, fmt.Errorf("readdir: %w", err))
	}
	max := 0
	for _, e := range entries {
		m := segmentNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

func segmentName(seq int) string {
	return fmt.Sprintf("wal_%06d.jsonl", seq)
}

func (w *Writer) openSegment(seq int) error {
	path := filepath.Join(w.dir, segmentName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return persisterrors.NewWalIOError(path, fmt.Errorf("open: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return persisterrors.NewWalIOError(path, fmt.Errorf("stat: %w", err))
	}
	w.cur = &segment{seq: seq, path: path, file: f, size: info.Size(), openedAt: time.Now()}
	fsyncDir(w.dir)
	return nil
}

// Append writes line (already newline-terminated) to the current segment
// and fsyncs before returning — the durability contract of spec §4.B: a
// record is durable once write+fsync of its WAL line has completed.
// Append rotates beforehand if the current segment has already crossed a
// size or age threshold, so the line being appended always lands in a
// segment still within budget.
func (w *Writer) Append(line []byte) (segmentPath string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.shouldRotateLocked() {
		if err := w.rotateLocked(); err != nil {
			return "", err
		}
	}

	n, err := w.cur.file.Write(line)
	if err != nil {
		return "", persisterrors.NewWalIOError(w.cur.path, fmt.Errorf("write: %w", err))
	}
	if err := w.cur.file.Sync(); err != nil {
		return "", persisterrors.NewWalIOError(w.cur.path, fmt.Errorf("fsync: %w", err))
	}
	w.cur.size += int64(n)
	w.cur.entries++
	return w.cur.path, nil
}

func (w *Writer) shouldRotateLocked() bool {
	if w.cur == nil {
		return false
	}
	if w.maxSize > 0 && w.cur.size >= w.maxSize {
		return true
	}
	if w.maxAgeSecs > 0 && time.Since(w.cur.openedAt) >= time.Duration(w.maxAgeSecs)*time.Second {
		return true
	}
	return false
}

// ShouldRotate reports whether the segment currently open for append has
// already crossed its configured size or age threshold. The background
// flusher uses this to decide whether a periodic tick earns a rotation;
// an explicit flush_data_to_duckdb call rotates unconditionally instead.
func (w *Writer) ShouldRotate() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shouldRotateLocked()
}

// Rotate closes the current segment and opens the next one, fsyncing both
// the closed segment and (where supported) the directory entry. Exported
// so the flusher can force rotation ahead of a flush cycle.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *Writer) rotateLocked() error {
	if w.cur != nil {
		if err := w.cur.file.Sync(); err != nil {
			return persisterrors.NewWalIOError(w.cur.path, fmt.Errorf("fsync: %w", err))
		}
		if err := w.cur.file.Close(); err != nil {
			return persisterrors.NewWalIOError(w.cur.path, fmt.Errorf("close: %w", err))
		}
		fsyncDir(w.dir)
	}
	nextSeq := 1
	if w.cur != nil {
		nextSeq = w.cur.seq + 1
	}
	return w.openSegment(nextSeq)
}

// CurrentPath returns the path of the segment currently open for append.
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return ""
	}
	return w.cur.path
}

// CurrentSize returns the current segment's observed byte size.
func (w *Writer) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return 0
	}
	return w.cur.size
}

// CurrentEntryCount returns how many lines have been appended to the
// current segment since it was opened.
func (w *Writer) CurrentEntryCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return 0
	}
	return w.cur.entries
}

// CurrentSequence returns the sequence number of the segment currently
// open for append.
func (w *Writer) CurrentSequence() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return 0
	}
	return w.cur.seq
}

// SegmentCount returns how many wal_*.jsonl segments currently sit in the
// directory, open or closed.
func (w *Writer) SegmentCount() (int, error) {
	files, err := filepath.Glob(filepath.Join(w.dir, "wal_*.jsonl"))
	if err != nil {
		return 0, persisterrors.NewWalIOError(w.dir, fmt.Errorf("glob: %w", err))
	}
	return len(files), nil
}

// Close closes the current segment handle. The segment file itself is
// left on disk for recovery or eventual deletion by the flusher.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	err := w.cur.file.Close()
	w.cur = nil
	if err != nil {
		return persisterrors.NewWalIOError(w.dir, fmt.Errorf("close: %w", err))
	}
	return nil
}

// fsyncDir best-effort fsyncs a directory so a new/rotated segment's
// directory entry survives a crash on platforms that support it (spec
// §4.B property 6); failure here is not fatal.
func fsyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// ListSegments returns the wal_*.jsonl paths in dir, sorted by ascending
// sequence number.
func ListSegments(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "wal_*.jsonl"))
	if err != nil {
		return nil, persisterrors.NewWalIOError(dir, fmt.Errorf("glob: %w", err))
	}
	sort.Strings(files)
	return files, nil
}
