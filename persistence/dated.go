// Package persistence composes every internal collaborator behind the two
// public façades applications import: DatedStore and CollectionStore
// (spec §4.K). It mirrors how the teacher's StorageEngine composes
// WALEngine / CheckpointManager / RecoveryManager / MemoryManager.
package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ionbus/ionbus-fast-persist/coldb"
	"github.com/ionbus/ionbus-fast-persist/events"
	"github.com/ionbus/ionbus-fast-persist/flusher"
	"github.com/ionbus/ionbus-fast-persist/instancelock"
	"github.com/ionbus/ionbus-fast-persist/memcache"
	"github.com/ionbus/ionbus-fast-persist/persisterrors"
	"github.com/ionbus/ionbus-fast-persist/recordmodel"
	"github.com/ionbus/ionbus-fast-persist/schema"
	"github.com/ionbus/ionbus-fast-persist/timeutil"
	"github.com/ionbus/ionbus-fast-persist/walio"
)

const dateLayout = "2006-01-02"

// DatedStore is the per-date dated-mode façade: one WAL+ColDB tree
// isolated under <base_dir>/<date>, records indexed by (key, process_name)
// (spec §2, §4.K).
type DatedStore struct {
	cfg     WALConfig
	dateDir string
	reg     *schema.Registry
	sink    events.Sink

	lock *instancelock.Lock
	wal  *walio.Writer
	gw   *coldb.Gateway

	cache *memcache.DatedCache
	fl    *flusher.Flusher
	sm    *stateMachine

	writeMu sync.Mutex // spec §5 write_lock
	flushMu sync.Mutex // spec §5 flush_lock

	pendingMu sync.Mutex
	pending   []recordmodel.Record

	flushCycles   int64
	lastFlushErr  string
}

// NewDatedStore constructs a DatedStore for date: it resolves the
// date-scoped directory, acquires the instance lock, opens ColDB, runs
// the health probe, replays any existing WAL segments, and populates the
// cache with a full-table scan (spec §4.K construction sequence).
func NewDatedStore(ctx context.Context, date time.Time, opts ...WALOption) (*DatedStore, error) {
	cfg := DefaultWALConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NewStdSink()
	}

	dateDir := filepath.Join(cfg.BaseDir, date.UTC().Format(dateLayout))

	reg, err := schema.New(recordmodel.DatedReservedNames(), cfg.ExtraSchema)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create date directory: %w", err)
	}
	lock, err := instancelock.Acquire(filepath.Join(dateDir, ".lock"))
	if err != nil {
		return nil, err
	}

	s := &DatedStore{
		cfg:     cfg,
		dateDir: dateDir,
		reg:     reg,
		sink:    cfg.Sink,
		lock:    lock,
		cache:   memcache.NewDatedCache(),
		sm:      newStateMachine(),
	}
	s.sm.set(stateRecovering)

	if err := s.open(ctx); err != nil {
		lock.Release()
		return nil, err
	}

	s.fl = flusher.New(
		time.Duration(cfg.DuckDBFlushIntervalSecs)*time.Second,
		s.drainTick,
		s.sink,
		0, 0,
	)
	s.fl.Start()

	s.sm.set(stateReady)
	return s, nil
}

func (s *DatedStore) dbPath() string {
	if filepath.IsAbs(s.cfg.DBPath) {
		events.Warnf(s.sink, "dated", "db_path %q is absolute; date isolation is no longer guaranteed", s.cfg.DBPath)
		return s.cfg.DBPath
	}
	return filepath.Join(s.dateDir, s.cfg.DBPath)
}

func (s *DatedStore) open(ctx context.Context) error {
	wal, err := walio.NewWriter(s.dateDir, s.cfg.MaxWALSize, s.cfg.MaxWALAgeSeconds)
	if err != nil {
		return err
	}
	s.wal = wal

	dbPath := s.dbPath()
	gw, err := coldb.Open(ctx, dbPath, []string{coldb.DatedDDL(s.reg)}, []string{coldb.DatedTable},
		"delete the file and call RebuildHistoryFromWAL-equivalent recovery for dated mode: replay the existing WAL segments")
	if err != nil {
		return err
	}
	s.gw = gw

	for _, rec := range loadCacheSnapshot(s.dateDir) {
		s.cache.Put(rec)
	}

	segments, err := walio.Recover(s.dateDir)
	if err != nil {
		return err
	}
	var toUpsert []recordmodel.Record
	var toDelete []string
	current := s.wal.CurrentPath()
	for _, seg := range segments {
		toUpsert = append(toUpsert, seg.Records...)
		if seg.Path != current {
			toDelete = append(toDelete, seg.Path)
		}
	}
	if len(toUpsert) > 0 {
		if err := s.gw.UpsertDatedBatch(ctx, s.reg, toUpsert); err != nil {
			return fmt.Errorf("replay upsert: %w", err)
		}
		if err := walio.DeleteSegments(toDelete); err != nil {
			events.Warnf(s.sink, "dated", "drained segments not all deleted, will retry next cycle: %v", err)
		}
	}

	rows, err := s.gw.ScanDated(ctx, s.reg)
	if err != nil {
		return err
	}
	for _, rec := range rows {
		s.cache.Put(rec)
	}
	return nil
}

// Store normalizes data's timestamps, lifts special fields, assigns the
// next monotonic version for (key, process_name), appends the record to
// the WAL, and on success updates the cache (spec §4.K store semantics).
func (s *DatedStore) Store(ctx context.Context, key string, data map[string]any, opts ...StoreOption) (recordmodel.Record, error) {
	if !s.sm.isReady() {
		return recordmodel.Record{}, persisterrors.ErrReadOnlyState
	}

	var args storeArgs
	for _, opt := range opts {
		opt(&args)
	}
	if args.processName == "" {
		if p, ok := data["process_name"].(string); ok {
			args.processName = p
		}
	}

	if err := timeutil.NormalizeDataInPlace(data, map[string]struct{}{"timestamp": {}}); err != nil {
		return recordmodel.Record{}, err
	}

	status, statusInt, username, err := recordmodel.LiftSpecialFields(data)
	if err != nil {
		return recordmodel.Record{}, err
	}
	if args.hasUsername {
		username = &args.username
	}

	var timestamp *time.Time
	if args.hasTimestamp {
		t, err := timeutil.Normalize(args.timestamp)
		if err != nil {
			return recordmodel.Record{}, err
		}
		timestamp = &t
	} else if raw, ok := data["timestamp"]; ok && raw != nil {
		t, err := timeutil.Normalize(raw)
		if err != nil {
			return recordmodel.Record{}, err
		}
		timestamp = &t
	}

	identity := recordmodel.Identity{Key: key, ProcessName: args.processName}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	version := int64(1)
	if existing, ok := s.cache.GetKeyProcess(key, args.processName); ok {
		version = existing.Version + 1
	}

	now := time.Now().UTC()
	rec := recordmodel.Record{
		Identity:  identity,
		Data:      data,
		Timestamp: timestamp,
		Status:    status,
		StatusInt: statusInt,
		Username:  username,
		UpdatedAt: now,
		Version:   version,
		Extras:    recordmodel.ExtractExtras(data, s.reg.Names()),
	}

	line, err := walio.Marshal(walio.EntryFromRecord(rec, now))
	if err != nil {
		return recordmodel.Record{}, err
	}
	if _, err := s.wal.Append(line); err != nil {
		return recordmodel.Record{}, err
	}

	s.cache.Put(rec)

	s.pendingMu.Lock()
	s.pending = append(s.pending, rec)
	shouldNotify := len(s.pending) >= s.cfg.BatchSize
	s.pendingMu.Unlock()
	if shouldNotify {
		s.fl.Notify()
	}

	return rec, nil
}

// GetKey returns the process_name -> Record mapping for key.
func (s *DatedStore) GetKey(key string) (map[string]recordmodel.Record, bool) {
	return s.cache.GetKey(key)
}

// GetKeyProcess returns the single record for (key, processName).
func (s *DatedStore) GetKeyProcess(key, processName string) (recordmodel.Record, bool) {
	return s.cache.GetKeyProcess(key, processName)
}

// FlushDataToDuckDB rotates the current segment unconditionally and
// synchronously drains the pending batch into ColDB (spec §6: "rotate
// current segment + signal flusher + wait for drain").
func (s *DatedStore) FlushDataToDuckDB(ctx context.Context) error {
	return s.drainOnce(ctx, true)
}

// drainTick is the flusher's DrainFunc: a periodic tick or batch-size
// Notify() only earns a rotation when the current segment has actually
// crossed its size/age threshold (spec §4.H step 3), unlike the explicit
// FlushDataToDuckDB path which always rotates.
func (s *DatedStore) drainTick(ctx context.Context) error {
	return s.drainOnce(ctx, false)
}

func (s *DatedStore) drainOnce(ctx context.Context, forceRotate bool) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if forceRotate || s.wal.ShouldRotate() {
		if err := s.wal.Rotate(); err != nil {
			return err
		}
	}
	newCurrent := s.wal.CurrentPath()

	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	segments, err := walio.ListSegments(s.dateDir)
	if err != nil {
		return err
	}
	var drained []string
	for _, seg := range segments {
		if seg != newCurrent {
			drained = append(drained, seg)
		}
	}

	if len(batch) > 0 {
		if err := s.gw.UpsertDatedBatch(ctx, s.reg, batch); err != nil {
			s.lastFlushErr = err.Error()
			s.pendingMu.Lock()
			s.pending = append(batch, s.pending...)
			s.pendingMu.Unlock()
			return err
		}
	}

	if err := walio.DeleteSegments(drained); err != nil {
		events.Warnf(s.sink, "dated", "drained segments not all deleted, will retry next cycle: %v", err)
	}

	s.flushCycles++
	s.lastFlushErr = ""

	if snap, ok := s.snapshotSource(ctx); ok {
		if err := saveCacheSnapshot(s.dateDir, snap); err != nil {
			events.Debugf(s.sink, "dated", "cache snapshot write skipped: %v", err)
		}
	}

	return nil
}

func (s *DatedStore) snapshotSource(ctx context.Context) ([]recordmodel.Record, bool) {
	rows, err := s.gw.ScanDated(ctx, s.reg)
	if err != nil {
		return nil, false
	}
	return rows, true
}

// ExportToParquet writes storage_data out as a hive-partitioned Parquet
// tree at path (or cfg.ParquetPath if path is empty), after draining to
// quiescence (spec §6).
func (s *DatedStore) ExportToParquet(ctx context.Context, path string) (string, error) {
	if path == "" {
		path = s.cfg.ParquetPath
	}
	if path == "" {
		return "", persisterrors.ErrExportPathMissing
	}
	if err := s.drainOnce(ctx, true); err != nil {
		return "", err
	}
	if err := s.gw.ExportParquet(ctx, s.reg, path); err != nil {
		return "", err
	}
	return path, nil
}

// GetStats returns the stats object spec §6 documents, plus this module's
// two non-binding operational counters.
func (s *DatedStore) GetStats() Stats {
	s.pendingMu.Lock()
	pending := len(s.pending)
	s.pendingMu.Unlock()

	segCount, _ := s.wal.SegmentCount()

	return Stats{
		CacheSize:       s.cache.Len(),
		PendingWrites:   pending,
		CurrentWALSize:  s.wal.CurrentSize(),
		CurrentWALCount: s.wal.CurrentEntryCount(),
		WALFilesCount:   segCount,
		WALSequence:     s.wal.CurrentSequence(),
		FlushCyclesRun:  s.flushCycles,
		LastFlushError:  s.lastFlushErr,
	}
}

// Close drains to quiescence, stops the flusher, closes ColDB and the
// WAL writer, and releases the instance lock. Idempotent past Closed
// (spec §4.K state machine).
func (s *DatedStore) Close(ctx context.Context) error {
	if s.sm.get() == stateClosed {
		return nil
	}
	s.sm.set(stateClosing)

	s.fl.Stop()

	if err := s.drainOnce(ctx, true); err != nil {
		events.Warnf(s.sink, "dated", "final drain on close failed: %v", err)
	}

	if cfg := s.cfg.ParquetPath; cfg != "" {
		if err := s.gw.ExportParquet(ctx, s.reg, cfg); err != nil {
			events.Warnf(s.sink, "dated", "automatic parquet export on close failed: %v", err)
		}
	}

	if err := s.gw.Close(); err != nil {
		events.Warnf(s.sink, "dated", "coldb close failed: %v", err)
	}
	if err := s.wal.Close(); err != nil {
		events.Warnf(s.sink, "dated", "wal close failed: %v", err)
	}
	if err := s.lock.Release(); err != nil {
		events.Warnf(s.sink, "dated", "lock release failed: %v", err)
	}

	s.sm.set(stateClosed)
	return nil
}
