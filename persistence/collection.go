package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ionbus/ionbus-fast-persist/backup"
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

// CollectionStore is the global-history/global-latest façade: one
// history/latest ColDB pair shared across every date, records indexed by
// (key, collection_name, item_name), WAL segments organized under a
// per-date subdirectory of baseDir (spec §2, §4.K).
type CollectionStore struct {
	cfg     CollectionConfig
	baseDir string
	today   time.Time
	reg     *schema.Registry
	sink    events.Sink

	lock        *instancelock.Lock
	wal         *walio.Writer
	historyGW   *coldb.Gateway
	latestGW    *coldb.Gateway

	cache     *memcache.CollectionCache
	changes   *memcache.ChangeTracker
	fl        *flusher.Flusher
	sm        *stateMachine

	writeMu sync.Mutex
	flushMu sync.Mutex

	pendingMu sync.Mutex
	pending   []recordmodel.Record

	flushCycles  int64
	lastFlushErr string
}

func (s *CollectionStore) historyPath() string {
	return filepath.Join(s.baseDir, "storage_history.duckdb")
}

func (s *CollectionStore) latestPath() string {
	return filepath.Join(s.baseDir, "storage_latest.duckdb")
}

func (s *CollectionStore) walDir(date time.Time) string {
	return filepath.Join(s.baseDir, date.UTC().Format(dateLayout))
}

// NewCollectionStore constructs a CollectionStore scoped to today: it
// acquires the date-stamped instance lock, opens the shared history/latest
// ColDB pair, replays today's WAL subdirectory, and starts the flusher.
// Collections are not scanned at startup — they load lazily on first miss
// (spec §4.K).
func NewCollectionStore(ctx context.Context, today time.Time, opts ...CollectionOption) (*CollectionStore, error) {
	cfg := DefaultCollectionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NewStdSink()
	}

	today = today.UTC()

	reg, err := schema.New(recordmodel.CollectionReservedNames(), cfg.ExtraSchema)
	if err != nil {
		return nil, err
	}

	lockPath := filepath.Join(cfg.BaseDir, fmt.Sprintf(".lock_%s", today.Format(dateLayout)))
	lock, err := instancelock.Acquire(lockPath)
	if err != nil {
		return nil, err
	}

	s := &CollectionStore{
		cfg:     cfg,
		baseDir: cfg.BaseDir,
		today:   today,
		reg:     reg,
		sink:    cfg.Sink,
		lock:    lock,
		cache:   memcache.NewCollectionCache(),
		changes: memcache.NewChangeTracker(),
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

func (s *CollectionStore) open(ctx context.Context) error {
	recovery := "delete the file, call RebuildHistoryFromWAL for every affected date, then RebuildLatestFromHistory"

	historyGW, err := coldb.Open(ctx, s.historyPath(), []string{coldb.CollectionDDL(coldb.HistoryTable, s.reg)}, []string{coldb.HistoryTable}, recovery)
	if err != nil {
		return err
	}
	s.historyGW = historyGW

	latestGW, err := coldb.Open(ctx, s.latestPath(), []string{coldb.CollectionDDL(coldb.LatestTable, s.reg)}, []string{coldb.LatestTable}, recovery)
	if err != nil {
		historyGW.Close()
		return err
	}
	s.latestGW = latestGW

	wal, err := walio.NewWriter(s.walDir(s.today), s.cfg.MaxWALSize, s.cfg.MaxWALAgeSeconds)
	if err != nil {
		return err
	}
	s.wal = wal

	n, err := s.replayWALDir(ctx, s.walDir(s.today))
	if err != nil {
		return err
	}
	if n > 0 {
		events.Infof(s.sink, "collection", "replayed %d records from today's WAL on startup", n)
	}
	return nil
}

// replayWALDir recovers and upserts every segment in dir into
// storage_history, then deletes the drained segments. Shared by
// construction-time recovery and RebuildHistoryFromWAL.
func (s *CollectionStore) replayWALDir(ctx context.Context, dir string) (int, error) {
	segments, err := walio.Recover(dir)
	if err != nil {
		return 0, err
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
	if len(toUpsert) == 0 {
		return 0, nil
	}

	if err := s.historyGW.UpsertCollectionBatch(ctx, coldb.HistoryTable, s.reg, toUpsert); err != nil {
		return 0, fmt.Errorf("replay upsert: %w", err)
	}
	for _, rec := range toUpsert {
		s.changes.Mark(rec.Identity)
	}
	if err := walio.DeleteSegments(toDelete); err != nil {
		events.Warnf(s.sink, "collection", "drained segments not all deleted, will retry next cycle: %v", err)
	}
	return len(toUpsert), nil
}

// RebuildHistoryFromWAL replays the WAL subdirectory for date into
// storage_history — recovery path for a date whose WAL was never fully
// drained (spec §7 DbCorrupt recovery, §6 operations list).
func (s *CollectionStore) RebuildHistoryFromWAL(ctx context.Context, date time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.replayWALDir(ctx, s.walDir(date))
}

// RebuildLatestFromHistory recomputes storage_latest from storage_history,
// keeping the max-version row per identity (spec §4.D/§4.E).
func (s *CollectionStore) RebuildLatestFromHistory(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	// historyGW and latestGW are separate files, so coldb.Gateway's own
	// single-file RebuildLatestFromHistory (history and latest in the same
	// database) does not apply here; scan history and upsert into latestGW
	// directly instead.
	return s.materializeLatest(ctx)
}

// materializeLatest rebuilds storage_latest from the whole of
// storage_history, keeping the max-version row per identity (the full
// variant RebuildLatestFromHistory exposes).
func (s *CollectionStore) materializeLatest(ctx context.Context) (int, error) {
	history, err := s.historyGW.ScanCollection(ctx, coldb.HistoryTable, s.reg, "")
	if err != nil {
		return 0, err
	}
	best := bestVersionByIdentity(history, nil)
	return s.upsertLatest(ctx, best)
}

// materializeLatestForIdentities refreshes storage_latest for exactly the
// identities ChangeTracker saw touched this session (spec §4.G: consumed
// under the flush lock, cleared after successful upsert), instead of
// rescanning and rewriting every identity on every close.
func (s *CollectionStore) materializeLatestForIdentities(ctx context.Context, touched []recordmodel.Identity) (int, error) {
	if len(touched) == 0 {
		return 0, nil
	}
	want := make(map[recordmodel.Identity]struct{}, len(touched))
	for _, id := range touched {
		want[id] = struct{}{}
	}
	history, err := s.historyGW.ScanCollection(ctx, coldb.HistoryTable, s.reg, "")
	if err != nil {
		return 0, err
	}
	best := bestVersionByIdentity(history, want)
	return s.upsertLatest(ctx, best)
}

func bestVersionByIdentity(history []recordmodel.Record, want map[recordmodel.Identity]struct{}) map[recordmodel.Identity]recordmodel.Record {
	best := make(map[recordmodel.Identity]recordmodel.Record)
	for _, rec := range history {
		if want != nil {
			if _, ok := want[rec.Identity]; !ok {
				continue
			}
		}
		cur, ok := best[rec.Identity]
		if !ok || rec.Version > cur.Version {
			best[rec.Identity] = rec
		}
	}
	return best
}

func (s *CollectionStore) upsertLatest(ctx context.Context, best map[recordmodel.Identity]recordmodel.Record) (int, error) {
	latest := make([]recordmodel.Record, 0, len(best))
	for _, rec := range best {
		latest = append(latest, rec)
	}
	if err := s.latestGW.UpsertCollectionBatch(ctx, coldb.LatestTable, s.reg, latest); err != nil {
		return 0, fmt.Errorf("materialize latest: %w", err)
	}
	return len(latest), nil
}

// CheckDatabaseHealth re-runs the integrity probe against table at path,
// for operator tooling and the scenario spec §8 describes for a corrupted
// ColDB file detected out of band.
func (s *CollectionStore) CheckDatabaseHealth(ctx context.Context, path, table string) (bool, error) {
	gw, err := coldb.Open(ctx, path, nil, []string{table}, "")
	if err != nil {
		return false, err
	}
	defer gw.Close()
	return true, nil
}

// Store normalizes data, lifts special fields, tags the typed value
// column, assigns the next monotonic version for
// (key, collection_name, item_name), appends to today's WAL, and updates
// the cache (spec §4.K).
func (s *CollectionStore) Store(ctx context.Context, key string, data map[string]any, opts ...StoreOption) (recordmodel.Record, error) {
	if !s.sm.isReady() {
		return recordmodel.Record{}, persisterrors.ErrReadOnlyState
	}

	var args storeArgs
	for _, opt := range opts {
		opt(&args)
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

	var value recordmodel.Value
	if args.hasValue {
		value = recordmodel.ValueOf(args.value)
	}

	identity := recordmodel.Identity{Key: key, CollectionName: args.collectionName, ItemName: args.itemName}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ensureResidentLocked(ctx, args.collectionName)

	version := int64(1)
	if existing, ok := s.cache.GetItem(key, args.collectionName, args.itemName); ok {
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
		Value:     value,
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
	s.changes.Mark(identity)

	s.pendingMu.Lock()
	s.pending = append(s.pending, rec)
	shouldNotify := len(s.pending) >= s.cfg.BatchSize
	s.pendingMu.Unlock()
	if shouldNotify {
		s.fl.Notify()
	}

	return rec, nil
}

// ensureResidentLocked lazy-loads collectionName from storage_latest on
// first touch, under the caller's already-held write lock (spec §4.F, §9).
func (s *CollectionStore) ensureResidentLocked(ctx context.Context, collectionName string) {
	if collectionName == "" || s.cache.IsResident(collectionName) {
		return
	}
	rows, err := s.latestGW.ScanCollection(ctx, coldb.LatestTable, s.reg, collectionName)
	if err != nil {
		events.Warnf(s.sink, "collection", "lazy load of collection %q failed: %v", collectionName, err)
		return
	}
	s.cache.LoadCollection(collectionName, rows)
}

// GetKey returns the collection_name -> item_name -> Record mapping for
// key, optionally restricted to one collection, lazy-loading it on miss.
func (s *CollectionStore) GetKey(key string, collectionName ...string) (map[string]map[string]recordmodel.Record, bool) {
	var coll string
	if len(collectionName) > 0 {
		coll = collectionName[0]
	}

	s.writeMu.Lock()
	s.ensureResidentLocked(context.Background(), coll)
	s.writeMu.Unlock()

	return s.cache.GetKey(key, coll)
}

// GetItem returns the single record for (key, collectionName, itemName),
// lazy-loading collectionName on miss.
func (s *CollectionStore) GetItem(ctx context.Context, key, collectionName, itemName string) (recordmodel.Record, bool) {
	s.writeMu.Lock()
	s.ensureResidentLocked(ctx, collectionName)
	s.writeMu.Unlock()

	return s.cache.GetItem(key, collectionName, itemName)
}

// FlushDataToDuckDB rotates today's WAL segment unconditionally and
// synchronously drains the pending batch and any backlog into
// storage_history (spec §6).
func (s *CollectionStore) FlushDataToDuckDB(ctx context.Context) error {
	return s.drainOnce(ctx, true)
}

// drainTick is the flusher's DrainFunc: a periodic tick or batch-size
// Notify() only rotates today's WAL segment when it has actually crossed
// its size/age threshold (spec §4.H step 3).
func (s *CollectionStore) drainTick(ctx context.Context) error {
	return s.drainOnce(ctx, false)
}

func (s *CollectionStore) drainOnce(ctx context.Context, forceRotate bool) error {
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

	segments, err := walio.ListSegments(s.walDir(s.today))
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
		if err := s.historyGW.UpsertCollectionBatch(ctx, coldb.HistoryTable, s.reg, batch); err != nil {
			s.lastFlushErr = err.Error()
			s.pendingMu.Lock()
			s.pending = append(batch, s.pending...)
			s.pendingMu.Unlock()
			return err
		}
	}

	if err := walio.DeleteSegments(drained); err != nil {
		events.Warnf(s.sink, "collection", "drained segments not all deleted, will retry next cycle: %v", err)
	}

	s.flushCycles++
	s.lastFlushErr = ""
	return nil
}

// GetStats returns the stats object spec §6 documents.
func (s *CollectionStore) GetStats() Stats {
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

// Close drains to quiescence, materializes storage_latest from every
// identity touched this session, snapshots both ColDB files into today's
// date directory, prunes retention, and releases the instance lock (spec
// §4.J, §4.K).
func (s *CollectionStore) Close(ctx context.Context) error {
	if s.sm.get() == stateClosed {
		return nil
	}
	s.sm.set(stateClosing)

	s.fl.Stop()

	if err := s.drainOnce(ctx, true); err != nil {
		events.Warnf(s.sink, "collection", "final drain on close failed: %v", err)
	}

	s.flushMu.Lock()
	touched := s.changes.Drain()
	if _, err := s.materializeLatestForIdentities(ctx, touched); err != nil {
		for _, id := range touched {
			s.changes.Mark(id)
		}
		events.Warnf(s.sink, "collection", "latest materialization on close failed: %v", err)
	}
	s.flushMu.Unlock()

	if err := s.historyGW.Close(); err != nil {
		events.Warnf(s.sink, "collection", "history coldb close failed: %v", err)
	}
	if err := s.latestGW.Close(); err != nil {
		events.Warnf(s.sink, "collection", "latest coldb close failed: %v", err)
	}
	if err := s.wal.Close(); err != nil {
		events.Warnf(s.sink, "collection", "wal close failed: %v", err)
	}

	if err := backup.SnapshotAndPrune(s.baseDir, s.historyPath(), s.latestPath(), s.today, s.cfg.RetainDays); err != nil {
		events.Warnf(s.sink, "collection", "backup/retention on close failed: %v", err)
	}

	if err := s.lock.Release(); err != nil {
		events.Warnf(s.sink, "collection", "lock release failed: %v", err)
	}

	s.sm.set(stateClosed)
	return nil
}
