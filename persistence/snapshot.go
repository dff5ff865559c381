package persistence

import (
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

const snapshotFileName = ".cache_snapshot"

// saveCacheSnapshot msgpack-encodes then lz4-compresses records and writes
// them to <dir>/.cache_snapshot via the same atomic write-to-temp-then-
// rename discipline the teacher's saveCollectionToFileUnsafe uses. This is
// a warm-start optimization only — never a durability source of truth
// (spec §4.K supplement).
func saveCacheSnapshot(dir string, records []recordmodel.Record) error {
	encoded, err := msgpack.Marshal(records)
	if err != nil {
		return err
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(encoded)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(encoded, compressed, hashTable[:])
	if err != nil {
		return err
	}
	compressed = compressed[:n]

	path := filepath.Join(dir, snapshotFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadCacheSnapshot reads back a snapshot written by saveCacheSnapshot. Any
// failure (missing file, truncated/corrupt data) is swallowed and reported
// as "no snapshot" — a bad snapshot only costs warm-start latency, never
// correctness, since WAL replay and the ColDB scan still run unconditionally
// afterward and overwrite anything stale.
func loadCacheSnapshot(dir string) []recordmodel.Record {
	path := filepath.Join(dir, snapshotFileName)
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	decompressed := make([]byte, len(compressed)*20)
	n, err := lz4.UncompressBlock(compressed, decompressed)
	if err != nil {
		return nil
	}
	decompressed = decompressed[:n]

	var records []recordmodel.Record
	if err := msgpack.Unmarshal(decompressed, &records); err != nil {
		return nil
	}
	return records
}
