package persistence

import "github.com/ionbus/ionbus-fast-persist/events"

// WALConfig is the dated-mode configuration surface (spec §6). Zero value
// plus DefaultWALConfig() gives the documented defaults.
type WALConfig struct {
	BaseDir                 string
	DBPath                  string // relative: placed inside the date directory; absolute: used as-is
	MaxWALSize              int64
	MaxWALAgeSeconds        int64
	BatchSize               int
	DuckDBFlushIntervalSecs int64
	ParquetPath             string
	ExtraSchema             map[string]string
	Sink                    events.Sink
}

// DefaultWALConfig returns spec §6's documented dated-mode defaults.
func DefaultWALConfig() WALConfig {
	return WALConfig{
		BaseDir:                 "./storage",
		DBPath:                  "storage_data.duckdb",
		MaxWALSize:              10 << 20,
		MaxWALAgeSeconds:        300,
		BatchSize:               1000,
		DuckDBFlushIntervalSecs: 30,
		Sink:                    events.NewStdSink(),
	}
}

// WALOption configures a WALConfig, mirroring the teacher's StorageOption
// pattern applied to this module's configuration struct.
type WALOption func(*WALConfig)

func WithWALBaseDir(dir string) WALOption {
	return func(c *WALConfig) { c.BaseDir = dir }
}

func WithDBPath(path string) WALOption {
	return func(c *WALConfig) { c.DBPath = path }
}

func WithMaxWALSize(bytes int64) WALOption {
	return func(c *WALConfig) { c.MaxWALSize = bytes }
}

func WithMaxWALAgeSeconds(seconds int64) WALOption {
	return func(c *WALConfig) { c.MaxWALAgeSeconds = seconds }
}

func WithBatchSize(n int) WALOption {
	return func(c *WALConfig) { c.BatchSize = n }
}

func WithFlushIntervalSeconds(seconds int64) WALOption {
	return func(c *WALConfig) { c.DuckDBFlushIntervalSecs = seconds }
}

func WithParquetPath(path string) WALOption {
	return func(c *WALConfig) { c.ParquetPath = path }
}

func WithExtraSchema(schema map[string]string) WALOption {
	return func(c *WALConfig) { c.ExtraSchema = schema }
}

func WithSink(sink events.Sink) WALOption {
	return func(c *WALConfig) { c.Sink = sink }
}

// CollectionConfig is the collection-mode configuration surface (spec §6).
type CollectionConfig struct {
	BaseDir                 string
	MaxWALSize              int64
	MaxWALAgeSeconds        int64
	BatchSize               int
	DuckDBFlushIntervalSecs int64
	RetainDays              int
	ExtraSchema             map[string]string
	Sink                    events.Sink
}

// DefaultCollectionConfig returns spec §6's documented collection-mode
// defaults.
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		BaseDir:                 "./collection_storage",
		MaxWALSize:              10 << 20,
		MaxWALAgeSeconds:        300,
		BatchSize:               1000,
		DuckDBFlushIntervalSecs: 30,
		RetainDays:              5,
		Sink:                    events.NewStdSink(),
	}
}

// CollectionOption configures a CollectionConfig.
type CollectionOption func(*CollectionConfig)

func WithCollectionBaseDir(dir string) CollectionOption {
	return func(c *CollectionConfig) { c.BaseDir = dir }
}

func WithCollectionMaxWALSize(bytes int64) CollectionOption {
	return func(c *CollectionConfig) { c.MaxWALSize = bytes }
}

func WithCollectionMaxWALAgeSeconds(seconds int64) CollectionOption {
	return func(c *CollectionConfig) { c.MaxWALAgeSeconds = seconds }
}

func WithCollectionBatchSize(n int) CollectionOption {
	return func(c *CollectionConfig) { c.BatchSize = n }
}

func WithCollectionFlushIntervalSeconds(seconds int64) CollectionOption {
	return func(c *CollectionConfig) { c.DuckDBFlushIntervalSecs = seconds }
}

func WithRetainDays(days int) CollectionOption {
	return func(c *CollectionConfig) { c.RetainDays = days }
}

func WithCollectionExtraSchema(schema map[string]string) CollectionOption {
	return func(c *CollectionConfig) { c.ExtraSchema = schema }
}

func WithCollectionSink(sink events.Sink) CollectionOption {
	return func(c *CollectionConfig) { c.Sink = sink }
}

// StoreOption carries the optional per-call parameters spec §6's store(...)
// signatures list (process_name/item_name/collection_name/value/timestamp/
// username), applied against a single in-flight storeArgs value.
type StoreOption func(*storeArgs)

type storeArgs struct {
	processName    string
	collectionName string
	itemName       string
	value          any
	hasValue       bool
	timestamp      any
	hasTimestamp   bool
	username       string
	hasUsername    bool
}

func WithProcessName(name string) StoreOption {
	return func(a *storeArgs) { a.processName = name }
}

func WithCollectionName(name string) StoreOption {
	return func(a *storeArgs) { a.collectionName = name }
}

func WithItemName(name string) StoreOption {
	return func(a *storeArgs) { a.itemName = name }
}

func WithValue(v any) StoreOption {
	return func(a *storeArgs) { a.value = v; a.hasValue = true }
}

func WithTimestamp(ts any) StoreOption {
	return func(a *storeArgs) { a.timestamp = ts; a.hasTimestamp = true }
}

func WithUsername(username string) StoreOption {
	return func(a *storeArgs) { a.username = username; a.hasUsername = true }
}
