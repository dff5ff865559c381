package coldb

import (
	"fmt"

	"github.com/ionbus/ionbus-fast-persist/schema"
)

// DatedTable is the single dated-mode table name (spec §4.E).
const DatedTable = "storage_data"

// Collection mode's two tables, identical shape, different population.
const (
	HistoryTable = "storage_history"
	LatestTable  = "storage_latest"
)

// DatedDDL returns the CREATE TABLE statement for storage_data, primary
// keyed on (key, process_name), with reg's declared columns appended.
func DatedDDL(reg *schema.Registry) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  key VARCHAR,
  process_name VARCHAR,
  data JSON,
  timestamp TIMESTAMP,
  status VARCHAR,
  status_int INTEGER,
  username VARCHAR,
  updated_at TIMESTAMP,
  version BIGINT%s,
  PRIMARY KEY (key, process_name)
)`, DatedTable, reg.DDLFragment())
}

// CollectionDDL returns the CREATE TABLE statement for one of
// storage_history/storage_latest, primary keyed on
// (key, collection_name, item_name).
func CollectionDDL(table string, reg *schema.Registry) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  key VARCHAR,
  collection_name VARCHAR,
  item_name VARCHAR,
  data JSON,
  value_int BIGINT,
  value_float DOUBLE,
  value_string VARCHAR,
  timestamp TIMESTAMP,
  status VARCHAR,
  status_int INTEGER,
  username VARCHAR,
  updated_at TIMESTAMP,
  version BIGINT%s,
  PRIMARY KEY (key, collection_name, item_name)
)`, table, reg.DDLFragment())
}
