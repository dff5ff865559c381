// Package schema validates user-declared extra-column declarations and
// maps portable type names to ColDB SQL types (spec §4.B).
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
)

// portableTypes maps the spec §4.B portable type vocabulary to its ColDB
// (DuckDB) SQL type.
var portableTypes = map[string]string{
	"string":        "VARCHAR",
	"bool":          "BOOLEAN",
	"int8":          "TINYINT",
	"int16":         "SMALLINT",
	"int32":         "INTEGER",
	"int64":         "BIGINT",
	"uint8":         "UTINYINT",
	"uint16":        "USMALLINT",
	"uint32":        "UINTEGER",
	"uint64":        "UBIGINT",
	"float32":       "FLOAT",
	"float64":       "DOUBLE",
	"timestamp[s]":  "TIMESTAMP",
	"timestamp[ms]": "TIMESTAMP",
	"timestamp[us]": "TIMESTAMP",
	"timestamp[ns]": "TIMESTAMP",
	"date32":        "DATE",
	"date64":        "DATE",
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column is one declared extra column; a Registry keeps them sorted by
// name.
type Column struct {
	Name       string
	PortalType string
	SQLType    string
}

// Registry validates a mapping of column name -> portable type name and
// exposes the DDL fragment and ordered column list the flusher binds
// parameters against.
type Registry struct {
	columns []Column
}

// New validates declared against reserved and the portable type table.
// Any violation fails construction with persisterrors.ExtraSchemaError —
// construction never partially succeeds (spec §8 property 6).
func New(reserved map[string]struct{}, declared map[string]string) (*Registry, error) {
	if len(declared) == 0 {
		return &Registry{}, nil
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic DDL/column order across runs

	columns := make([]Column, 0, len(names))
	for _, name := range names {
		if !identifierRE.MatchString(name) {
			return nil, persisterrors.NewExtraSchemaError(name, "not a legal SQL identifier")
		}
		if _, isReserved := reserved[name]; isReserved {
			return nil, persisterrors.NewExtraSchemaError(name, "collides with a reserved column name")
		}
		portable := declared[name]
		sqlType, ok := portableTypes[portable]
		if !ok {
			return nil, persisterrors.NewExtraSchemaError(name, fmt.Sprintf("unrecognized portable type %q", portable))
		}
		columns = append(columns, Column{Name: name, PortalType: portable, SQLType: sqlType})
	}

	return &Registry{columns: columns}, nil
}

// Columns returns the ordered (name, sql_type) list.
func (r *Registry) Columns() []Column {
	if r == nil {
		return nil
	}
	return r.columns
}

// Names returns just the declared column names, in the same order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

// DDLFragment returns a comma-separated "name TYPE" list suitable for
// splicing into a CREATE TABLE statement after the fixed reserved columns.
func (r *Registry) DDLFragment() string {
	if r == nil || len(r.columns) == 0 {
		return ""
	}
	out := ""
	for _, c := range r.columns {
		out += fmt.Sprintf(", %s %s", c.Name, c.SQLType)
	}
	return out
}
