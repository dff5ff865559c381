package coldb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
	"github.com/ionbus/ionbus-fast-persist/schema"
)

// datedColumns returns the fixed dated-mode column names in DDL order,
// followed by reg's extra columns.
func datedColumns(reg *schema.Registry) []string {
	cols := []string{"key", "process_name", "data", "timestamp", "status", "status_int", "username", "updated_at", "version"}
	return append(cols, reg.Names()...)
}

// collectionColumns returns the fixed collection-mode column names in DDL
// order, followed by reg's extra columns.
func collectionColumns(reg *schema.Registry) []string {
	cols := []string{"key", "collection_name", "item_name", "data", "value_int", "value_float", "value_string",
		"timestamp", "status", "status_int", "username", "updated_at", "version"}
	return append(cols, reg.Names()...)
}

func marshalData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt32(i *int32) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// datedRowValues builds one row's bind values in datedColumns order.
func datedRowValues(rec recordmodel.Record, reg *schema.Registry) ([]any, error) {
	dataJSON, err := marshalData(rec.Data)
	if err != nil {
		return nil, err
	}
	values := []any{
		rec.Identity.Key,
		rec.Identity.ProcessName,
		dataJSON,
		nullableTime(rec.Timestamp),
		nullableString(rec.Status),
		nullableInt32(rec.StatusInt),
		nullableString(rec.Username),
		rec.UpdatedAt.UTC(),
		rec.Version,
	}
	for _, name := range reg.Names() {
		values = append(values, rec.Extras[name])
	}
	return values, nil
}

// collectionRowValues builds one row's bind values in collectionColumns
// order, splitting rec.Value into its tagged scalar column (spec §4.E).
func collectionRowValues(rec recordmodel.Record, reg *schema.Registry) ([]any, error) {
	dataJSON, err := marshalData(rec.Data)
	if err != nil {
		return nil, err
	}

	var valueInt, valueFloat, valueString any
	switch rec.Value.Kind {
	case recordmodel.ValueInt:
		valueInt = rec.Value.Int
	case recordmodel.ValueFloat:
		valueFloat = rec.Value.Flt
	case recordmodel.ValueString:
		valueString = rec.Value.Str
	}

	values := []any{
		rec.Identity.Key,
		rec.Identity.CollectionName,
		rec.Identity.ItemName,
		dataJSON,
		valueInt,
		valueFloat,
		valueString,
		nullableTime(rec.Timestamp),
		nullableString(rec.Status),
		nullableInt32(rec.StatusInt),
		nullableString(rec.Username),
		rec.UpdatedAt.UTC(),
		rec.Version,
	}
	for _, name := range reg.Names() {
		values = append(values, rec.Extras[name])
	}
	return values, nil
}

// scanRowsGeneric reads the current row of rows into a name->value map,
// working across any column set DuckDB's driver hands back (plain
// interface{} scan targets, the standard database/sql trick for
// unknown-shape result sets).
func scanRowsGeneric(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = dest[i]
	}
	return out, nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asStringPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := asString(v)
	return &s
}

func asInt32Ptr(v any) *int32 {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case int64:
		n := int32(t)
		return &n
	case int32:
		return &t
	case float64:
		n := int32(t)
		return &n
	}
	return nil
}

func asTimePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	if t, ok := v.(time.Time); ok {
		u := t.UTC()
		return &u
	}
	return nil
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return time.Time{}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

func asData(v any) map[string]any {
	data := map[string]any{}
	raw := asString(v)
	if raw == "" {
		return data
	}
	_ = json.Unmarshal([]byte(raw), &data)
	return data
}

func extrasFromRow(row map[string]any, reg *schema.Registry) map[string]any {
	names := reg.Names()
	if len(names) == 0 {
		return nil
	}
	extras := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := row[name]; ok && v != nil {
			extras[name] = v
		}
	}
	return extras
}

// rowToDatedRecord reconstructs a Record from a storage_data row.
func rowToDatedRecord(row map[string]any, reg *schema.Registry) recordmodel.Record {
	return recordmodel.Record{
		Identity: recordmodel.Identity{
			Key:         asString(row["key"]),
			ProcessName: asString(row["process_name"]),
		},
		Data:      asData(row["data"]),
		Timestamp: asTimePtr(row["timestamp"]),
		Status:    asStringPtr(row["status"]),
		StatusInt: asInt32Ptr(row["status_int"]),
		Username:  asStringPtr(row["username"]),
		UpdatedAt: asTime(row["updated_at"]),
		Version:   asInt64(row["version"]),
		Extras:    extrasFromRow(row, reg),
	}
}

// rowToCollectionRecord reconstructs a Record from a storage_history or
// storage_latest row, retagging the split value columns back into a
// single recordmodel.Value.
func rowToCollectionRecord(row map[string]any, reg *schema.Registry) recordmodel.Record {
	value := recordmodel.NoValue
	if v, ok := row["value_int"]; ok && v != nil {
		value = recordmodel.Value{Kind: recordmodel.ValueInt, Int: asInt64(v)}
	} else if v, ok := row["value_float"]; ok && v != nil {
		if f, ok := v.(float64); ok {
			value = recordmodel.Value{Kind: recordmodel.ValueFloat, Flt: f}
		}
	} else if v, ok := row["value_string"]; ok && v != nil {
		value = recordmodel.Value{Kind: recordmodel.ValueString, Str: asString(v)}
	}

	return recordmodel.Record{
		Identity: recordmodel.Identity{
			Key:            asString(row["key"]),
			CollectionName: asString(row["collection_name"]),
			ItemName:       asString(row["item_name"]),
		},
		Data:      asData(row["data"]),
		Timestamp: asTimePtr(row["timestamp"]),
		Status:    asStringPtr(row["status"]),
		StatusInt: asInt32Ptr(row["status_int"]),
		Username:  asStringPtr(row["username"]),
		Value:     value,
		UpdatedAt: asTime(row["updated_at"]),
		Version:   asInt64(row["version"]),
		Extras:    extrasFromRow(row, reg),
	}
}
