// Package recordmodel defines the logical record and identity shapes
// shared by dated mode and collection mode (spec §3).
package recordmodel

import "time"

// Identity is the composite primary key of a record. Dated mode uses
// (Key, ProcessName); collection mode uses (Key, CollectionName, ItemName).
// Empty string is a legal, recoverable value for any of the non-Key
// fields (spec §8 boundary behaviors).
type Identity struct {
	Key            string
	ProcessName    string
	CollectionName string
	ItemName       string
}

// ValueKind tags which of Value's fields is meaningful.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueInt
	ValueFloat
	ValueString
)

// Value is the collection-mode tagged scalar. At most one of Int/Flt/Str
// is meaningful, selected by Kind, which is determined solely by the
// runtime type of the value passed to Store (spec invariant 4).
type Value struct {
	Kind ValueKind
	Int  int64
	Flt  float64
	Str  string
}

// NoValue is the zero Value, used in dated mode and whenever a collection
// write carries no typed scalar.
var NoValue = Value{Kind: ValueNone}

// ValueOf tags a Go value into the collection-mode scalar column it
// belongs in. Supported runtime types: integers (any width, signed or
// unsigned), floats (32/64), strings. Anything else (including nil)
// produces NoValue.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return NoValue
	case int:
		return Value{Kind: ValueInt, Int: int64(t)}
	case int8:
		return Value{Kind: ValueInt, Int: int64(t)}
	case int16:
		return Value{Kind: ValueInt, Int: int64(t)}
	case int32:
		return Value{Kind: ValueInt, Int: int64(t)}
	case int64:
		return Value{Kind: ValueInt, Int: t}
	case uint:
		return Value{Kind: ValueInt, Int: int64(t)}
	case uint8:
		return Value{Kind: ValueInt, Int: int64(t)}
	case uint16:
		return Value{Kind: ValueInt, Int: int64(t)}
	case uint32:
		return Value{Kind: ValueInt, Int: int64(t)}
	case uint64:
		return Value{Kind: ValueInt, Int: int64(t)}
	case float32:
		return Value{Kind: ValueFloat, Flt: float64(t)}
	case float64:
		return Value{Kind: ValueFloat, Flt: t}
	case string:
		return Value{Kind: ValueString, Str: t}
	default:
		return NoValue
	}
}

// Record is the logical record carried through WAL, cache, and ColDB.
type Record struct {
	Identity Identity

	// Data is the full, never-stripped application payload (spec §9).
	Data map[string]any

	// Special fields, lifted from Data for typed storage but left in Data.
	Timestamp *time.Time
	Status    *string
	StatusInt *int32
	Username  *string

	// Value is meaningful in collection mode only.
	Value Value

	UpdatedAt time.Time
	Version   int64

	// Extras holds the raw per-record values for user-declared extra
	// columns, looked up by name from Data; a name absent from Data maps
	// to a stored null, represented here by the key being absent from
	// Extras.
	Extras map[string]any
}

// Clone returns a deep-enough copy for safe handoff across the cache
// boundary: Data and Extras are copied one level deep (their values are
// JSON-representable scalars/maps/slices and are not mutated in place by
// this module once written).
func (r Record) Clone() Record {
	out := r
	if r.Data != nil {
		out.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v
		}
	}
	if r.Extras != nil {
		out.Extras = make(map[string]any, len(r.Extras))
		for k, v := range r.Extras {
			out.Extras[k] = v
		}
	}
	if r.Timestamp != nil {
		t := *r.Timestamp
		out.Timestamp = &t
	}
	if r.Status != nil {
		s := *r.Status
		out.Status = &s
	}
	if r.StatusInt != nil {
		s := *r.StatusInt
		out.StatusInt = &s
	}
	if r.Username != nil {
		u := *r.Username
		out.Username = &u
	}
	return out
}
