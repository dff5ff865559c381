package recordmodel

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON renders Value as the tagged native JSON scalar spec §6
// describes: a JSON number for Int/Float, a JSON string for Str, null for
// NoValue. This is the single JSON<->native bridge for Value (spec §9),
// used by WAL lines; ColDB rows store Value in the split
// value_int/value_float/value_string columns instead (coldb/rowcodec.go).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueInt:
		return json.Marshal(v.Int)
	case ValueFloat:
		return json.Marshal(v.Flt)
	case ValueString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON restores a Value from its tagged JSON form, inferring Kind
// from the JSON value's own type.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = NoValue
		return nil
	}

	var asFloat float64
	if err := json.Unmarshal(data, &asFloat); err == nil {
		if asFloat == float64(int64(asFloat)) {
			*v = Value{Kind: ValueInt, Int: int64(asFloat)}
		} else {
			*v = Value{Kind: ValueFloat, Flt: asFloat}
		}
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*v = Value{Kind: ValueString, Str: asString}
		return nil
	}

	return fmt.Errorf("recordmodel: value is neither number nor string: %s", data)
}
