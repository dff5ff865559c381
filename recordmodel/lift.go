package recordmodel

import "fmt"

// LiftSpecialFields reads status/status_int/username out of data without
// deleting them (spec §9: data round-trips byte-equivalent modulo
// timestamp normalization). The timestamp field is not read here: callers
// normalize and lift it via timeutil, since recordmodel does not itself
// parse timestamps.
func LiftSpecialFields(data map[string]any) (status *string, statusInt *int32, username *string, err error) {
	if raw, ok := data["status"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, nil, nil, fmt.Errorf("recordmodel: status must be a string, got %T", raw)
		}
		status = &s
	}

	if raw, ok := data["status_int"]; ok && raw != nil {
		v, err := toInt32(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("recordmodel: status_int: %w", err)
		}
		statusInt = &v
	}

	if raw, ok := data["username"]; ok && raw != nil {
		u, ok := raw.(string)
		if !ok {
			return nil, nil, nil, fmt.Errorf("recordmodel: username must be a string, got %T", raw)
		}
		username = &u
	}

	return status, statusInt, username, nil
}

func toInt32(v any) (int32, error) {
	switch t := v.(type) {
	case int32:
		return t, nil
	case int:
		return int32(t), nil
	case int64:
		return int32(t), nil
	case float64: // JSON numbers decode as float64
		return int32(t), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ExtractExtras looks up each declared extra-column name in data, returning
// a map containing only the names present with a non-nil value (absence
// from the returned map means "store null").
func ExtractExtras(data map[string]any, columnNames []string) map[string]any {
	if len(columnNames) == 0 {
		return nil
	}
	out := make(map[string]any, len(columnNames))
	for _, name := range columnNames {
		if v, ok := data[name]; ok && v != nil {
			out[name] = v
		}
	}
	return out
}
