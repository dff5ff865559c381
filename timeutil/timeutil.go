// Package timeutil normalizes date/datetime-like values into tz-aware UTC
// moments and serializes them back to ISO-8601 (spec §4.A).
package timeutil

import (
	"fmt"
	"time"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
)

// layouts tried in order against bare text input. time.RFC3339Nano covers
// the offset-bearing case; the rest cover naive text the source may hand
// us (assume UTC per spec §4.A).
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize accepts ISO-8601 text (with or without offset), a time.Time
// (naive or zoned), or a date-only string, and returns a tz-aware UTC
// moment. Naive input is assumed UTC; date-only input becomes midnight UTC.
func Normalize(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("timeutil: nil *time.Time")
		}
		return t.UTC(), nil
	case string:
		return parseText(t)
	default:
		return time.Time{}, fmt.Errorf("timeutil: unsupported type %T", v)
	}
}

func parseText(s string) (time.Time, error) {
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, persisterrors.NewBadTimestampError("timestamp", s, fmt.Errorf("no recognized layout matched"))
}

// Format serializes a UTC moment to ISO-8601 with offset, the wire format
// used by WAL lines and ColDB columns (spec §4.A).
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NormalizeDataInPlace walks data recursively (maps and slices), replacing
// any value that looks like a normalizable timestamp under a recognized key
// with its ISO-8601 UTC string form. Only values under keys in
// recognizableKeys are considered, matching the special-field lifting scope
// — this module never guesses at arbitrary user data shapes.
func NormalizeDataInPlace(data map[string]any, recognizableKeys map[string]struct{}) error {
	return normalizeMap(data, recognizableKeys)
}

func normalizeMap(m map[string]any, keys map[string]struct{}) error {
	for k, v := range m {
		if _, recognized := keys[k]; recognized {
			switch v.(type) {
			case string, time.Time, *time.Time:
				normalized, err := Normalize(v)
				if err != nil {
					return persisterrors.NewBadTimestampError(k, v, err)
				}
				m[k] = Format(normalized)
				continue
			}
		}
		switch nested := v.(type) {
		case map[string]any:
			if err := normalizeMap(nested, keys); err != nil {
				return err
			}
		case []any:
			if err := normalizeSlice(nested, keys); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeSlice(s []any, keys map[string]struct{}) error {
	for _, v := range s {
		switch nested := v.(type) {
		case map[string]any:
			if err := normalizeMap(nested, keys); err != nil {
				return err
			}
		case []any:
			if err := normalizeSlice(nested, keys); err != nil {
				return err
			}
		}
	}
	return nil
}
