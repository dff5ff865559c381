// Package walio implements the append-only WAL segment writer and the
// startup recovery/replay path (spec §4.C, §4.D).
package walio

import (
	"encoding/json"
	"time"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

// Entry is the self-describing JSON-line shape written to a WAL segment.
// One Entry carries everything needed to reconstruct a recordmodel.Record
// from the segment alone — no external state.
type Entry struct {
	Op string    `json:"op"`
	TS time.Time `json:"ts"`

	Key            string `json:"key"`
	ProcessName    string `json:"process_name,omitempty"`
	CollectionName string `json:"collection_name,omitempty"`
	ItemName       string `json:"item_name,omitempty"`

	Data map[string]any `json:"data"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
	Status    *string    `json:"status,omitempty"`
	StatusInt *int32     `json:"status_int,omitempty"`
	Username  *string    `json:"username,omitempty"`

	Value recordmodel.Value `json:"value,omitempty"`

	Version int64          `json:"version"`
	Extras  map[string]any `json:"extras,omitempty"`
}

// EntryFromRecord builds the wire entry for one record.
func EntryFromRecord(r recordmodel.Record, at time.Time) Entry {
	return Entry{
		Op:             "put",
		TS:             at.UTC(),
		Key:            r.Identity.Key,
		ProcessName:    r.Identity.ProcessName,
		CollectionName: r.Identity.CollectionName,
		ItemName:       r.Identity.ItemName,
		Data:           r.Data,
		Timestamp:      r.Timestamp,
		Status:         r.Status,
		StatusInt:      r.StatusInt,
		Username:       r.Username,
		Value:          r.Value,
		Version:        r.Version,
		Extras:         r.Extras,
	}
}

// ToRecord reconstructs the logical record this entry describes.
func (e Entry) ToRecord() recordmodel.Record {
	return recordmodel.Record{
		Identity: recordmodel.Identity{
			Key:            e.Key,
			ProcessName:    e.ProcessName,
			CollectionName: e.CollectionName,
			ItemName:       e.ItemName,
		},
		Data:      e.Data,
		Timestamp: e.Timestamp,
		Status:    e.Status,
		StatusInt: e.StatusInt,
		Username:  e.Username,
		Value:     e.Value,
		UpdatedAt: e.TS,
		Version:   e.Version,
		Extras:    e.Extras,
	}
}

// Marshal renders the entry as one newline-terminated JSON line.
func Marshal(e Entry) ([]byte, error) {
	line, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}
