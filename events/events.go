// Package events defines the structured event sink the core emits to.
// Logger configuration and output formatting are an external concern
// (spec §1); the core only ever depends on the Sink interface below.
package events

import (
	"fmt"
	"log"
)

// Level classifies an Event the way the teacher's log.Printf prefixes
// ("INFO:", "WARN:", "ERROR:", "DEBUG:") already do in
// pkg/storage/persistence.go and pkg/storage/v2/checkpoint.go.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a single structured message emitted by a core component.
type Event struct {
	Level   Level
	Source  string // component name, e.g. "wal", "flusher", "coldb"
	Message string
	Fields  map[string]any
}

// Sink receives Events. Implementations decide formatting and destination;
// the core never formats output itself.
type Sink interface {
	Emit(Event)
}

// StdSink formats Events through the standard library log package, in the
// same "LEVEL: source: message key=val ..." shape the teacher writes by
// hand throughout pkg/storage.
type StdSink struct{}

// NewStdSink returns the default Sink used when the caller supplies none.
func NewStdSink() *StdSink { return &StdSink{} }

func (StdSink) Emit(e Event) {
	msg := fmt.Sprintf("%s: %s: %s", e.Level, e.Source, e.Message)
	for k, v := range e.Fields {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	log.Println(msg)
}

// NopSink discards every event; useful in tests that assert on behavior,
// not log output.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// Helper constructors for the common cases.

func Infof(sink Sink, source, format string, args ...any) {
	sink.Emit(Event{Level: Info, Source: source, Message: fmt.Sprintf(format, args...)})
}

func Warnf(sink Sink, source, format string, args ...any) {
	sink.Emit(Event{Level: Warn, Source: source, Message: fmt.Sprintf(format, args...)})
}

func Errorf(sink Sink, source, format string, args ...any) {
	sink.Emit(Event{Level: Error, Source: source, Message: fmt.Sprintf(format, args...)})
}

func Debugf(sink Sink, source, format string, args ...any) {
	sink.Emit(Event{Level: Debug, Source: source, Message: fmt.Sprintf(format, args...)})
}
