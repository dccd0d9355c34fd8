// Package tracebuffer is the keyed, thread-safe registry of record C3: one
// accumulating Trace per trace-id, with a secondary graph-id → trace-id
// index, dedup, and TTL/count-bounded eviction.
package tracebuffer

import "time"

// EventType enumerates runtime event kinds. START/END are accepted as
// synonyms for METHOD_ENTER/METHOD_EXIT at the ingress boundary — see
// normalizeEventType.
type EventType string

const (
	EventMethodEnter EventType = "METHOD_ENTER"
	EventMethodExit  EventType = "METHOD_EXIT"
	EventProduceTopic EventType = "PRODUCE_TOPIC"
	EventConsumeTopic EventType = "CONSUME_TOPIC"
	EventCheckpoint  EventType = "CHECKPOINT"
	EventError       EventType = "ERROR"
)

// Event is a single runtime occurrence submitted as part of a trace.
type Event struct {
	EventID       string
	TraceID       string
	SpanID        string
	ParentSpanID  string
	Timestamp     time.Time
	Type          EventType
	NodeID        string
	DurationMS    float64
	CorrelationID string
	ErrorMessage  string
	ErrorType     string
	Attributes    map[string]any
}

// Checkpoint is a derived projection of a CHECKPOINT event.
type Checkpoint struct {
	NodeID    string
	Name      string
	Timestamp time.Time
	Data      map[string]any
}

// ErrorRecord is a derived projection of an ERROR event.
type ErrorRecord struct {
	NodeID    string
	Message   string
	ErrorType string
	Timestamp time.Time
}

// AsyncHop is a derived projection correlating a PRODUCE_TOPIC event with a
// later CONSUME_TOPIC event sharing a correlation-id.
type AsyncHop struct {
	CorrelationID string
	ProducerNode  string
	ConsumerNode  string
	ProducedAt    time.Time
	ConsumedAt    time.Time
}

// Trace is the accumulating record of one execution instance. Events is
// append-only and stored in submission order, independent of wall-clock
// timestamp order.
type Trace struct {
	TraceID     string
	GraphID     string
	Events      []Event
	Checkpoints []Checkpoint
	Errors      []ErrorRecord
	AsyncHops   []AsyncHop
	CreatedAt   time.Time
	CompletedAt time.Time
	Complete    bool
	Merged      bool

	dedup map[string]struct{}
}

// HasErrors reports whether any ERROR event has been recorded for the trace.
func (t Trace) HasErrors() bool { return len(t.Errors) > 0 }

// clone returns a deep copy safe to hand to a caller.
func (t Trace) clone() Trace {
	cp := t
	cp.Events = append([]Event(nil), t.Events...)
	cp.Checkpoints = append([]Checkpoint(nil), t.Checkpoints...)
	cp.Errors = append([]ErrorRecord(nil), t.Errors...)
	cp.AsyncHops = append([]AsyncHop(nil), t.AsyncHops...)
	cp.dedup = nil
	return cp
}

// normalizeEventType maps the source's legacy START/END spelling onto the
// canonical METHOD_ENTER/METHOD_EXIT types; the merge engine never sees the
// legacy spelling.
func normalizeEventType(t EventType) EventType {
	switch t {
	case "START":
		return EventMethodEnter
	case "END":
		return EventMethodExit
	default:
		return t
	}
}
