package tracebuffer

import (
	"strconv"
	"sync"
	"time"

	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// Clock abstracts time so tests can control created-at/completed-at and TTL
// decisions deterministically, per the "pass a clock capability" pattern.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config bounds the buffer's retention behavior.
type Config struct {
	TTL             time.Duration
	MaxCount        int
	EvictionInterval time.Duration
	UnmergedMaxAge  time.Duration
	DedupEnabled    bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		TTL:              10 * time.Minute,
		MaxCount:         100000,
		EvictionInterval: 60 * time.Second,
		UnmergedMaxAge:   24 * time.Hour,
		DedupEnabled:     true,
	}
}

type traceEntry struct {
	mu    sync.Mutex
	trace Trace
}

// Buffer is the C3 trace registry.
type Buffer struct {
	cfg   Config
	clock Clock
	log   *logrus.Entry

	mu      sync.RWMutex
	traces  map[string]*traceEntry
	byGraph map[string]map[string]struct{}

	deduplicated int64
	dedupMu      sync.Mutex
}

// New constructs an empty buffer. clock may be nil to use wall-clock time.
func New(cfg Config, clock Clock, log *logrus.Logger) *Buffer {
	if clock == nil {
		clock = systemClock{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Buffer{
		cfg:     cfg,
		clock:   clock,
		log:     log.WithField("component", "tracebuffer"),
		traces:  make(map[string]*traceEntry),
		byGraph: make(map[string]map[string]struct{}),
	}
}

func (b *Buffer) entryForWrite(traceID, graphID string) *traceEntry {
	b.mu.Lock()
	e, ok := b.traces[traceID]
	if !ok {
		e = &traceEntry{trace: Trace{
			TraceID:   traceID,
			GraphID:   graphID,
			CreatedAt: b.clock.Now(),
			dedup:     make(map[string]struct{}),
		}}
		b.traces[traceID] = e
		if b.byGraph[graphID] == nil {
			b.byGraph[graphID] = make(map[string]struct{})
		}
		b.byGraph[graphID][traceID] = struct{}{}
	}
	b.mu.Unlock()
	e.mu.Lock()
	return e
}

// dedupKey returns the key used to detect a duplicate submission of ev,
// per spec.md §3: event-id if present, otherwise (span-id, type, timestamp).
func dedupKey(ev Event) string {
	if ev.EventID != "" {
		return "id:" + ev.EventID
	}
	h := xxhash.New()
	h.Write([]byte(ev.SpanID))
	h.Write([]byte(ev.Type))
	h.Write([]byte(strconv.FormatInt(ev.Timestamp.UnixNano(), 10)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Append adds events to the named trace, creating it if absent. Events
// already seen (by dedup key) within this trace are silently dropped. It
// returns the number of events actually appended (post-dedup).
func (b *Buffer) Append(traceID, graphID string, events []Event) int {
	e := b.entryForWrite(traceID, graphID)
	defer e.mu.Unlock()

	appended := 0
	for _, ev := range events {
		ev.Type = normalizeEventType(ev.Type)
		ev.TraceID = traceID

		if b.cfg.DedupEnabled {
			key := dedupKey(ev)
			if _, seen := e.trace.dedup[key]; seen {
				b.dedupMu.Lock()
				b.deduplicated++
				b.dedupMu.Unlock()
				continue
			}
			e.trace.dedup[key] = struct{}{}
		}

		e.trace.Events = append(e.trace.Events, ev)
		b.projectDerived(&e.trace, ev)
		appended++
	}
	return appended
}

// projectDerived updates checkpoints/errors/async-hops from a freshly
// appended event. Must be called with the entry's lock held.
func (b *Buffer) projectDerived(t *Trace, ev Event) {
	switch ev.Type {
	case EventCheckpoint:
		t.Checkpoints = append(t.Checkpoints, Checkpoint{
			NodeID:    ev.NodeID,
			Name:      checkpointName(ev),
			Timestamp: ev.Timestamp,
			Data:      ev.Attributes,
		})
	case EventError:
		t.Errors = append(t.Errors, ErrorRecord{
			NodeID:    ev.NodeID,
			Message:   ev.ErrorMessage,
			ErrorType: ev.ErrorType,
			Timestamp: ev.Timestamp,
		})
	case EventProduceTopic:
		if ev.CorrelationID == "" {
			return
		}
		for i := range t.AsyncHops {
			if t.AsyncHops[i].CorrelationID == ev.CorrelationID && t.AsyncHops[i].ProducerNode == "" {
				t.AsyncHops[i].ProducerNode = ev.NodeID
				t.AsyncHops[i].ProducedAt = ev.Timestamp
				return
			}
		}
		t.AsyncHops = append(t.AsyncHops, AsyncHop{CorrelationID: ev.CorrelationID, ProducerNode: ev.NodeID, ProducedAt: ev.Timestamp})
	case EventConsumeTopic:
		if ev.CorrelationID == "" {
			return
		}
		for i := range t.AsyncHops {
			if t.AsyncHops[i].CorrelationID == ev.CorrelationID && t.AsyncHops[i].ConsumerNode == "" {
				t.AsyncHops[i].ConsumerNode = ev.NodeID
				t.AsyncHops[i].ConsumedAt = ev.Timestamp
				return
			}
		}
		t.AsyncHops = append(t.AsyncHops, AsyncHop{CorrelationID: ev.CorrelationID, ConsumerNode: ev.NodeID, ConsumedAt: ev.Timestamp})
	}
}

func checkpointName(ev Event) string {
	if ev.Attributes == nil {
		return ""
	}
	if name, ok := ev.Attributes["name"].(string); ok {
		return name
	}
	return ""
}

// MarkComplete sets complete=true and stamps completed-at. Idempotent.
func (b *Buffer) MarkComplete(traceID string) error {
	b.mu.RLock()
	e, ok := b.traces[traceID]
	b.mu.RUnlock()
	if !ok {
		return flowerrors.TraceNotFound(traceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.trace.Complete {
		e.trace.Complete = true
		e.trace.CompletedAt = b.clock.Now()
	}
	return nil
}

// MarkMerged sets merged=true. Idempotent.
func (b *Buffer) MarkMerged(traceID string) error {
	b.mu.RLock()
	e, ok := b.traces[traceID]
	b.mu.RUnlock()
	if !ok {
		return flowerrors.TraceNotFound(traceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trace.Merged = true
	return nil
}

// Get returns a deep snapshot of the trace, or TRACE_NOT_FOUND.
func (b *Buffer) Get(traceID string) (Trace, error) {
	b.mu.RLock()
	e, ok := b.traces[traceID]
	b.mu.RUnlock()
	if !ok {
		return Trace{}, flowerrors.TraceNotFound(traceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trace.clone(), nil
}

// PendingForGraph returns snapshots of every trace for graphID that is
// complete but not yet merged.
func (b *Buffer) PendingForGraph(graphID string) []Trace {
	b.mu.RLock()
	ids := make([]string, 0)
	for id := range b.byGraph[graphID] {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	out := make([]Trace, 0, len(ids))
	for _, id := range ids {
		b.mu.RLock()
		e, ok := b.traces[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.trace.Complete && !e.trace.Merged {
			out = append(out, e.trace.clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Delete removes a single trace. Idempotent.
func (b *Buffer) Delete(traceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.traces[traceID]
	if !ok {
		return
	}
	delete(b.traces, traceID)
	if set, ok := b.byGraph[e.trace.GraphID]; ok {
		delete(set, traceID)
		if len(set) == 0 {
			delete(b.byGraph, e.trace.GraphID)
		}
	}
}

// DeleteForGraph removes every trace associated with graphID. Idempotent.
func (b *Buffer) DeleteForGraph(graphID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.byGraph[graphID] {
		delete(b.traces, id)
	}
	delete(b.byGraph, graphID)
}

// CountForGraph reports the number of traces currently tracked for
// graphID, used by internal/graphstore to populate trace-count metadata.
func (b *Buffer) CountForGraph(graphID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byGraph[graphID])
}

// DeduplicatedCount returns the running total of events dropped as
// duplicates since the buffer was created.
func (b *Buffer) DeduplicatedCount() int64 {
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()
	return b.deduplicated
}
