// Package graphstore is the keyed, thread-safe registry of record C2: one
// current Graph value per graph-id plus the metadata record describing it.
//
// Writes to distinct graph-ids proceed in parallel; writes to the same
// graph-id are serialized through that graph-id's own entry lock, not a
// single store-wide lock, so a slow merge on one graph never blocks ingest
// of an unrelated one.
package graphstore

import (
	"sync"
	"time"

	"github.com/flowcore/core/internal/flowgraph"
	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Metadata describes a graph's stored state without exposing the graph
// itself, matching spec.md's graph-store metadata record.
type Metadata struct {
	GraphID        string
	Version        string
	NodeCount      int
	EdgeCount      int
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
	HasRuntimeData bool
	TraceCount     int
}

type entry struct {
	mu       sync.Mutex
	graph    *flowgraph.Graph
	metadata Metadata
	// revision increments on every write. It is the store's own
	// optimistic-concurrency token, distinct from the submitter-supplied
	// Version field on the graph itself.
	revision int64
}

// Store is the C2 graph registry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *logrus.Entry

	// traceCounter is invoked to look up the current trace count for a
	// graph-id when metadata is read, keeping the trace-count field live
	// without the store holding a direct reference to the trace buffer.
	traceCounter func(graphID string) int
}

// New constructs an empty store. traceCounter may be nil, in which case
// trace-count always reports zero.
func New(log *logrus.Logger, traceCounter func(graphID string) int) *Store {
	if log == nil {
		log = logrus.New()
	}
	if traceCounter == nil {
		traceCounter = func(string) int { return 0 }
	}
	return &Store{
		entries:      make(map[string]*entry),
		log:          log.WithField("component", "graphstore"),
		traceCounter: traceCounter,
	}
}

func (s *Store) lockEntryForWrite(graphID string) *entry {
	s.mu.Lock()
	e, ok := s.entries[graphID]
	if !ok {
		e = &entry{}
		s.entries[graphID] = e
	}
	s.mu.Unlock()
	e.mu.Lock()
	return e
}

// PutStatic installs g as the current graph for graphID, replacing any
// prior value. created-at is preserved across a replace; last-updated-at is
// always refreshed to now.
func (s *Store) PutStatic(graphID string, g *flowgraph.Graph) {
	e := s.lockEntryForWrite(graphID)
	defer e.mu.Unlock()

	now := time.Now()
	createdAt := now
	if e.graph != nil {
		createdAt = e.metadata.CreatedAt
	}

	snap := g.Snapshot()
	e.graph = snap
	e.revision++
	e.metadata = Metadata{
		GraphID:        graphID,
		Version:        snap.Version,
		NodeCount:      snap.NodeCount(),
		EdgeCount:      snap.EdgeCount(),
		CreatedAt:      createdAt,
		LastUpdatedAt:  now,
		HasRuntimeData: false,
		TraceCount:     s.traceCounter(graphID),
	}
	s.log.WithFields(logrus.Fields{"graph_id": graphID, "nodes": snap.NodeCount(), "edges": snap.EdgeCount()}).Debug("static graph stored")
}

// Get returns a snapshot of the current graph for graphID, or
// GRAPH_NOT_FOUND.
func (s *Store) Get(graphID string) (*flowgraph.Graph, error) {
	s.mu.RLock()
	e, ok := s.entries[graphID]
	s.mu.RUnlock()
	if !ok {
		return nil, flowerrors.GraphNotFound(graphID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, flowerrors.GraphNotFound(graphID)
	}
	return e.graph.Snapshot(), nil
}

// GetWithRevision returns the same snapshot as Get plus the store's
// internal revision token for that graph-id, for callers (the merge
// engine) that need to detect a concurrent write before committing back.
func (s *Store) GetWithRevision(graphID string) (*flowgraph.Graph, int64, error) {
	s.mu.RLock()
	e, ok := s.entries[graphID]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, flowerrors.GraphNotFound(graphID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, 0, flowerrors.GraphNotFound(graphID)
	}
	return e.graph.Snapshot(), e.revision, nil
}

// UpdateMerged replaces the current graph with newGraph, marking
// has-runtime-data true, but only if the store's current revision for
// graphID still matches expectedRevision. If it does not — a concurrent
// writer committed in between — the call fails with ok=false and the
// caller (the merge engine) is expected to re-read and retry. It is also a
// no-op if no prior value exists for graphID at all.
func (s *Store) UpdateMerged(graphID string, expectedRevision int64, newGraph *flowgraph.Graph) (ok bool) {
	s.mu.RLock()
	e, found := s.entries[graphID]
	s.mu.RUnlock()
	if !found {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.graph == nil {
		return false
	}
	if e.revision != expectedRevision {
		return false
	}

	snap := newGraph.Snapshot()
	createdAt := e.metadata.CreatedAt
	e.graph = snap
	e.revision++
	e.metadata = Metadata{
		GraphID:        graphID,
		Version:        snap.Version,
		NodeCount:      snap.NodeCount(),
		EdgeCount:      snap.EdgeCount(),
		CreatedAt:      createdAt,
		LastUpdatedAt:  time.Now(),
		HasRuntimeData: true,
		TraceCount:     s.traceCounter(graphID),
	}
	return true
}

// Delete removes the graph for graphID. It is idempotent and reports
// whether the graph was present. The caller is responsible for also
// deleting associated trace state (internal/flowcore wires this through
// the trace buffer's delete-for-graph).
func (s *Store) Delete(graphID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[graphID]
	delete(s.entries, graphID)
	return ok
}

// GetMetadata returns the metadata record for graphID.
func (s *Store) GetMetadata(graphID string) (Metadata, error) {
	s.mu.RLock()
	e, ok := s.entries[graphID]
	s.mu.RUnlock()
	if !ok {
		return Metadata{}, flowerrors.GraphNotFound(graphID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	md := e.metadata
	md.TraceCount = s.traceCounter(graphID)
	return md, nil
}

// List returns a snapshot of every stored graph's metadata. It may lag a
// concurrent write by a moment but never includes a deleted entry.
func (s *Store) List() []Metadata {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		if md, err := s.GetMetadata(id); err == nil {
			out = append(out, md)
		}
	}
	return out
}
