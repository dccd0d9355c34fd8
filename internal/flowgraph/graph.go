package flowgraph

import (
	"sort"

	flowerrors "github.com/flowcore/core/pkg/errors"
)

// Graph is a versioned directed multigraph. It is a pure value type: no
// locking, no I/O. Concurrent safety for a live graph is the graph store's
// job (internal/graphstore), not this package's.
//
// Outgoing and incoming are maintained in lockstep with edges so traversal
// never has to scan the full edge map.
type Graph struct {
	Version  string
	nodes    map[string]Node
	edges    map[string]Edge
	outgoing map[string][]string
	incoming map[string][]string

	// mergedTraces records which trace-ids have already been folded into
	// this graph, so the merge engine can make re-applying the same
	// completed trace a no-op rather than double-counting executions,
	// durations, and checkpoints.
	mergedTraces map[string]struct{}
}

// New returns an empty graph stamped with the given submitter-supplied
// version string.
func New(version string) *Graph {
	return &Graph{
		Version:      version,
		nodes:        make(map[string]Node),
		edges:        make(map[string]Edge),
		outgoing:     make(map[string][]string),
		incoming:     make(map[string][]string),
		mergedTraces: make(map[string]struct{}),
	}
}

// HasMergedTrace reports whether traceID has already been folded into this
// graph.
func (g *Graph) HasMergedTrace(traceID string) bool {
	_, ok := g.mergedTraces[traceID]
	return ok
}

// MarkTraceMerged records that traceID has been folded into this graph.
func (g *Graph) MarkTraceMerged(traceID string) {
	g.mergedTraces[traceID] = struct{}{}
}

// AddNode inserts or replaces a node by id.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n.Clone()
}

// AddEdge inserts an edge. It fails with INVALID_REFERENCE if either
// endpoint is not already present in the graph.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.SourceID]; !ok {
		return flowerrors.InvalidReference(e.ID, e.SourceID).Wrap(&ErrInvalidReference{EdgeID: e.ID, MissingNodeID: e.SourceID})
	}
	if _, ok := g.nodes[e.TargetID]; !ok {
		return flowerrors.InvalidReference(e.ID, e.TargetID).Wrap(&ErrInvalidReference{EdgeID: e.ID, MissingNodeID: e.TargetID})
	}
	g.edges[e.ID] = e.Clone()
	g.outgoing[e.SourceID] = append(g.outgoing[e.SourceID], e.ID)
	g.incoming[e.TargetID] = append(g.incoming[e.TargetID], e.ID)
	return nil
}

// GetNode returns the node by id and whether it was present.
func (g *Graph) GetNode(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// GetEdge returns the edge by id and whether it was present.
func (g *Graph) GetEdge(id string) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return e.Clone(), true
}

// Outgoing returns the ordered edge-ids whose source is node-id.
func (g *Graph) Outgoing(nodeID string) []string {
	return append([]string(nil), g.outgoing[nodeID]...)
}

// Incoming returns the ordered edge-ids whose target is node-id.
func (g *Graph) Incoming(nodeID string) []string {
	return append([]string(nil), g.incoming[nodeID]...)
}

// NodesAtZoom returns every node whose zoom level equals level, ordered by
// id for deterministic output.
func (g *Graph) NodesAtZoom(level ZoomLevel) []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.Zoom == level {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeCount returns the number of nodes currently in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges currently in the graph.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns every node in the graph, ordered by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns every edge in the graph, ordered by id.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetMetadata replaces the value for key on node-id. It is a no-op if the
// node is absent.
func (g *Graph) SetMetadata(nodeID, key string, value any) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
	g.nodes[nodeID] = n
}

// SetEdgeAttribute replaces the value for key on edge-id's Attributes. It is
// a no-op if the edge is absent.
func (g *Graph) SetEdgeAttribute(edgeID, key string, value any) {
	e, ok := g.edges[edgeID]
	if !ok {
		return
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = value
	g.edges[edgeID] = e
}

// SetZoom assigns the zoom level for a node. Called exclusively by the merge
// engine; the submitter never assigns zoom levels directly.
func (g *Graph) SetZoom(nodeID string, level ZoomLevel) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return
	}
	n.Zoom = level
	g.nodes[nodeID] = n
}

// IncrementExecutionCount bumps an edge's execution count by delta, which
// must be non-negative; the edge is left unchanged if absent.
func (g *Graph) IncrementExecutionCount(edgeID string, delta int64) {
	e, ok := g.edges[edgeID]
	if !ok || delta < 0 {
		return
	}
	e.ExecutionCount += delta
	g.edges[edgeID] = e
}

// Snapshot returns a deep copy of the graph, safe for a reader to hold
// indefinitely without observing future mutation.
func (g *Graph) Snapshot() *Graph {
	cp := New(g.Version)
	for id, n := range g.nodes {
		cp.nodes[id] = n.Clone()
	}
	for id, e := range g.edges {
		cp.edges[id] = e.Clone()
	}
	for id, seq := range g.outgoing {
		cp.outgoing[id] = append([]string(nil), seq...)
	}
	for id, seq := range g.incoming {
		cp.incoming[id] = append([]string(nil), seq...)
	}
	for id := range g.mergedTraces {
		cp.mergedTraces[id] = struct{}{}
	}
	return cp
}
