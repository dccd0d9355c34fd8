// Package extractor implements record C7: zoom slicing, BFS flow
// extraction, and Cypher export, all operating on graph snapshots handed in
// by the caller — no store or buffer dependency of its own.
package extractor

import "github.com/flowcore/core/internal/flowgraph"

// Slice returns a new graph containing every node whose zoom level is at
// most requestedLevel+1 (the UI's "0=highest, higher=more detail" encoding
// maps onto the model's 1-5 zoom levels this way — see the zoom-slice
// design note), and every edge whose endpoints are both present in that
// filtered node set. The input graph is never modified.
func Slice(g *flowgraph.Graph, requestedLevel int) *flowgraph.Graph {
	ceiling := flowgraph.ZoomLevel(requestedLevel + 1)

	out := flowgraph.New(g.Version)
	kept := make(map[string]struct{})
	for _, n := range g.Nodes() {
		if n.Zoom != flowgraph.ZoomUnset && n.Zoom > ceiling {
			continue
		}
		out.AddNode(n)
		kept[n.ID] = struct{}{}
	}

	for _, e := range g.Edges() {
		_, srcOK := kept[e.SourceID]
		_, tgtOK := kept[e.TargetID]
		if srcOK && tgtOK {
			_ = out.AddEdge(e)
		}
	}
	return out
}
