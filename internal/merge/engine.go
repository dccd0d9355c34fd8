package merge

import (
	"github.com/flowcore/core/internal/flowgraph"
	"github.com/flowcore/core/internal/tracebuffer"
	flowerrors "github.com/flowcore/core/pkg/errors"
)

// zoomPolicy assigns a zoom level to every node whose level is unset, per
// spec.md §4.6. Zoom levels once assigned are never reassigned.
func zoomPolicy(g *flowgraph.Graph) {
	for _, n := range g.Nodes() {
		if n.Zoom != flowgraph.ZoomUnset {
			continue
		}
		g.SetZoom(n.ID, zoomForNode(n))
	}
}

func zoomForNode(n flowgraph.Node) flowgraph.ZoomLevel {
	switch n.Type {
	case flowgraph.NodeEndpoint, flowgraph.NodeTopic:
		return flowgraph.ZoomBusiness
	case flowgraph.NodeService, flowgraph.NodeClass:
		return flowgraph.ZoomService
	case flowgraph.NodeMethod:
		if n.Visibility == flowgraph.VisibilityPublic {
			return flowgraph.ZoomPublic
		}
		return flowgraph.ZoomPrivate
	case flowgraph.NodePrivateMethod:
		return flowgraph.ZoomPrivate
	default:
		return flowgraph.ZoomService
	}
}

// Apply folds trace t into a copy of g, running the fixed stage pipeline,
// assigning zoom levels, and validating the result. It does not touch the
// graph store; callers decide how to commit the result.
//
// Applying the same completed trace twice is a no-op the second time: the
// returned graph is a snapshot of g itself, unchanged.
func Apply(g *flowgraph.Graph, t tracebuffer.Trace, strict bool) (*flowgraph.Graph, error) {
	working := g.Snapshot()

	if working.HasMergedTrace(t.TraceID) {
		return working, nil
	}

	for _, stage := range Pipeline() {
		stage.Apply(working, t)
	}
	zoomPolicy(working)
	working.MarkTraceMerged(t.TraceID)

	if err := Validate(working, strict); err != nil {
		return nil, err
	}
	return working, nil
}

// Validate checks the invariants of spec.md §3 against g. In strict mode it
// additionally rejects self-loop edges and requires every node to have an
// assigned zoom level.
func Validate(g *flowgraph.Graph, strict bool) error {
	for _, n := range g.Nodes() {
		if strict && n.Zoom == flowgraph.ZoomUnset {
			return flowerrors.MergeInvalid(g.Version, "node "+n.ID+" has no assigned zoom level")
		}
		if n.Zoom != flowgraph.ZoomUnset && !n.Zoom.Valid() {
			return flowerrors.MergeInvalid(g.Version, "node "+n.ID+" has an out-of-range zoom level")
		}
	}

	for _, e := range g.Edges() {
		if _, ok := g.GetNode(e.SourceID); !ok {
			return flowerrors.MergeInvalid(g.Version, "edge "+e.ID+" source does not exist")
		}
		if _, ok := g.GetNode(e.TargetID); !ok {
			return flowerrors.MergeInvalid(g.Version, "edge "+e.ID+" target does not exist")
		}
		if strict && e.SourceID == e.TargetID {
			return flowerrors.MergeInvalid(g.Version, "edge "+e.ID+" is a self-loop under strict validation")
		}
	}
	return nil
}
