package extractor

import (
	"testing"

	"github.com/flowcore/core/internal/flowgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zoomGraph() *flowgraph.Graph {
	g := flowgraph.New("v1")
	g.AddNode(flowgraph.Node{ID: "endpoint", Type: flowgraph.NodeEndpoint, Zoom: flowgraph.ZoomBusiness})
	g.AddNode(flowgraph.Node{ID: "service", Type: flowgraph.NodeService, Zoom: flowgraph.ZoomService})
	g.AddNode(flowgraph.Node{ID: "method", Type: flowgraph.NodeMethod, Zoom: flowgraph.ZoomPublic})
	g.AddNode(flowgraph.Node{ID: "private", Type: flowgraph.NodePrivateMethod, Zoom: flowgraph.ZoomPrivate})
	g.AddNode(flowgraph.Node{ID: "runtime-only", Type: flowgraph.NodeMethod, Zoom: flowgraph.ZoomRuntime})
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(g.AddEdge(flowgraph.Edge{ID: "e1", SourceID: "endpoint", TargetID: "service", Type: flowgraph.EdgeCall}))
	must(g.AddEdge(flowgraph.Edge{ID: "e2", SourceID: "service", TargetID: "method", Type: flowgraph.EdgeCall}))
	must(g.AddEdge(flowgraph.Edge{ID: "e3", SourceID: "method", TargetID: "private", Type: flowgraph.EdgeCall}))
	must(g.AddEdge(flowgraph.Edge{ID: "e4", SourceID: "private", TargetID: "runtime-only", Type: flowgraph.EdgeRuntimeCall}))
	return g
}

func TestSlice_Level0KeepsOnlyBusinessZoom(t *testing.T) {
	out := Slice(zoomGraph(), 0)

	assert.Equal(t, 1, out.NodeCount())
	_, ok := out.GetNode("endpoint")
	assert.True(t, ok)
	assert.Equal(t, 0, out.EdgeCount())
}

func TestSlice_Level2IncludesPublicMethodsButNotPrivate(t *testing.T) {
	out := Slice(zoomGraph(), 2)

	_, hasMethod := out.GetNode("method")
	_, hasPrivate := out.GetNode("private")
	assert.True(t, hasMethod)
	assert.False(t, hasPrivate)
}

func TestSlice_EdgeKeptOnlyWhenBothEndpointsSurvive(t *testing.T) {
	out := Slice(zoomGraph(), 2)

	_, ok := out.GetEdge("e3")
	assert.False(t, ok, "e3 spans method->private; private is filtered at this level")
	_, ok = out.GetEdge("e2")
	assert.True(t, ok)
}

func TestSlice_DoesNotMutateInput(t *testing.T) {
	g := zoomGraph()
	before := g.NodeCount()

	_ = Slice(g, 1)

	require.Equal(t, before, g.NodeCount())
}
