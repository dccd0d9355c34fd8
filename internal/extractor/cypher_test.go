package extractor

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/flowcore/core/internal/flowgraph"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCypher_NodeAndEdgeCountsMatchGraph(t *testing.T) {
	g := flowgraph.New("v1")
	g.AddNode(flowgraph.Node{ID: "svc-a", Name: "Service A", Type: flowgraph.NodeService, Visibility: flowgraph.VisibilityPublic})
	g.AddNode(flowgraph.Node{ID: "svc-b", Name: "Service B", Type: flowgraph.NodeService, Visibility: flowgraph.VisibilityPublic})
	require.NoError(t, g.AddEdge(flowgraph.Edge{ID: "e1", SourceID: "svc-a", TargetID: "svc-b", Type: flowgraph.EdgeCall}))

	stmts := ExportCypher(g, "g1", time.Unix(0, 0))

	require.Len(t, stmts, 1+g.NodeCount()+g.EdgeCount())
	assert.Contains(t, stmts[0], "MERGE (g:FlowGraph")
	assert.Contains(t, stmts[0], "nodeCount: 2")
	assert.Contains(t, stmts[0], "edgeCount: 1")

	var createCount, matchCount int
	for _, s := range stmts[1:] {
		if strings.HasPrefix(s, "CREATE (n") {
			createCount++
		}
		if strings.HasPrefix(s, "MATCH") {
			matchCount++
		}
	}
	assert.Equal(t, 2, createCount)
	assert.Equal(t, 1, matchCount)
}

func TestExportCypher_EveryEdgeMatchReferencesAPrecedingCreate(t *testing.T) {
	g := flowgraph.New("v1")
	g.AddNode(flowgraph.Node{ID: "svc-a", Type: flowgraph.NodeService})
	g.AddNode(flowgraph.Node{ID: "svc-b", Type: flowgraph.NodeService})
	require.NoError(t, g.AddEdge(flowgraph.Edge{ID: "e1", SourceID: "svc-a", TargetID: "svc-b", Type: flowgraph.EdgeCall}))

	stmts := ExportCypher(g, "g1", time.Unix(0, 0))

	createdIDs := make(map[string]bool)
	for _, s := range stmts {
		if strings.HasPrefix(s, "CREATE (n") {
			if strings.Contains(s, "id: 'svc-a'") {
				createdIDs["svc-a"] = true
			}
			if strings.Contains(s, "id: 'svc-b'") {
				createdIDs["svc-b"] = true
			}
		}
		if strings.HasPrefix(s, "MATCH") {
			assert.True(t, createdIDs["svc-a"])
			assert.True(t, createdIDs["svc-b"])
		}
	}
}

func TestExportCypher_SanitizesIdentifiersAndEscapesQuotes(t *testing.T) {
	g := flowgraph.New("v1")
	g.AddNode(flowgraph.Node{ID: "svc.weird/id", Name: "O'Brien's Service", Type: flowgraph.NodeService})

	stmts := ExportCypher(g, "g1", time.Unix(0, 0))

	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "(nsvc_weird_id:FlowNode")
	assert.Contains(t, stmts[1], `O\'Brien\'s Service`)
}

func TestExportCypherGzip_RoundTripsToIdenticalText(t *testing.T) {
	g := flowgraph.New("v1")
	g.AddNode(flowgraph.Node{ID: "svc-a", Type: flowgraph.NodeService})

	compressed, err := ExportCypherGzip(g, "g1", time.Unix(0, 0))
	require.NoError(t, err)

	r, err := gzip.NewReader(strings.NewReader(string(compressed)))
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Contains(t, string(out), "MERGE (g:FlowGraph")
	assert.Contains(t, string(out), "svc-a")
}
