package graphstore

import (
	"testing"
	"time"

	"github.com/flowcore/core/internal/flowgraph"
	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(version string) *flowgraph.Graph {
	g := flowgraph.New(version)
	g.AddNode(flowgraph.Node{ID: "n1", Type: flowgraph.NodeService})
	return g
}

func TestGet_AbsentGraphReturnsGraphNotFound(t *testing.T) {
	s := New(nil, nil)

	_, err := s.Get("missing")

	require.Error(t, err)
	assert.Equal(t, flowerrors.CodeGraphNotFound, flowerrors.Code(err))
}

func TestPutStatic_PreservesCreatedAtAcrossReplace(t *testing.T) {
	s := New(nil, nil)

	s.PutStatic("g1", newTestGraph("v1"))
	first, err := s.GetMetadata("g1")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	s.PutStatic("g1", newTestGraph("v2"))
	second, err := s.GetMetadata("g1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.LastUpdatedAt.After(first.LastUpdatedAt) || second.LastUpdatedAt.Equal(first.LastUpdatedAt))
	assert.Equal(t, "v2", second.Version)
}

func TestUpdateMerged_NoOpWithoutPriorValue(t *testing.T) {
	s := New(nil, nil)

	ok := s.UpdateMerged("missing", 0, newTestGraph("v1"))

	assert.False(t, ok)
	_, err := s.Get("missing")
	assert.Equal(t, flowerrors.CodeGraphNotFound, flowerrors.Code(err))
}

func TestUpdateMerged_SetsHasRuntimeData(t *testing.T) {
	s := New(nil, nil)
	s.PutStatic("g1", newTestGraph("v1"))
	_, rev, err := s.GetWithRevision("g1")
	require.NoError(t, err)

	ok := s.UpdateMerged("g1", rev, newTestGraph("v2"))
	require.True(t, ok)

	md, err := s.GetMetadata("g1")
	require.NoError(t, err)
	assert.True(t, md.HasRuntimeData)
	assert.Equal(t, "v2", md.Version)
}

func TestUpdateMerged_FailsOnStaleRevision(t *testing.T) {
	s := New(nil, nil)
	s.PutStatic("g1", newTestGraph("v1"))
	_, staleRev, err := s.GetWithRevision("g1")
	require.NoError(t, err)

	s.PutStatic("g1", newTestGraph("v2")) // bumps the revision

	ok := s.UpdateMerged("g1", staleRev, newTestGraph("v3"))

	assert.False(t, ok)
	md, err := s.GetMetadata("g1")
	require.NoError(t, err)
	assert.Equal(t, "v2", md.Version)
}

func TestGet_ReturnsIndependentSnapshot(t *testing.T) {
	s := New(nil, nil)
	s.PutStatic("g1", newTestGraph("v1"))

	snap, err := s.Get("g1")
	require.NoError(t, err)
	snap.AddNode(flowgraph.Node{ID: "n2", Type: flowgraph.NodeService})

	again, err := s.Get("g1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.NodeCount())
}

func TestDelete_IsIdempotentAndReportsPresence(t *testing.T) {
	s := New(nil, nil)
	s.PutStatic("g1", newTestGraph("v1"))

	assert.True(t, s.Delete("g1"))
	assert.False(t, s.Delete("g1"))

	_, err := s.Get("g1")
	assert.Equal(t, flowerrors.CodeGraphNotFound, flowerrors.Code(err))
}

func TestList_NeverContainsDeletedEntry(t *testing.T) {
	s := New(nil, nil)
	s.PutStatic("g1", newTestGraph("v1"))
	s.PutStatic("g2", newTestGraph("v1"))
	s.Delete("g1")

	list := s.List()

	require.Len(t, list, 1)
	assert.Equal(t, "g2", list[0].GraphID)
}

func TestList_ReflectsTraceCounterCallback(t *testing.T) {
	s := New(nil, func(graphID string) int {
		if graphID == "g1" {
			return 3
		}
		return 0
	})
	s.PutStatic("g1", newTestGraph("v1"))

	md, err := s.GetMetadata("g1")
	require.NoError(t, err)
	assert.Equal(t, 3, md.TraceCount)
}
