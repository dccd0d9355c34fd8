package flowcore

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/flowcore/core/internal/config"
	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	pushes int
}

func (f *fakeSink) Push(ctx context.Context, statements []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return nil
}

func (f *fakeSink) Close(ctx context.Context) error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Worker.Count = 1
	cfg.Worker.PollTimeout = 10 * time.Millisecond
	cfg.Analytics.Workers = 1
	return cfg
}

func newTestCore(t *testing.T, sink *fakeSink) *Core {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	c, err := New(testConfig(), log, sink)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func staticPayload(graphID string) GraphPayload {
	return GraphPayload{
		Version: "v1",
		GraphID: graphID,
		Nodes: []NodePayload{
			{ID: "ep1", Type: "ENDPOINT", Name: "GET /orders"},
			{ID: "svc1", Type: "SERVICE", Name: "orders-service"},
		},
		Edges: []EdgePayload{
			{ID: "e1", From: "ep1", To: "svc1", Type: "HANDLES"},
		},
	}
}

func TestSubmitStatic_UnknownNodeTypeReturnsValidationError(t *testing.T) {
	c := newTestCore(t, &fakeSink{})

	err := c.SubmitStatic("g1", GraphPayload{
		Nodes: []NodePayload{{ID: "n1", Type: "NOT_A_TYPE"}},
	})

	require.Error(t, err)
	assert.Equal(t, flowerrors.CodeValidation, flowerrors.Code(err))
}

func TestSubmitStatic_ThenGetGraphEventuallySucceeds(t *testing.T) {
	c := newTestCore(t, &fakeSink{})

	require.NoError(t, c.SubmitStatic("g1", staticPayload("g1")))

	require.Eventually(t, func() bool {
		_, err := c.GetGraph("g1")
		return err == nil
	}, time.Second, time.Millisecond)

	g, err := c.GetGraph("g1")
	require.NoError(t, err)
	assert.Equal(t, 2, g.NodeCount())
}

func TestGetGraph_UnknownGraphReturnsGraphNotFound(t *testing.T) {
	c := newTestCore(t, &fakeSink{})

	_, err := c.GetGraph("missing")
	require.Error(t, err)
	assert.Equal(t, flowerrors.CodeGraphNotFound, flowerrors.Code(err))
}

func TestSubmitRuntime_UnknownGraphReturnsGraphNotFoundImmediately(t *testing.T) {
	c := newTestCore(t, &fakeSink{})

	err := c.SubmitRuntime("missing", "trace-1", RuntimePayload{})
	require.Error(t, err)
	assert.Equal(t, flowerrors.CodeGraphNotFound, flowerrors.Code(err))
}

func TestSubmitRuntime_CompletedTraceMergesIntoGraph(t *testing.T) {
	c := newTestCore(t, &fakeSink{})
	require.NoError(t, c.SubmitStatic("g1", staticPayload("g1")))
	require.Eventually(t, func() bool {
		_, err := c.GetGraph("g1")
		return err == nil
	}, time.Second, time.Millisecond)

	now := time.Now()
	payload := RuntimePayload{
		Events: []EventPayload{
			{SpanID: "s1", Type: "METHOD_ENTER", NodeID: "svc1", Timestamp: now},
			{SpanID: "s1", Type: "METHOD_EXIT", NodeID: "svc1", Timestamp: now.Add(5 * time.Millisecond)},
		},
		TraceComplete: true,
	}
	require.NoError(t, c.SubmitRuntime("g1", "trace-1", payload))

	require.Eventually(t, func() bool {
		tr, err := c.GetTrace("trace-1")
		return err == nil && tr.Merged
	}, time.Second, time.Millisecond)
}

func TestSlice_ReflectsZoomLevelsAssignedByAPriorMerge(t *testing.T) {
	c := newTestCore(t, &fakeSink{})
	require.NoError(t, c.SubmitStatic("g1", staticPayload("g1")))
	require.Eventually(t, func() bool {
		_, err := c.GetGraph("g1")
		return err == nil
	}, time.Second, time.Millisecond)

	// Zoom levels are assigned by the merge engine, not at static-graph
	// load time, so a trace has to complete and merge before slicing
	// reflects anything but the unset level.
	now := time.Now()
	require.NoError(t, c.SubmitRuntime("g1", "trace-1", RuntimePayload{
		Events: []EventPayload{
			{SpanID: "s1", Type: "METHOD_ENTER", NodeID: "svc1", Timestamp: now},
			{SpanID: "s1", Type: "METHOD_EXIT", NodeID: "svc1", Timestamp: now.Add(time.Millisecond)},
		},
		TraceComplete: true,
	}))
	require.Eventually(t, func() bool {
		tr, err := c.GetTrace("trace-1")
		return err == nil && tr.Merged
	}, time.Second, time.Millisecond)

	sliced, err := c.Slice("g1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sliced.NodeCount(), "zoom level 0 keeps only business-tier nodes")
	_, hasEndpoint := sliced.GetNode("ep1")
	assert.True(t, hasEndpoint)
}

func TestExportCypher_ReturnsGraphHeaderPlusOneStatementPerNodeAndEdge(t *testing.T) {
	c := newTestCore(t, &fakeSink{})
	require.NoError(t, c.SubmitStatic("g1", staticPayload("g1")))
	require.Eventually(t, func() bool {
		_, err := c.GetGraph("g1")
		return err == nil
	}, time.Second, time.Millisecond)

	stmts, err := c.ExportCypher("g1")
	require.NoError(t, err)
	assert.Equal(t, 1+2+1, len(stmts), "graph header + 2 nodes + 1 edge")
}

func TestPushToAnalytics_DisabledReturnsUnavailable(t *testing.T) {
	c := newTestCore(t, &fakeSink{})

	err := c.PushToAnalytics("g1")
	require.Error(t, err)
	assert.Equal(t, flowerrors.CodeUnavailable, flowerrors.Code(err))
}

func TestDeleteGraph_RemovesGraph(t *testing.T) {
	c := newTestCore(t, &fakeSink{})
	require.NoError(t, c.SubmitStatic("g1", staticPayload("g1")))
	require.Eventually(t, func() bool {
		_, err := c.GetGraph("g1")
		return err == nil
	}, time.Second, time.Millisecond)

	assert.True(t, c.DeleteGraph("g1"))
	_, err := c.GetGraph("g1")
	assert.Error(t, err)
}
