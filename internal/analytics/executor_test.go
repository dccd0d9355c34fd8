package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowcore/core/internal/flowgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	pushes   int
	failNext bool
}

func (f *fakeSink) Push(ctx context.Context, statements []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.failNext {
		f.failNext = false
		return errors.New("simulated sink failure")
	}
	return nil
}

func (f *fakeSink) Close(ctx context.Context) error { return nil }

func testGraph() *flowgraph.Graph {
	g := flowgraph.New("v1")
	g.AddNode(flowgraph.Node{ID: "n1", Type: flowgraph.NodeService})
	return g
}

func TestExecutor_SubmitAndProcessSucceeds(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Workers: 1, Limiter: LimiterConfig{InitialRPS: 100, MaxRPS: 100}}, sink, nil)
	e.Start(1)
	defer e.Stop()

	require.NoError(t, e.Submit("g1", testGraph()))

	require.Eventually(t, func() bool {
		return len(e.Results()) == 1
	}, time.Second, time.Millisecond)

	results := e.Results()
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "g1", results[0].GraphID)
}

func TestExecutor_SinkFailureIsRecordedNotPanicked(t *testing.T) {
	sink := &fakeSink{failNext: true}
	e := New(Config{Workers: 1, Limiter: LimiterConfig{InitialRPS: 100, MaxRPS: 100}}, sink, nil)
	e.Start(1)
	defer e.Stop()

	require.NoError(t, e.Submit("g1", testGraph()))

	require.Eventually(t, func() bool {
		return len(e.Results()) == 1
	}, time.Second, time.Millisecond)

	assert.Error(t, e.Results()[0].Err)
}
