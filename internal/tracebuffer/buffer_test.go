package tracebuffer

import (
	"testing"
	"time"

	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestAppend_DedupByEventID(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)
	ev := Event{EventID: "e1", Type: EventMethodEnter, SpanID: "s1", Timestamp: time.Now()}

	n1 := b.Append("t1", "g1", []Event{ev})
	n2 := b.Append("t1", "g1", []Event{ev})

	assert.Equal(t, 1, n1)
	assert.Equal(t, 0, n2)

	tr, err := b.Get("t1")
	require.NoError(t, err)
	assert.Len(t, tr.Events, 1)
	assert.EqualValues(t, 1, b.DeduplicatedCount())
}

func TestAppend_DedupBySpanTypeTimestampWhenEventIDAbsent(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)
	ts := time.Now()
	ev := Event{Type: EventMethodEnter, SpanID: "s1", Timestamp: ts}

	b.Append("t1", "g1", []Event{ev})
	b.Append("t1", "g1", []Event{ev})

	tr, err := b.Get("t1")
	require.NoError(t, err)
	assert.Len(t, tr.Events, 1)
}

func TestGet_UnknownTraceReturnsTraceNotFound(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)

	_, err := b.Get("missing")

	assert.Equal(t, flowerrors.CodeTraceNotFound, flowerrors.Code(err))
}

func TestMarkComplete_IsIdempotentAndStampsCompletedAt(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New(DefaultConfig(), clock, nil)
	b.Append("t1", "g1", []Event{{Type: EventMethodEnter, SpanID: "s1", Timestamp: clock.now}})

	require.NoError(t, b.MarkComplete("t1"))
	first, _ := b.Get("t1")

	clock.now = clock.now.Add(time.Hour)
	require.NoError(t, b.MarkComplete("t1"))
	second, _ := b.Get("t1")

	assert.True(t, first.Complete)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
}

func TestPendingForGraph_OnlyCompleteAndUnmerged(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)
	b.Append("t1", "g1", []Event{{Type: EventMethodEnter, SpanID: "s1", Timestamp: time.Now()}})
	b.Append("t2", "g1", []Event{{Type: EventMethodEnter, SpanID: "s2", Timestamp: time.Now()}})
	require.NoError(t, b.MarkComplete("t1"))
	require.NoError(t, b.MarkComplete("t2"))
	require.NoError(t, b.MarkMerged("t2"))

	pending := b.PendingForGraph("g1")

	require.Len(t, pending, 1)
	assert.Equal(t, "t1", pending[0].TraceID)
}

func TestCheckpointAndErrorProjections(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)
	b.Append("t1", "g1", []Event{
		{Type: EventCheckpoint, NodeID: "n1", Timestamp: time.Now(), Attributes: map[string]any{"name": "validated"}},
		{Type: EventError, NodeID: "n1", ErrorMessage: "boom", ErrorType: "RuntimeException", Timestamp: time.Now()},
	})

	tr, err := b.Get("t1")
	require.NoError(t, err)
	require.Len(t, tr.Checkpoints, 1)
	assert.Equal(t, "validated", tr.Checkpoints[0].Name)
	require.Len(t, tr.Errors, 1)
	assert.Equal(t, "RuntimeException", tr.Errors[0].ErrorType)
	assert.True(t, tr.HasErrors())
}

func TestAsyncHopCorrelation(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)
	now := time.Now()
	b.Append("t1", "g1", []Event{
		{Type: EventProduceTopic, NodeID: "producer", CorrelationID: "corr-1", Timestamp: now},
		{Type: EventConsumeTopic, NodeID: "consumer", CorrelationID: "corr-1", Timestamp: now.Add(time.Millisecond)},
	})

	tr, err := b.Get("t1")
	require.NoError(t, err)
	require.Len(t, tr.AsyncHops, 1)
	assert.Equal(t, "producer", tr.AsyncHops[0].ProducerNode)
	assert.Equal(t, "consumer", tr.AsyncHops[0].ConsumerNode)
}

func TestEvictExpired_RemovesOnlyMergedPastTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cfg := DefaultConfig()
	cfg.TTL = time.Second
	b := New(cfg, clock, nil)

	b.Append("merged", "g1", []Event{{Type: EventMethodEnter, SpanID: "s1", Timestamp: clock.now}})
	require.NoError(t, b.MarkComplete("merged"))
	require.NoError(t, b.MarkMerged("merged"))

	b.Append("unmerged", "g1", []Event{{Type: EventMethodEnter, SpanID: "s2", Timestamp: clock.now}})

	clock.now = clock.now.Add(2 * time.Second)
	removed := b.EvictExpired()

	assert.Equal(t, 1, removed)
	_, err := b.Get("merged")
	assert.Equal(t, flowerrors.CodeTraceNotFound, flowerrors.Code(err))
	_, err = b.Get("unmerged")
	assert.NoError(t, err)
}

func TestEvictor_StopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.EvictionInterval = time.Millisecond
	b := New(cfg, nil, nil)
	ev := NewEvictor(b)
	ev.Start()
	time.Sleep(5 * time.Millisecond)
	ev.Stop()
}

func TestDeleteForGraph_RemovesAllAssociatedTraces(t *testing.T) {
	b := New(DefaultConfig(), nil, nil)
	b.Append("t1", "g1", []Event{{Type: EventMethodEnter, SpanID: "s1", Timestamp: time.Now()}})
	b.Append("t2", "g1", []Event{{Type: EventMethodEnter, SpanID: "s2", Timestamp: time.Now()}})

	b.DeleteForGraph("g1")

	assert.Equal(t, 0, b.CountForGraph("g1"))
	_, err := b.Get("t1")
	assert.Error(t, err)
}
