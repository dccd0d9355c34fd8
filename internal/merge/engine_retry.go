package merge

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/core/internal/graphstore"
	"github.com/flowcore/core/internal/metrics"
	"github.com/flowcore/core/internal/tracebuffer"
	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// MaxOptimisticAttempts bounds how many times a merge is retried against a
// newer graph revision before MERGE_CONFLICT is surfaced.
const MaxOptimisticAttempts = 3

// DroppedTrace records a trace that could not be committed.
type DroppedTrace struct {
	TraceID  string
	GraphID  string
	Reason   string // "MERGE_CONFLICT" or "MERGE_INVALID"
	Detail   string
	DroppedAt time.Time
}

// Engine orchestrates C6 against the live C2/C3 state: it reads a graph and
// trace snapshot, computes the merged graph, and commits it with optimistic
// retry. It never blocks on I/O — all retries operate on in-memory
// snapshots re-read from the store.
type Engine struct {
	store  *graphstore.Store
	traces *tracebuffer.Buffer
	strict bool
	tracer oteltrace.Tracer
	log    *logrus.Entry

	concurrency *semaphore.Weighted

	mu      sync.Mutex
	dropped []DroppedTrace
}

// New constructs a merge engine. tracer may be the no-op tracer when
// tracing is disabled. maxConcurrent bounds how many merges run at once
// across the process (golang.org/x/sync/semaphore).
func New(store *graphstore.Store, traces *tracebuffer.Buffer, strict bool, tracer oteltrace.Tracer, log *logrus.Logger, maxConcurrent int64) *Engine {
	if log == nil {
		log = logrus.New()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Engine{
		store:       store,
		traces:      traces,
		strict:      strict,
		tracer:      tracer,
		log:         log.WithField("component", "merge"),
		concurrency: semaphore.NewWeighted(maxConcurrent),
	}
}

// MergeTrace folds the named completed trace into its graph, committing via
// optimistic retry against the store. On MERGE_CONFLICT or MERGE_INVALID
// the trace is recorded in the dropped registry and left in the buffer for
// a future retry.
func (e *Engine) MergeTrace(ctx context.Context, traceID, graphID string) error {
	if err := e.concurrency.Acquire(ctx, 1); err != nil {
		return flowerrors.Internal("merge", "acquire-slot", err)
	}
	defer e.concurrency.Release(1)

	ctx, span := e.tracer.Start(ctx, "merge.trace")
	defer span.End()
	span.SetAttributes(
		attribute.String("flowcore.trace_id", traceID),
		attribute.String("flowcore.graph_id", graphID),
	)

	trace, err := e.traces.Get(traceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxOptimisticAttempts; attempt++ {
		g, revision, err := e.store.GetWithRevision(graphID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		merged, err := Apply(g, trace, e.strict)
		if err != nil {
			e.recordDropped(traceID, graphID, flowerrors.Code(err), err.Error())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		if e.store.UpdateMerged(graphID, revision, merged) {
			if markErr := e.traces.MarkMerged(traceID); markErr != nil {
				e.log.WithError(markErr).Warn("trace merged into graph but MarkMerged failed")
			}
			span.SetAttributes(attribute.Int("flowcore.merge_attempts", attempt))
			metrics.MergeAttempts.Observe(float64(attempt))
			return nil
		}

		lastErr = flowerrors.MergeConflict(graphID)
		e.log.WithFields(logrus.Fields{"trace_id": traceID, "graph_id": graphID, "attempt": attempt}).
			Debug("optimistic merge commit lost the race, retrying")
	}

	e.recordDropped(traceID, graphID, flowerrors.CodeMergeConflict, "optimistic retry budget exhausted")
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return lastErr
}

func (e *Engine) recordDropped(traceID, graphID, reason, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropped = append(e.dropped, DroppedTrace{
		TraceID:   traceID,
		GraphID:   graphID,
		Reason:    reason,
		Detail:    detail,
		DroppedAt: time.Now(),
	})
}

// Dropped returns a snapshot of traces that could not be committed, for an
// admin operation to inspect or schedule a manual retry.
func (e *Engine) Dropped() []DroppedTrace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]DroppedTrace(nil), e.dropped...)
}

// RetryDropped re-attempts every currently dropped trace whose reason was
// MERGE_CONFLICT (MERGE_INVALID traces need a corrected submission, not a
// bare retry); MERGE_INVALID entries are put back unchanged. A retry that
// fails with MERGE_CONFLICT or MERGE_INVALID re-adds itself to the dropped
// registry via the normal MergeTrace path; a retry that fails for any other
// reason, such as the trace or graph no longer being present, is not
// re-added.
func (e *Engine) RetryDropped(ctx context.Context) {
	e.mu.Lock()
	pending := append([]DroppedTrace(nil), e.dropped...)
	e.dropped = nil
	e.mu.Unlock()

	for _, d := range pending {
		if d.Reason != flowerrors.CodeMergeConflict {
			e.mu.Lock()
			e.dropped = append(e.dropped, d)
			e.mu.Unlock()
			continue
		}
		_ = e.MergeTrace(ctx, d.TraceID, d.GraphID)
	}
}
