// Package flowcore is the composition root: it wires the graph store,
// trace buffer, ingest queue, worker pool, merge engine, extractor, and the
// analytics/tracing ambient stack into the nine operations an adapter,
// plugin, or query client drives Flow Core through.
package flowcore

import (
	"context"
	"time"

	"github.com/flowcore/core/internal/analytics"
	"github.com/flowcore/core/internal/config"
	"github.com/flowcore/core/internal/extractor"
	"github.com/flowcore/core/internal/flowgraph"
	"github.com/flowcore/core/internal/graphstore"
	"github.com/flowcore/core/internal/ingestqueue"
	"github.com/flowcore/core/internal/merge"
	"github.com/flowcore/core/internal/metrics"
	"github.com/flowcore/core/internal/obstrace"
	"github.com/flowcore/core/internal/tracebuffer"
	"github.com/flowcore/core/internal/workerpool"
	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Core wires every component behind the nine operations an ingest adapter
// or query client drives: submit-static, submit-runtime, get-graph,
// list-graphs, delete-graph, slice, get-trace, export-cypher, and
// push-to-analytics.
type Core struct {
	instanceID string
	cfg        *config.Config
	log        *logrus.Entry

	store   *graphstore.Store
	traces  *tracebuffer.Buffer
	queue   *ingestqueue.Queue
	pool    *workerpool.Pool
	merge   *merge.Engine
	evictor *tracebuffer.Evictor

	tracing  *obstrace.Manager
	analytics *analytics.Executor

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New wires every C1-C7 component plus the ambient/domain stack from cfg.
// sink is the analytics push destination; it may be nil when
// cfg.Analytics.Enabled is false.
func New(cfg *config.Config, log *logrus.Logger, sink analytics.Sink) (*Core, error) {
	if log == nil {
		log = logrus.New()
	}
	instanceID := uuid.NewString()
	entry := log.WithFields(logrus.Fields{"component": "flowcore", "instance_id": instanceID})

	tracingCfg := obstrace.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.Exporter = cfg.Tracing.Exporter
	tracingCfg.Endpoint = cfg.Tracing.Endpoint
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tracing, err := obstrace.New(tracingCfg, log)
	if err != nil {
		return nil, flowerrors.Internal("flowcore", "new", err)
	}

	traces := tracebuffer.New(tracebuffer.Config{
		TTL:              cfg.Trace.TTL,
		MaxCount:         cfg.Trace.MaxCount,
		EvictionInterval: cfg.Trace.EvictionInterval,
		UnmergedMaxAge:   cfg.Trace.UnmergedMaxAge,
		DedupEnabled:     cfg.Dedup.Enabled,
	}, nil, log)

	store := graphstore.New(log, traces.CountForGraph)

	mergeEngine := merge.New(store, traces, cfg.Validator.Strict, tracing.GetTracer(), log, cfg.Merge.MaxConcurrent)

	queue := ingestqueue.New(cfg.Queue.Capacity)

	c := &Core{
		instanceID: instanceID,
		cfg:        cfg,
		log:        entry,
		store:      store,
		traces:     traces,
		queue:      queue,
		merge:      mergeEngine,
		evictor:    tracebuffer.NewEvictor(traces),
		tracing:    tracing,
		analytics: analytics.New(analytics.Config{
			Breaker: analytics.BreakerConfig{FailureThreshold: cfg.Analytics.FailureThreshold},
			Limiter: analytics.LimiterConfig{InitialRPS: cfg.Analytics.InitialRPS, MaxRPS: cfg.Analytics.MaxRPS},
			Workers: cfg.Analytics.Workers,
		}, sink, log),
	}

	c.pool = workerpool.New(workerpool.Config{
		WorkerCount:           cfg.Worker.Count,
		PollTimeout:           cfg.Worker.PollTimeout,
		ShutdownGracePeriod:   cfg.Worker.ShutdownGracePeriod,
		BackpressureThreshold: float64(cfg.Queue.BackpressureThreshold),
	}, queue, workerpool.Handlers{
		LoadStatic:    c.loadStatic,
		AppendRuntime: c.appendRuntime,
	}, log, workerpool.GopsutilSampler{})

	entry.Info("flow core components wired")
	return c, nil
}

// Start launches every background loop: the ingest worker pool, the
// analytics executor, the trace evictor, and the metrics reporting loop.
func (c *Core) Start() {
	c.pool.Start()
	c.analytics.Start(c.cfg.Analytics.Workers)
	c.evictor.Start()

	ctx, cancel := context.WithCancel(context.Background())
	c.healthCancel = cancel
	c.healthDone = make(chan struct{})
	go c.reportMetricsLoop(ctx)

	c.log.Info("flow core started")
}

// Stop shuts down every background loop in reverse order of Start, and
// flushes the tracing provider.
func (c *Core) Stop() {
	if c.healthCancel != nil {
		c.healthCancel()
		<-c.healthDone
	}
	c.evictor.Stop()
	c.analytics.Stop()
	c.pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.tracing.Shutdown(shutdownCtx); err != nil {
		c.log.WithError(err).Warn("tracing shutdown did not complete cleanly")
	}
	c.log.Info("flow core stopped")
}

func (c *Core) reportMetricsLoop(ctx context.Context) {
	defer close(c.healthDone)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportMetrics(ctx)
		}
	}
}

func (c *Core) reportMetrics(ctx context.Context) {
	metrics.QueueDepth.Set(float64(c.queue.Size()))
	metrics.QueueUtilization.Set(c.queue.UtilizationPercent())
	metrics.ActiveWorkers.Set(float64(c.pool.ActiveWorkers()))
	metrics.GraphsTracked.Set(float64(len(c.store.List())))

	health := c.pool.Health(ctx)
	metrics.BackpressureLevel.Set(float64(health.Level))
}

// SubmitStatic parses and validates payload synchronously (VALIDATION_ERROR
// is returned directly, never through the queue) then enqueues the load for
// the worker pool. QUEUE_FULL is returned if the queue does not drain
// within the configured enqueue timeout.
func (c *Core) SubmitStatic(graphID string, payload GraphPayload) error {
	payload.GraphID = graphID
	g, err := buildGraph(payload)
	if err != nil {
		metrics.EnqueueTotal.WithLabelValues("static", "validation_error").Inc()
		return err
	}

	work := ingestqueue.Work{
		Kind: ingestqueue.KindStaticGraph,
		Static: ingestqueue.StaticGraphWork{
			GraphID:   graphID,
			Payload:   g,
			CreatedAt: time.Now(),
		},
	}
	if !c.queue.Enqueue(work, c.cfg.EnqueueTimeout) {
		metrics.EnqueueTotal.WithLabelValues("static", "full").Inc()
		return flowerrors.QueueFull("ingestqueue")
	}
	metrics.EnqueueTotal.WithLabelValues("static", "success").Inc()
	return nil
}

func (c *Core) loadStatic(ctx context.Context, work ingestqueue.StaticGraphWork) error {
	g, ok := work.Payload.(*flowgraph.Graph)
	if !ok {
		return flowerrors.Internal("flowcore", "load-static", nil)
	}
	c.store.PutStatic(work.GraphID, g)
	return nil
}

// SubmitRuntime parses and validates a runtime-event batch synchronously,
// returning GRAPH_NOT_FOUND immediately if graphID has no static graph on
// record, then enqueues the append for the worker pool.
func (c *Core) SubmitRuntime(graphID, traceID string, payload RuntimePayload) error {
	payload.GraphID = graphID
	payload.TraceID = traceID

	if _, err := c.store.Get(graphID); err != nil {
		metrics.EnqueueTotal.WithLabelValues("runtime", "graph_not_found").Inc()
		return err
	}

	events, err := buildEvents(payload)
	if err != nil {
		metrics.EnqueueTotal.WithLabelValues("runtime", "validation_error").Inc()
		return err
	}

	work := ingestqueue.Work{
		Kind: ingestqueue.KindRuntimeEvent,
		Runtime: ingestqueue.RuntimeEventWork{
			TraceID:       traceID,
			GraphID:       graphID,
			Payload:       events,
			TraceComplete: payload.TraceComplete,
			CreatedAt:     time.Now(),
		},
	}
	if !c.queue.Enqueue(work, c.cfg.EnqueueTimeout) {
		metrics.EnqueueTotal.WithLabelValues("runtime", "full").Inc()
		return flowerrors.QueueFull("ingestqueue")
	}
	metrics.EnqueueTotal.WithLabelValues("runtime", "success").Inc()
	return nil
}

func (c *Core) appendRuntime(ctx context.Context, work ingestqueue.RuntimeEventWork) error {
	events, ok := work.Payload.([]tracebuffer.Event)
	if !ok {
		return flowerrors.Internal("flowcore", "append-runtime", nil)
	}

	before := c.traces.DeduplicatedCount()
	c.traces.Append(work.TraceID, work.GraphID, events)
	if dropped := c.traces.DeduplicatedCount() - before; dropped > 0 {
		metrics.DedupHitsTotal.WithLabelValues(work.GraphID).Add(float64(dropped))
	}

	if !work.TraceComplete {
		return nil
	}
	if err := c.traces.MarkComplete(work.TraceID); err != nil {
		return err
	}

	// The merge engine operates entirely on in-memory snapshots and never
	// blocks on I/O, so it is safe to run synchronously from the worker
	// goroutine that just completed this trace.
	err := c.merge.MergeTrace(ctx, work.TraceID, work.GraphID)
	if err != nil {
		metrics.MergeTotal.WithLabelValues(flowerrors.Code(err)).Inc()
		metrics.DroppedTraces.WithLabelValues(flowerrors.Code(err)).Inc()
		return err
	}
	metrics.MergeTotal.WithLabelValues("success").Inc()
	return nil
}

// GetGraph returns a snapshot of the current graph for graphID.
func (c *Core) GetGraph(graphID string) (*flowgraph.Graph, error) {
	return c.store.Get(graphID)
}

// ListGraphs returns metadata for every graph currently stored.
func (c *Core) ListGraphs() []graphstore.Metadata {
	return c.store.List()
}

// DeleteGraph removes a graph and every trace associated with it.
func (c *Core) DeleteGraph(graphID string) bool {
	c.traces.DeleteForGraph(graphID)
	return c.store.Delete(graphID)
}

// Slice returns graphID's current graph filtered to the requested zoom
// level.
func (c *Core) Slice(graphID string, level int) (*flowgraph.Graph, error) {
	g, err := c.store.Get(graphID)
	if err != nil {
		return nil, err
	}
	return extractor.Slice(g, level), nil
}

// GetTrace returns a snapshot of a single trace by id.
func (c *Core) GetTrace(traceID string) (tracebuffer.Trace, error) {
	return c.traces.Get(traceID)
}

// ExportCypher returns the Cypher statement sequence for graphID's current
// graph.
func (c *Core) ExportCypher(graphID string) ([]string, error) {
	g, err := c.store.Get(graphID)
	if err != nil {
		return nil, err
	}
	return extractor.ExportCypher(g, graphID, time.Now()), nil
}

// PushToAnalytics submits graphID's current graph to the analytics
// executor. It returns UNAVAILABLE immediately if analytics is disabled or
// the executor's internal queue is momentarily full; the push itself
// completes asynchronously and its outcome is visible via the export
// metrics and the executor's recent-results buffer.
func (c *Core) PushToAnalytics(graphID string) error {
	if !c.cfg.Analytics.Enabled {
		return flowerrors.Unavailable("flowcore", "analytics is disabled")
	}
	g, err := c.store.Get(graphID)
	if err != nil {
		return err
	}
	return c.analytics.Submit(graphID, g)
}

// Flows returns the BFS-extracted flow for every endpoint/topic node in
// graphID's current graph, keyed by start-node-id.
func (c *Core) Flows(graphID string) (map[string][]extractor.FlowStep, error) {
	g, err := c.store.Get(graphID)
	if err != nil {
		return nil, err
	}
	return extractor.ExtractFlows(g), nil
}
