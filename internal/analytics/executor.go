// Package analytics implements push-to-analytics: a Neo4j-backed exporter
// protected by a circuit breaker and an adaptive rate limiter, running on
// its own executor so a slow or unavailable external store can never
// back-pressure graph ingest.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/core/internal/extractor"
	"github.com/flowcore/core/internal/flowgraph"
	"github.com/flowcore/core/internal/metrics"
	flowerrors "github.com/flowcore/core/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PushResult is the async outcome of a single push-to-analytics call.
type PushResult struct {
	GraphID    string
	Statements int
	Err        error
	FinishedAt time.Time
}

// Config configures the analytics executor.
type Config struct {
	Breaker BreakerConfig
	Limiter LimiterConfig
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	return c
}

// pushJob is a single unit of work submitted to the executor.
type pushJob struct {
	graphID string
	graph   *flowgraph.Graph
}

// Executor runs push-to-analytics jobs on its own worker goroutines,
// entirely separate from the ingest worker pool (internal/workerpool).
type Executor struct {
	sink    Sink
	breaker *Breaker
	limiter *Limiter
	log     *logrus.Entry

	jobs chan pushJob
	wg   sync.WaitGroup

	mu      sync.Mutex
	results []PushResult
}

// New constructs an executor. sink may be nil, in which case every push
// fails with UNAVAILABLE.
func New(cfg Config, sink Sink, log *logrus.Logger) *Executor {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.New()
	}
	return &Executor{
		sink:    sink,
		breaker: NewBreaker(cfg.Breaker, log),
		limiter: NewLimiter(cfg.Limiter),
		log:     log.WithField("component", "analytics.executor"),
		jobs:    make(chan pushJob, 64),
	}
}

// Start launches the executor's worker goroutines.
func (e *Executor) Start(workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.run()
	}
}

// Stop closes the job channel and waits for in-flight pushes to finish.
func (e *Executor) Stop() {
	close(e.jobs)
	e.wg.Wait()
}

func (e *Executor) run() {
	defer e.wg.Done()
	for job := range e.jobs {
		e.process(job)
	}
}

// Submit enqueues a graph snapshot for export. It never blocks the caller
// indefinitely: if the internal queue is momentarily full the job is
// dropped and UNAVAILABLE is returned immediately, matching the contract
// that export stalls must not propagate back into ingest.
func (e *Executor) Submit(graphID string, g *flowgraph.Graph) error {
	select {
	case e.jobs <- pushJob{graphID: graphID, graph: g}:
		return nil
	default:
		return flowerrors.Unavailable("analytics.executor", "push queue is full")
	}
}

func (e *Executor) process(job pushJob) {
	if !e.limiter.Allow() {
		metrics.ExportTotal.WithLabelValues("rate_limited").Inc()
		e.recordResult(PushResult{GraphID: job.graphID, Err: flowerrors.Unavailable("analytics.executor", "rate limited"), FinishedAt: time.Now()})
		return
	}

	statements := extractor.ExportCypher(job.graph, job.graphID, time.Now())

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	err := e.breaker.Execute(func() error {
		if e.sink == nil {
			return flowerrors.Unavailable("analytics.executor", "no sink configured")
		}
		return e.sink.Push(ctx, statements)
	})
	elapsed := time.Since(start)
	e.limiter.Observe(elapsed)
	metrics.ExportDuration.Observe(elapsed.Seconds())

	if err != nil {
		outcome := "failure"
		if e.breaker.State() == BreakerOpen {
			outcome = "circuit_open"
		}
		metrics.ExportTotal.WithLabelValues(outcome).Inc()
		e.log.WithError(err).WithField("graph_id", job.graphID).Warn("push-to-analytics failed")
	} else {
		metrics.ExportTotal.WithLabelValues("success").Inc()
	}
	e.recordResult(PushResult{GraphID: job.graphID, Statements: len(statements), Err: err, FinishedAt: time.Now()})
}

func (e *Executor) recordResult(r PushResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, r)
	if len(e.results) > 256 {
		e.results = e.results[len(e.results)-256:]
	}
}

// Results returns a snapshot of recent push outcomes, most recent last.
func (e *Executor) Results() []PushResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PushResult(nil), e.results...)
}
