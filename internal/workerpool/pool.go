// Package workerpool implements record C5: N independent consumers
// dispatching ingest-queue work items to graph-store and trace-buffer
// handlers, with graceful, grace-period-bounded shutdown and a health
// snapshot derived from queue utilization.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowcore/core/internal/ingestqueue"
	"github.com/sirupsen/logrus"
)

// Handlers is the set of callbacks a worker dispatches work items to. The
// pool owns no domain logic itself — it only sequences calls into C2/C3 and
// schedules merges.
type Handlers struct {
	// LoadStatic turns a StaticGraphWork payload into a stored graph. It
	// runs on the worker goroutine, never on the ingress thread.
	LoadStatic func(ctx context.Context, work ingestqueue.StaticGraphWork) error
	// AppendRuntime appends a RuntimeEventWork's events to the trace
	// buffer and, if the batch completes the trace, schedules a merge.
	AppendRuntime func(ctx context.Context, work ingestqueue.RuntimeEventWork) error
}

// Config controls pool sizing and shutdown behavior.
type Config struct {
	WorkerCount           int
	PollTimeout           time.Duration
	ShutdownGracePeriod   time.Duration
	BackpressureThreshold float64 // percent, e.g. 80
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:           2,
		PollTimeout:           100 * time.Millisecond,
		ShutdownGracePeriod:   5 * time.Second,
		BackpressureThreshold: 80,
	}
}

// Pool is the C5 worker pool.
type Pool struct {
	cfg      Config
	queue    *ingestqueue.Queue
	handlers Handlers
	log      *logrus.Entry
	sampler  ResourceSampler

	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	running       atomic.Bool
	activeN       atomic.Int64
	processed     atomic.Int64
	failed        atomic.Int64
	shedding      atomic.Bool
	drainDeadline atomic.Int64 // unix nanoseconds; set by Stop before cancel
}

// New constructs a stopped pool over queue, dispatching to handlers.
func New(cfg Config, queue *ingestqueue.Queue, handlers Handlers, log *logrus.Logger, sampler ResourceSampler) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = 5 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	if sampler == nil {
		sampler = NoopSampler{}
	}
	return &Pool{
		cfg:      cfg,
		queue:    queue,
		handlers: handlers,
		log:      log.WithField("component", "workerpool"),
		sampler:  sampler,
	}
}

// Start launches cfg.WorkerCount consumer goroutines.
func (p *Pool) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	p.log.WithField("workers", p.cfg.WorkerCount).Info("worker pool started")
}

// Stop signals workers to stop and lets them drain the queue for up to the
// configured grace period. It returns once every worker has exited or the
// grace period has elapsed, whichever comes first.
func (p *Pool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.drainDeadline.Store(time.Now().Add(p.cfg.ShutdownGracePeriod).UnixNano())
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool stopped gracefully")
	case <-time.After(p.cfg.ShutdownGracePeriod):
		p.log.Warn("worker pool shutdown grace period exceeded")
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	logger := p.log.WithField("worker_id", id)

	for {
		select {
		case <-p.ctx.Done():
			p.drain(logger)
			return
		default:
		}

		item, ok := p.queue.Dequeue(p.cfg.PollTimeout)
		if !ok {
			continue
		}

		p.activeN.Add(1)
		p.dispatch(logger, item)
		p.activeN.Add(-1)
	}
}

// drain keeps dispatching queued work items once shutdown has begun,
// until the queue runs dry or the shutdown grace period elapses, whichever
// comes first. Without this, a worker that rechecks ctx.Done() only
// between polls would exit on the next poll timeout instead of actually
// draining what's left in the queue.
func (p *Pool) drain(logger *logrus.Entry) {
	deadline := time.Unix(0, p.drainDeadline.Load())
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pollTimeout := p.cfg.PollTimeout
		if remaining < pollTimeout {
			pollTimeout = remaining
		}
		item, ok := p.queue.Dequeue(pollTimeout)
		if !ok {
			return
		}
		p.activeN.Add(1)
		p.dispatch(logger, item)
		p.activeN.Add(-1)
	}
}

func (p *Pool) dispatch(logger *logrus.Entry, item ingestqueue.Work) {
	var err error
	switch item.Kind {
	case ingestqueue.KindStaticGraph:
		if p.handlers.LoadStatic != nil {
			err = p.handlers.LoadStatic(p.ctx, item.Static)
		}
	case ingestqueue.KindRuntimeEvent:
		if p.handlers.AppendRuntime != nil {
			err = p.handlers.AppendRuntime(p.ctx, item.Runtime)
		}
	}

	if err != nil {
		p.failed.Add(1)
		logger.WithError(err).Error("work item dispatch failed")
		return
	}
	p.processed.Add(1)
}

// ActiveWorkers reports how many workers are currently mid-dispatch.
func (p *Pool) ActiveWorkers() int64 { return p.activeN.Load() }

// Shedding reports whether the most recent Health snapshot found critical
// backpressure. It is a signal only: neither the pool nor internal/flowcore
// reads it, and merges are not deferred while it is set.
func (p *Pool) Shedding() bool { return p.shedding.Load() }

// SetShedding is called by Health on every snapshot: true at critical
// backpressure, false otherwise.
func (p *Pool) SetShedding(v bool) { p.shedding.Store(v) }
