// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package worker provides the shared task pool used for provider fan-out and
// fire-and-forget background work. The pool has an explicit lifecycle: it is
// constructed, started, and stopped by the composition root, never reached
// through ambient global state.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Default pool configuration values.
const (
	DefaultWorkers     = 8
	DefaultQueueSize   = 256
	DefaultGracePeriod = 10 * time.Second
)

// ErrPoolClosed is returned by Submit once shutdown has begun. Submissions
// are rejected explicitly, never dropped silently.
var ErrPoolClosed = oops.Code("WORKER_POOL_CLOSED").Errorf("worker pool is shutting down")

// ErrQueueFull is returned when the task queue is at capacity.
var ErrQueueFull = oops.Code("WORKER_QUEUE_FULL").Errorf("worker queue is full")

// Task is a unit of background work. The context is cancelled when the pool's
// grace period expires during shutdown.
type Task func(ctx context.Context)

// Config configures a Pool.
type Config struct {
	// Workers is the number of worker goroutines. Defaults to DefaultWorkers.
	Workers int

	// QueueSize is the task queue capacity. Defaults to DefaultQueueSize.
	QueueSize int

	// GracePeriod bounds how long Stop waits for in-flight tasks before the
	// task context is cancelled. Defaults to DefaultGracePeriod.
	GracePeriod time.Duration
}

// Pool is a fixed-size worker pool. It is safe for concurrent use.
type Pool struct {
	tasks       chan Task
	gracePeriod time.Duration
	workers     int

	logger *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	closed  atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup

	// mu guards the close of the tasks channel against concurrent Submit.
	mu sync.RWMutex

	queueGauge prometheus.Gauge
}

// New creates a pool with the given configuration. Call Start before
// submitting tasks and Stop during shutdown.
func New(cfg Config, logger *slog.Logger) *Pool {
	return newPool(cfg, logger, nil)
}

// NewWithRegistry creates a pool and registers a queue-depth gauge with the
// provided Prometheus registry.
func NewWithRegistry(cfg Config, logger *slog.Logger, reg prometheus.Registerer) *Pool {
	return newPool(cfg, logger, reg)
}

func newPool(cfg Config, logger *slog.Logger, reg prometheus.Registerer) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:       make(chan Task, queueSize),
		gracePeriod: grace,
		workers:     workers,
		logger:      logger,
		baseCtx:     ctx,
		cancel:      cancel,
	}

	if reg != nil {
		p.queueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stonegate_worker_queue_depth",
			Help: "Current number of queued background tasks",
		})
		reg.MustRegister(p.queueGauge)
	}

	return p
}

// Start launches the worker goroutines. Calling Start twice is an error.
func (p *Pool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return oops.Code("WORKER_POOL_STARTED").Errorf("worker pool already started")
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return nil
}

// Submit enqueues a task for execution. Returns ErrPoolClosed once shutdown
// has begun and ErrQueueFull when the queue is at capacity.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return oops.Code("WORKER_NIL_TASK").Errorf("task cannot be nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		if p.queueGauge != nil {
			p.queueGauge.Set(float64(len(p.tasks)))
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop begins the shutdown sequence: new submissions are rejected, queued and
// in-flight tasks get the grace period to finish, then the task context is
// cancelled. Stop blocks until all workers have exited.
func (p *Pool) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	// Close the queue under the write lock so no Submit is mid-send.
	p.mu.Lock()
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.gracePeriod):
		p.logger.Warn("worker pool grace period expired, cancelling in-flight tasks")
		p.cancel()
		<-done
	}
	p.cancel()
}

// run is the worker loop. Panics in tasks are contained here so that a
// misbehaving fire-and-forget task never reaches a shared uncaught-error path.
func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
		if p.queueGauge != nil {
			p.queueGauge.Set(float64(len(p.tasks)))
		}
	}
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				slog.Any("panic", r))
		}
	}()
	task(p.baseCtx)
}
