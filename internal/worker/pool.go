// Package worker runs background tasks (document processing, history
// backfills) off the request path.
//
// A Pool owns a fixed set of goroutines reading from a buffered queue.
// Submit never blocks: when the queue is full the task is started on an
// overflow goroutine that the pool still tracks, so Shutdown waits for it.
// Every task runs under a recover boundary and receives a context detached
// from the submitter's cancellation but carrying its values (trace span,
// request id).
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Executor accepts background tasks. Submit reports false only when the
// executor no longer accepts work.
type Executor interface {
	Submit(ctx context.Context, name string, fn Task) bool
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Running   int64  `json:"running"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Panicked  uint64 `json:"panicked"`
	Overflow  uint64 `json:"overflow"`
}

type job struct {
	ctx  context.Context
	name string
	fn   Task
}

// Pool is a bounded worker pool with non-blocking submission.
type Pool struct {
	jobs       chan job
	numWorkers int

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	running   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	overflow  atomic.Uint64
}

// NewPool builds a pool with numWorkers goroutines and a queue of
// queueCapacity tasks. Non-positive values fall back to 1 and 100.
func NewPool(numWorkers, queueCapacity int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 100
	}
	return &Pool{
		jobs:       make(chan job, queueCapacity),
		numWorkers: numWorkers,
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debug().Int("worker_id", workerID).Msg("worker started")
			for j := range p.jobs {
				queueDepth.Set(float64(len(p.jobs)))
				p.run(j)
			}
			log.Debug().Int("worker_id", workerID).Msg("worker stopped")
		}(i + 1)
	}
}

// Submit enqueues fn. If the queue is full the task runs on its own tracked
// goroutine instead of being dropped. It returns false after Shutdown.
func (p *Pool) Submit(ctx context.Context, name string, fn Task) bool {
	if fn == nil {
		return false
	}
	j := job{ctx: context.WithoutCancel(ctx), name: name, fn: fn}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		tasksTotal.WithLabelValues("rejected").Inc()
		log.Warn().Str("task", name).Msg("worker pool closed; task rejected")
		return false
	}

	select {
	case p.jobs <- j:
		queueDepth.Set(float64(len(p.jobs)))
		return true
	default:
	}

	p.overflow.Add(1)
	tasksTotal.WithLabelValues("overflow").Inc()
	log.Warn().Str("task", name).Int("queue_cap", cap(p.jobs)).Msg("worker queue full; running task on overflow goroutine")
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(j)
	}()
	return true
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits
// for every in-flight task, or until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if !started {
		// Nobody will read the queue; run leftovers here.
		for j := range p.jobs {
			p.run(j)
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		log.Warn().Int64("running", p.running.Load()).Msg("timeout waiting for workers to stop")
		return ctx.Err()
	case <-done:
		log.Info().Msg("all workers stopped")
		return nil
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.numWorkers,
		Queued:    len(p.jobs),
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Overflow:  p.overflow.Load(),
	}
}

func (p *Pool) run(j job) {
	p.running.Add(1)
	defer p.running.Add(-1)

	start := time.Now()
	err := safeRun(j)
	dur := time.Since(start)
	taskDuration.Observe(dur.Seconds())

	switch {
	case err == nil:
		p.completed.Add(1)
		tasksTotal.WithLabelValues("completed").Inc()
	case isPanic(err):
		p.panicked.Add(1)
		tasksTotal.WithLabelValues("panicked").Inc()
		log.Error().Str("task", j.name).Err(err).Msg("task panicked")
	default:
		p.failed.Add(1)
		tasksTotal.WithLabelValues("failed").Inc()
		log.Error().Str("task", j.name).Err(err).Dur("duration", dur).Msg("task failed")
	}
}

type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.v) }

func isPanic(err error) bool {
	_, ok := err.(panicError)
	return ok
}

func safeRun(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
		}
	}()
	return j.fn(j.ctx)
}

// Inline runs tasks synchronously on the caller's goroutine. It is meant for
// tests and single-shot commands where background execution is unwanted.
type Inline struct{}

// Submit runs fn immediately. Errors and panics are logged, never returned.
func (Inline) Submit(ctx context.Context, name string, fn Task) bool {
	if fn == nil {
		return false
	}
	if err := safeRun(job{ctx: context.WithoutCancel(ctx), name: name, fn: fn}); err != nil {
		log.Error().Str("task", name).Err(err).Msg("inline task failed")
	}
	return true
}
