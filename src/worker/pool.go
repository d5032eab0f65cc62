// Package worker runs analysis jobs off the orchestration loop.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
)

// ErrBusy is returned when the single-slot queue is occupied.
var ErrBusy = errors.New("worker pool busy")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Job is a unit of work. It should honour ctx.
type Job func(ctx context.Context) error

// ResultCallback is invoked on job completion (from a worker goroutine).
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(err error)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	mu     sync.RWMutex
	jobs   chan job
	closed bool
	wg     sync.WaitGroup
	log    *zerolog.Logger
}

type job struct {
	ctx  context.Context
	name string
	run  Job
	cb   ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{jobs: make(chan job, 1), log: logutil.WithComponent("worker")}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.log.Debug().Str("job", j.name).Msg("starting")
				err := runWithContext(j.ctx, j.run)
				p.log.Debug().Str("job", j.name).Err(err).Msg("completed")
				if j.cb != nil {
					j.cb(err)
				}
			}
		}()
	}
}

// Submit enqueues a job if the single-slot queue is free.
func (p *Pool) Submit(ctx context.Context, name string, run Job, cb ResultCallback) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job{ctx: ctx, name: name, run: run, cb: cb}:
		return nil
	default:
		return ErrBusy
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// runWithContext returns ctx.Err() as soon as ctx ends even if the job
// itself ignores cancellation. The job keeps running in the background.
func runWithContext(ctx context.Context, run Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return run(ctx)
	}
	resCh := make(chan error, 1)
	go func() { resCh <- run(ctx) }()
	select {
	case err := <-resCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
