// Package parallel runs fixed sets of long-lived worker goroutines.
//
// Thread safety: WorkerPool is safe for concurrent use.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// LoopFunc is the body of one worker. It runs until it returns; a nil
// return is a clean exit. A non-nil error cancels the context passed to
// every other worker of the pool.
type LoopFunc func(ctx context.Context, id int) error

// WorkerPool is a pool of goroutines each running the same loop.
//
// The pool does not own a work queue: workers pull from whatever the loop
// reads (the stage queues, in this module) and stop when it tells them to.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// group waits for all workers and records the first failure.
	group *errgroup.Group

	// cancel stops the context shared by the workers.
	cancel context.CancelFunc

	// live counts workers whose loop has not returned yet.
	live atomic.Int32

	// done is closed once every worker returned.
	done chan struct{}

	// err is the first worker error, valid after done is closed.
	err error
}

// NewWorkerPool starts workers goroutines running loop.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(ctx context.Context, workers int, loop LoopFunc) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	p := &WorkerPool{
		workers: workers,
		group:   group,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	p.live.Store(int32(workers)) //nolint:gosec // G115: worker counts are small
	for i := range workers {
		group.Go(func() (err error) {
			defer p.live.Add(-1)
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("parallel: worker %d panicked: %v", i, r)
				}
			}()
			return loop(gctx, i)
		})
	}

	go func() {
		p.err = group.Wait()
		close(p.done)
	}()

	return p
}

// Wait blocks until every worker returned and reports the first error.
func (p *WorkerPool) Wait() error {
	<-p.done
	return p.err
}

// Close cancels the workers' context and waits for them to return.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() error {
	p.cancel()
	return p.Wait()
}

// Done returns a channel closed once every worker returned.
func (p *WorkerPool) Done() <-chan struct{} {
	return p.done
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Live returns the number of workers still running their loop.
func (p *WorkerPool) Live() int {
	return int(p.live.Load())
}

// IsRunning returns true while at least one worker is running.
func (p *WorkerPool) IsRunning() bool {
	return p.live.Load() > 0
}
