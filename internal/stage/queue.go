// Package stage implements the bounded, blocking stage queues that hand
// staging slots between the goroutines of the transfer pipeline.
//
// All stages share one mutex so that the "every slot sits in exactly one
// queue" invariant is observed atomically, while each stage has its own
// condition variable so a push only wakes goroutines waiting on that stage.
package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Queue errors.
var (
	// ErrStopped is returned by Push and Take after Stop, and by Pop once
	// the queues are stopped and the requested stage is empty.
	ErrStopped = errors.New("stage: queues stopped")

	// ErrFull is returned when pushing into a full ring. The queues are
	// sized so that this never happens while the slot invariant holds.
	ErrFull = errors.New("stage: queue full")
)

// Stage identifies one pipeline stage.
type Stage uint8

const (
	// Idle holds slots available for acquisition.
	Idle Stage = iota
	// ReadPending holds slots waiting for a decode worker.
	ReadPending
	// UploadPending holds slots waiting for the device thread to upload.
	UploadPending
	// WaitPending holds slots waiting for device completion.
	WaitPending

	// Count is the number of stages.
	Count = 4
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ReadPending:
		return "ReadPending"
	case UploadPending:
		return "UploadPending"
	case WaitPending:
		return "WaitPending"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Next returns the stage a slot moves to after s.
func (s Stage) Next() Stage {
	return (s + 1) % Count
}

// Queues is the set of per-stage FIFOs for one slot pool.
//
// Thread safety: Queues is safe for concurrent use.
type Queues struct {
	mu       sync.Mutex
	rings    [Count]*Ring[int]
	nonEmpty [Count]*sync.Cond
	stopped  bool
}

// New creates stage queues for a pool of n slots. Each ring holds n+1
// entries so that a correctly used pool can never fill one.
func New(n int) *Queues {
	q := &Queues{}
	for s := range Count {
		q.rings[s] = NewRing[int](n + 1)
		q.nonEmpty[s] = sync.NewCond(&q.mu)
	}
	return q
}

// Push appends item to the tail of stage s and wakes one waiter on that
// stage. Push never blocks.
func (q *Queues) Push(s Stage, item int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if !q.rings[s].Push(item) {
		return fmt.Errorf("%w: %s holds %d items", ErrFull, s, q.rings[s].Len())
	}
	q.nonEmpty[s].Signal()
	return nil
}

// Pop removes up to maxItems items from the head of stage s in one
// critical section and returns them in FIFO order.
//
// If block is true and the stage is empty, Pop waits until an item
// arrives, the queues are stopped, or ctx is done. If block is false an
// empty stage yields zero items and a nil error.
//
// Items already queued are delivered even after Stop; ErrStopped is only
// returned once the stage is found empty.
func (q *Queues) Pop(ctx context.Context, s Stage, block bool, maxItems int) ([]int, error) {
	return q.pop(ctx, s, block, maxItems, true)
}

// Take is Pop for consumers that must not start new work once the queues
// are stopped: it returns ErrStopped as soon as Stop was called, even if
// items are still queued. Those items stay in place for Drain.
func (q *Queues) Take(ctx context.Context, s Stage, block bool, maxItems int) ([]int, error) {
	return q.pop(ctx, s, block, maxItems, false)
}

func (q *Queues) pop(ctx context.Context, s Stage, block bool, maxItems int, afterStop bool) ([]int, error) {
	if maxItems < 1 {
		maxItems = 1
	}

	if block && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.nonEmpty[s].Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	r := q.rings[s]
	if q.stopped && !afterStop {
		return nil, ErrStopped
	}
	for r.Len() == 0 {
		if q.stopped {
			return nil, ErrStopped
		}
		if !block {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.nonEmpty[s].Wait()
		if q.stopped && !afterStop {
			return nil, ErrStopped
		}
	}

	n := min(r.Len(), maxItems)
	items := make([]int, 0, n)
	for range n {
		v, _ := r.Pop()
		items = append(items, v)
	}
	return items, nil
}

// Stop marks the queues stopped and wakes every waiter on every stage.
// Stop is idempotent.
func (q *Queues) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	for _, c := range q.nonEmpty {
		c.Broadcast()
	}
}

// Stopped reports whether Stop has been called.
func (q *Queues) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of items queued in stage s.
func (q *Queues) Len(s Stage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rings[s].Len()
}

// Drain empties every stage and returns what each held, in FIFO order.
// It is meant for shutdown, after Stop, when no push can succeed anymore.
func (q *Queues) Drain() [Count][]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out [Count][]int
	for s, r := range q.rings {
		for {
			v, ok := r.Pop()
			if !ok {
				break
			}
			out[s] = append(out[s], v)
		}
	}
	return out
}

// Snapshot returns the contents of every stage, in FIFO order, observed
// in a single critical section.
func (q *Queues) Snapshot() [Count][]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out [Count][]int
	for s, r := range q.rings {
		out[s] = r.AppendTo(nil)
	}
	return out
}
