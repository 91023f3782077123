package texstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/texstream/device"
	"github.com/gogpu/texstream/internal/stage"
)

// ReapResult is the outcome of one ReapCompleted call.
type ReapResult struct {
	// Recycled counts slots whose transfer finished and that went back to
	// Idle.
	Recycled int

	// Pending counts slots still waiting for the device.
	Pending int

	// Failed counts slots recycled after a device failure.
	Failed int

	// Err joins the failures of the Failed slots, or is ErrPoolStopped.
	Err error
}

// String returns a one-line summary.
func (r ReapResult) String() string {
	return fmt.Sprintf("Reap[%d recycled, %d pending, %d failed]", r.Recycled, r.Pending, r.Failed)
}

// Reaper recycles slots whose device work finished. It runs on the
// goroutine that owns the device and never blocks.
type Reaper struct {
	pool *SlotPool
}

// ReapCompleted drains WaitPending without blocking and polls each slot's
// token. Signaled slots are recycled to Idle; pending ones are queued back
// at the tail of WaitPending. A slot whose token failed, or that carries
// an upload failure, is recycled too and its error reported.
//
// Completion order is not assumed: any subset of the drained slots may be
// done.
func (r *Reaper) ReapCompleted() ReapResult {
	var res ReapResult

	ids, err := r.pool.pop(context.Background(), stage.WaitPending, false, r.pool.Size())
	if err != nil {
		res.Err = err
		return res
	}

	var (
		pending []SlotID
		errs    []error
	)
	for _, i := range ids {
		s := r.pool.slots[i]
		if err := s.err; err != nil {
			r.fail(s, err)
			res.Failed++
			errs = append(errs, err)
			continue
		}

		status, err := r.pool.dev.PollToken(s.token)
		switch {
		case err != nil:
			derr := &DeviceError{Slot: s.ID, Op: OpPoll, Err: err}
			r.pool.stats.deviceErrors.Add(1)
			r.fail(s, derr)
			res.Failed++
			errs = append(errs, derr)
		case status == device.Signaled:
			r.pool.recycle(s, nil)
			res.Recycled++
		case status == device.Pending:
			pending = append(pending, s.ID)
		default:
			derr := &DeviceError{Slot: s.ID, Op: OpPoll, Err: ErrTokenFailed}
			r.pool.stats.deviceErrors.Add(1)
			r.fail(s, derr)
			res.Failed++
			errs = append(errs, derr)
		}
	}

	for _, id := range pending {
		if err := r.pool.push(stage.WaitPending, id); err != nil {
			errs = append(errs, err)
			break
		}
	}
	res.Pending = len(pending)
	res.Err = errors.Join(errs...)
	return res
}

func (r *Reaper) fail(s *BufferSlot, err error) {
	r.pool.logger.Warn("texstream: transfer failed, slot recycled",
		"slot", s.ID, "region", s.params.Region(), "err", err)
	r.pool.recycle(s, err)
}
