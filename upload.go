package texstream

import (
	"context"

	"github.com/gogpu/texstream/internal/stage"
)

// Uploader records device copies for decoded slots. It runs on the
// goroutine that owns the device.
type Uploader struct {
	pool *SlotPool
}

// UploadReadySlots drains UploadPending, up to the pool size, and for each
// slot commits the destination region, records the compressed copy and
// attaches a completion token before pushing the slot to WaitPending.
//
// If waitForOne is true and nothing is ready, it blocks until a slot is
// decoded, the pool stops or ctx is done.
//
// A device failure is recorded on its slot, which still moves to
// WaitPending; the reaper recycles the slot and reports the failure. The
// returned error is only ErrPoolStopped or ctx.Err().
func (u *Uploader) UploadReadySlots(ctx context.Context, waitForOne bool) (int, error) {
	ids, err := u.pool.pop(ctx, stage.UploadPending, waitForOne, u.pool.Size())
	if err != nil {
		return 0, err
	}

	for _, i := range ids {
		s := u.pool.slots[i]
		if s.err == nil {
			if err := u.upload(s); err != nil {
				s.err = err
				u.pool.stats.deviceErrors.Add(1)
				u.pool.logger.Warn("texstream: upload failed", "slot", s.ID, "err", err)
			}
		}
		u.pool.stats.uploaded.Add(1)
		if err := u.pool.push(stage.WaitPending, s.ID); err != nil {
			u.pool.logger.Debug("texstream: uploaded slot handed back at shutdown", "slot", s.ID)
		}
	}
	return len(ids), nil
}

// upload issues the device work for one slot.
func (u *Uploader) upload(s *BufferSlot) error {
	dev := u.pool.dev
	p := &s.params
	r := p.Region()

	if err := dev.CommitRegion(p.Resource, r, true); err != nil {
		return &DeviceError{Slot: s.ID, Op: OpCommit, Err: err}
	}
	if err := dev.CopyCompressed(p.Resource, r, p.Format, s.Staging, s.layout); err != nil {
		return &DeviceError{Slot: s.ID, Op: OpCopy, Err: err}
	}
	tok, err := dev.CreateToken()
	if err != nil {
		return &DeviceError{Slot: s.ID, Op: OpToken, Err: err}
	}
	s.token = tok
	return nil
}
