package texstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/texstream/device"
	"github.com/gogpu/texstream/internal/stage"
)

// SlotPool is the fixed set of staging slots and the four stage queues
// that hand them between goroutines.
//
// Every slot id is, at any time, in exactly one stage queue or held by
// exactly one goroutine that popped it. Slots are allocated once by the
// constructor and freed once by release.
//
// Once the pool is stopped no slot enters a queue again: a push hands the
// slot to the stray list instead, where release collects it.
//
// Thread safety: Acquire, TryAcquire, Release, Submit and Snapshot are
// safe for concurrent use. Other methods belong to the device goroutine.
type SlotPool struct {
	dev       device.Device
	queues    *stage.Queues
	slots     []*BufferSlot
	capacity  int
	alignment int
	logger    *slog.Logger

	// stray receives slots pushed after stop. Its capacity is the pool
	// size, and a slot can only be handed over once.
	stray chan SlotID

	// inflight counts submitted transfers not yet recycled.
	inflight atomic.Int64
	stats    counters
}

// newSlotPool allocates n staging regions of capacity bytes and queues
// every slot as Idle. On failure every region allocated so far is freed.
func newSlotPool(dev device.Device, n, capacity int, logger *slog.Logger) (*SlotPool, error) {
	p := &SlotPool{
		dev:       dev,
		queues:    stage.New(n),
		slots:     make([]*BufferSlot, 0, n),
		capacity:  capacity,
		alignment: dev.CopyPitchAlignment(),
		logger:    logger,
		stray:     make(chan SlotID, n),
	}
	for i := range n {
		st, err := dev.CreateStaging(capacity)
		if err != nil {
			for _, s := range p.slots {
				dev.DestroyStaging(s.Staging)
			}
			return nil, fmt.Errorf("texstream: create staging for slot %d: %w", i, err)
		}
		p.slots = append(p.slots, &BufferSlot{ID: SlotID(i), Staging: st})
		if err := p.queues.Push(stage.Idle, i); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Size returns the number of slots N.
func (p *SlotPool) Size() int { return len(p.slots) }

// Capacity returns the staging size of each slot in bytes.
func (p *SlotPool) Capacity() int { return p.capacity }

// Slot returns the slot with the given id, or nil if out of range. Only
// the goroutine that holds the slot may read its transfer state.
func (p *SlotPool) Slot(id SlotID) *BufferSlot {
	if id < 0 || int(id) >= len(p.slots) {
		return nil
	}
	return p.slots[id]
}

// InFlight returns the number of submitted transfers not yet recycled.
func (p *SlotPool) InFlight() int { return int(p.inflight.Load()) }

// Stopped reports whether the pool is shutting down.
func (p *SlotPool) Stopped() bool { return p.queues.Stopped() }

// Acquire removes a slot from Idle, blocking until one is available, the
// pool is stopped (ErrPoolStopped) or ctx is done. A stopped pool hands out
// no slot even if some are idle.
func (p *SlotPool) Acquire(ctx context.Context) (SlotID, error) {
	ids, err := p.take(ctx, stage.Idle, true, 1)
	if err != nil {
		return -1, err
	}
	return SlotID(ids[0]), nil
}

// TryAcquire removes a slot from Idle if one is available.
func (p *SlotPool) TryAcquire() (SlotID, bool, error) {
	ids, err := p.take(context.Background(), stage.Idle, false, 1)
	if err != nil || len(ids) == 0 {
		return -1, false, err
	}
	return SlotID(ids[0]), true, nil
}

// Release returns an acquired slot to Idle without a transfer. On a
// stopped pool it returns ErrPoolStopped and the slot goes back to the
// pool for release.
func (p *SlotPool) Release(id SlotID) error {
	if p.Slot(id) == nil {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	return p.push(stage.Idle, id)
}

// Submit validates params and queues the held slot id for decoding. An
// invalid transfer returns a *TransferError and puts the slot back to Idle
// untouched. On a stopped pool the transfer is dropped, the slot is handed
// back and ErrPoolStopped is returned; Done is not called.
func (p *SlotPool) Submit(id SlotID, params TransferParams) error {
	s := p.Slot(id)
	if s == nil {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}

	layout, err := params.validate(p.capacity, p.alignment)
	if err != nil {
		p.stats.rejected.Add(1)
		p.logger.Debug("texstream: transfer rejected", "slot", id, "err", err)
		if perr := p.push(stage.Idle, id); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	}

	s.params = params
	s.layout = layout
	p.inflight.Add(1)
	err = p.queues.Push(stage.ReadPending, int(id))
	if err != nil {
		// The slot must be clean before it changes hands.
		p.inflight.Add(-1)
		s.reset()
	}
	if err := p.settle(stage.ReadPending, id, err); err != nil {
		return err
	}
	p.stats.submitted.Add(1)
	return nil
}

// Snapshot returns the contents of every stage queue observed atomically.
// Ids missing from the snapshot are held by some goroutine.
func (p *SlotPool) Snapshot() Snapshot {
	raw := p.queues.Snapshot()
	var out Snapshot
	for st, ids := range raw {
		for _, id := range ids {
			out[st] = append(out[st], SlotID(id))
		}
	}
	return out
}

// pop removes up to maxItems slots from st, mapping queue shutdown to
// ErrPoolStopped.
func (p *SlotPool) pop(ctx context.Context, st stage.Stage, block bool, maxItems int) ([]int, error) {
	ids, err := p.queues.Pop(ctx, st, block, maxItems)
	if errors.Is(err, stage.ErrStopped) {
		return nil, ErrPoolStopped
	}
	return ids, err
}

// take is pop for stages that start new work: it fails as soon as the pool
// is stopped.
func (p *SlotPool) take(ctx context.Context, st stage.Stage, block bool, maxItems int) ([]int, error) {
	ids, err := p.queues.Take(ctx, st, block, maxItems)
	if errors.Is(err, stage.ErrStopped) {
		return nil, ErrPoolStopped
	}
	return ids, err
}

// push hands slot id to stage st. If the pool is stopped the slot goes to
// the stray list and ErrPoolStopped is returned; either way the caller no
// longer owns the slot.
func (p *SlotPool) push(st stage.Stage, id SlotID) error {
	return p.settle(st, id, p.queues.Push(st, int(id)))
}

// settle completes a push of id to st that returned err.
func (p *SlotPool) settle(st stage.Stage, id SlotID, err error) error {
	switch {
	case err == nil:
		p.logger.Debug("texstream: slot transition", "slot", id, "stage", st)
		return nil
	case errors.Is(err, stage.ErrStopped):
		select {
		case p.stray <- id:
		default:
			p.logger.Error("texstream: slot handed back twice", "slot", id)
		}
		return ErrPoolStopped
	default:
		p.logger.Error("texstream: stage queue overflow", "slot", id, "stage", st, "err", err)
		return err
	}
}

// recycle ends the slot's transfer and returns it to Idle. It releases the
// token, invokes the transfer's Done callback and updates the counters.
func (p *SlotPool) recycle(s *BufferSlot, cause error) {
	if s.token != 0 {
		p.dev.ReleaseToken(s.token)
	}
	done := s.params.Done
	busy := s.busy()
	s.reset()
	if busy {
		p.inflight.Add(-1)
	}
	if cause != nil {
		p.stats.failed.Add(1)
	} else {
		p.stats.recycled.Add(1)
	}
	if err := p.push(stage.Idle, s.ID); err != nil && !errors.Is(err, ErrPoolStopped) {
		p.logger.Error("texstream: recycle", "slot", s.ID, "err", err)
	}
	if done != nil {
		done(cause)
	}
}

// stop wakes every goroutine blocked on the pool.
func (p *SlotPool) stop() { p.queues.Stop() }

// release takes every slot back and frees it. Queued slots are drained at
// once; slots still held by producers are awaited until Submit or Release
// hands them back. In-flight transfers complete with ErrPoolStopped.
// Must run after stop, on the device goroutine, once the decode workers
// exited.
func (p *SlotPool) release() {
	owned := make([]bool, len(p.slots))
	n := 0
	own := func(id int) {
		if id >= 0 && id < len(owned) && !owned[id] {
			owned[id] = true
			n++
		}
	}
	for _, ids := range p.queues.Drain() {
		for _, id := range ids {
			own(id)
		}
	}
	if held := len(p.slots) - n; held > 0 {
		p.logger.Debug("texstream: waiting for held slots", "held", held)
	}
	for n < len(p.slots) {
		own(int(<-p.stray))
	}

	for _, s := range p.slots {
		if s.token != 0 {
			p.dev.ReleaseToken(s.token)
		}
		if s.busy() {
			done := s.params.Done
			p.inflight.Add(-1)
			if done != nil {
				done(ErrPoolStopped)
			}
		}
		s.reset()
		if s.Staging != nil {
			p.dev.DestroyStaging(s.Staging)
			s.Staging = nil
		}
	}
}

// Snapshot is the content of every stage queue, indexed by Stage.
type Snapshot [stage.Count][]SlotID

// Queued returns every queued id, stage by stage.
func (s Snapshot) Queued() []SlotID {
	var out []SlotID
	for _, ids := range s {
		out = append(out, ids...)
	}
	return out
}

// Len returns the number of slots queued in st.
func (s Snapshot) Len(st Stage) int { return len(s[st]) }
