package texstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/texstream/device"
)

// Streamer moves compressed texture tiles from source memory into device
// textures through a fixed pool of staging slots.
//
// Producers call Acquire and Submit from any goroutine. Decoding runs on
// the streamer's own workers. Drive, Upload, Reap, Flush and Close issue
// device work and must be called from the goroutine that owns the device,
// typically once per frame.
type Streamer struct {
	pool     *SlotPool
	decoders *DecodeWorkers
	uploader Uploader
	reaper   Reaper
	logger   *slog.Logger

	pollInterval time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New allocates the slot pool on dev and starts the decode workers.
//
// Example:
//
//	s, err := texstream.New(dev, texstream.WithSlots(4))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func New(dev device.Device, opts ...Option) (*Streamer, error) {
	if dev == nil {
		return nil, errors.New("texstream: nil device")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := streamerLogger(o.logger)

	pool, err := newSlotPool(dev, o.slots, o.capacity, logger)
	if err != nil {
		return nil, err
	}

	s := &Streamer{
		pool:         pool,
		uploader:     Uploader{pool: pool},
		reaper:       Reaper{pool: pool},
		logger:       logger,
		pollInterval: o.pollInterval,
	}
	s.decoders = startDecodeWorkers(context.Background(), pool, o.workers)

	logger.Info("texstream: streamer started",
		"slots", pool.Size(),
		"workers", s.decoders.Workers(),
		"capacity", pool.Capacity(),
		"alignment", pool.alignment)
	return s, nil
}

// Acquire blocks until a slot is idle and hands it to the caller. It
// returns ErrPoolStopped once the streamer is closing, or ctx.Err().
func (s *Streamer) Acquire(ctx context.Context) (SlotID, error) {
	return s.pool.Acquire(ctx)
}

// TryAcquire returns an idle slot if one is available without blocking.
func (s *Streamer) TryAcquire() (SlotID, bool, error) {
	return s.pool.TryAcquire()
}

// Release gives an acquired slot back without submitting a transfer.
func (s *Streamer) Release(id SlotID) error {
	return s.pool.Release(id)
}

// Submit queues a transfer on an acquired slot. Invalid parameters are
// rejected with a *TransferError and the slot returns to Idle; the caller
// must acquire again.
func (s *Streamer) Submit(id SlotID, params TransferParams) error {
	return s.pool.Submit(id, params)
}

// DriveResult reports one Drive call.
type DriveResult struct {
	// Frame is the frame number passed to Drive.
	Frame uint64

	// Reap is the outcome of the completion pass.
	Reap ReapResult

	// Uploaded is the number of slots whose copies were recorded.
	Uploaded int

	// Err joins the device errors of the transfers recycled in this frame,
	// each reported once. It is ErrPoolStopped once the streamer is
	// closing.
	Err error
}

// String returns a one-line summary.
func (r DriveResult) String() string {
	return fmt.Sprintf("Frame[%d: %d uploaded, %s]", r.Frame, r.Uploaded, r.Reap)
}

// Drive advances the pipeline by one frame without blocking: it recycles
// completed slots, then records uploads for every decoded slot.
func (s *Streamer) Drive(ctx context.Context, frame uint64) DriveResult {
	res := DriveResult{Frame: frame}
	res.Reap = s.reaper.ReapCompleted()
	n, uerr := s.uploader.UploadReadySlots(ctx, false)
	res.Uploaded = n

	switch {
	case errors.Is(res.Reap.Err, ErrPoolStopped) || errors.Is(uerr, ErrPoolStopped):
		res.Err = ErrPoolStopped
	default:
		res.Err = errors.Join(res.Reap.Err, uerr)
	}
	if res.Err != nil && !errors.Is(res.Err, ErrPoolStopped) {
		s.logger.Warn("texstream: frame had device errors", "frame", frame, "err", res.Err)
	}
	return res
}

// Upload runs the upload stage alone. With waitForOne it blocks until at
// least one slot is decoded.
func (s *Streamer) Upload(ctx context.Context, waitForOne bool) (int, error) {
	return s.uploader.UploadReadySlots(ctx, waitForOne)
}

// Reap runs the completion stage alone.
func (s *Streamer) Reap() ReapResult {
	return s.reaper.ReapCompleted()
}

// Flush drives the pipeline until every submitted transfer was recycled,
// polling every poll interval while nothing progresses. It returns the
// device errors met on the way, joined, or ctx.Err().
func (s *Streamer) Flush(ctx context.Context) error {
	var (
		errs   []error
		frame  uint64
		ticker *time.Ticker
	)
	for s.pool.InFlight() > 0 {
		res := s.Drive(ctx, frame)
		frame++
		if errors.Is(res.Err, ErrPoolStopped) {
			errs = append(errs, ErrPoolStopped)
			break
		}
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
		if res.Uploaded > 0 || res.Reap.Recycled > 0 || res.Reap.Failed > 0 {
			continue
		}

		if ticker == nil {
			ticker = time.NewTicker(s.pollInterval)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case <-ticker.C:
		}
	}
	return errors.Join(errs...)
}

// InFlight returns the number of submitted transfers not yet recycled.
func (s *Streamer) InFlight() int { return s.pool.InFlight() }

// Pool returns the slot pool.
func (s *Streamer) Pool() *SlotPool { return s.pool }

// Stats returns a snapshot of the pipeline counters.
func (s *Streamer) Stats() Stats {
	return s.pool.statsSnapshot(s.decoders.Workers())
}

// Close stops the pipeline: blocked producers and workers wake with
// ErrPoolStopped, workers are joined, and every slot's token and staging
// region is released. Transfers still in flight complete with
// ErrPoolStopped. Close is safe to call multiple times.
//
// Close waits for producers that hold an acquired slot to hand it back
// with Submit or Release, which both return ErrPoolStopped by then. A
// producer must not hold a slot while waiting on the device goroutine.
func (s *Streamer) Close() error {
	s.closeOnce.Do(func() {
		st := s.Stats()
		s.pool.stop()
		s.closeErr = s.decoders.Close()
		s.pool.release()
		s.logger.Info("texstream: streamer closed", "stats", st.String())
	})
	return s.closeErr
}
