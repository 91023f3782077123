package texstream

import (
	"context"
	"errors"

	"github.com/gogpu/texstream/internal/blit"
	"github.com/gogpu/texstream/internal/parallel"
	"github.com/gogpu/texstream/internal/stage"
)

// DecodeWorkers is the pool of goroutines that copy tiles from their
// source into slot staging memory.
//
// Each worker pops one slot from ReadPending, copies the tile row of
// blocks by row of blocks, and pushes the slot to UploadPending. Once the
// pool is stopped a worker finishes the slot in hand and exits; slots still
// in ReadPending are left for release.
type DecodeWorkers struct {
	pool    *SlotPool
	workers *parallel.WorkerPool
}

// startDecodeWorkers starts m workers on pool. If m <= 0, GOMAXPROCS is
// used.
func startDecodeWorkers(ctx context.Context, pool *SlotPool, m int) *DecodeWorkers {
	w := &DecodeWorkers{pool: pool}
	w.workers = parallel.NewWorkerPool(ctx, m, w.loop)
	return w
}

// Workers returns the number of workers M.
func (w *DecodeWorkers) Workers() int { return w.workers.Workers() }

// Live returns the number of workers still running.
func (w *DecodeWorkers) Live() int { return w.workers.Live() }

// Wait blocks until every worker exited.
func (w *DecodeWorkers) Wait() error { return w.workers.Wait() }

func (w *DecodeWorkers) loop(ctx context.Context, id int) error {
	for {
		ids, err := w.pool.take(ctx, stage.ReadPending, true, 1)
		if err != nil {
			if errors.Is(err, ErrPoolStopped) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, i := range ids {
			s := w.pool.slots[i]
			w.decode(id, s)
			if err := w.pool.push(stage.UploadPending, s.ID); err != nil {
				w.pool.logger.Debug("texstream: decoded slot handed back at shutdown", "slot", s.ID, "worker", id)
			}
		}
	}
}

// decode copies the slot's tile into its staging memory. A copy that does
// not fit is recorded on the slot instead of crashing the worker; Submit
// validation makes it unreachable for well-formed parameters.
func (w *DecodeWorkers) decode(worker int, s *BufferSlot) {
	p := &s.params
	dst := s.Staging.Bytes()[s.layout.Offset:]
	blocks, err := blit.BlockCopy(dst, s.layout.BytesPerRow, p.Source, p.SourcePitch, p.sourceRect(), p.Layout.block())
	if err != nil {
		s.err = &DeviceError{Slot: s.ID, Op: OpDecode, Err: err}
		w.pool.logger.Error("texstream: block copy failed", "slot", s.ID, "worker", worker, "err", err)
		return
	}
	w.pool.stats.decoded.Add(1)
	w.pool.logger.Debug("texstream: tile decoded", "slot", s.ID, "worker", worker, "blocks", blocks)
}

// Close cancels the workers and waits for them to exit. Workers blocked on
// ReadPending return at once; a worker in the middle of a copy finishes it
// first.
func (w *DecodeWorkers) Close() error { return w.workers.Close() }
