package texstream

import (
	"fmt"
	"sync/atomic"
)

// counters are the pipeline's running totals.
type counters struct {
	submitted    atomic.Uint64
	rejected     atomic.Uint64
	decoded      atomic.Uint64
	uploaded     atomic.Uint64
	recycled     atomic.Uint64
	failed       atomic.Uint64
	deviceErrors atomic.Uint64
}

// Stats is a point-in-time view of a streamer.
type Stats struct {
	// Slots is the pool size N.
	Slots int

	// Workers is the number of decode workers M.
	Workers int

	// InFlight is the number of submitted transfers not yet recycled.
	InFlight int

	// Queue lengths per stage. Slots held by a goroutine are in none.
	Idle, ReadPending, UploadPending, WaitPending int

	// Submitted counts transfers accepted by Submit.
	Submitted uint64

	// Rejected counts transfers refused by Submit validation.
	Rejected uint64

	// Decoded counts tiles copied into staging.
	Decoded uint64

	// Uploaded counts slots handed to WaitPending by the uploader.
	Uploaded uint64

	// Recycled counts transfers completed successfully.
	Recycled uint64

	// Failed counts transfers recycled with an error.
	Failed uint64

	// DeviceErrors counts failed device operations.
	DeviceErrors uint64
}

// Held returns the number of slots not queued in any stage.
func (s Stats) Held() int {
	return s.Slots - s.Idle - s.ReadPending - s.UploadPending - s.WaitPending
}

// String returns a human-readable string of streamer stats.
func (s Stats) String() string {
	return fmt.Sprintf("Streamer[%d slots (%d idle, %d read, %d upload, %d wait), %d workers, %d in flight, %d/%d done, %d failed]",
		s.Slots,
		s.Idle,
		s.ReadPending,
		s.UploadPending,
		s.WaitPending,
		s.Workers,
		s.InFlight,
		s.Recycled,
		s.Submitted,
		s.Failed)
}

// statsSnapshot assembles a Stats from one queue snapshot and the counters.
func (p *SlotPool) statsSnapshot(workers int) Stats {
	snap := p.Snapshot()
	return Stats{
		Slots:         p.Size(),
		Workers:       workers,
		InFlight:      p.InFlight(),
		Idle:          snap.Len(Idle),
		ReadPending:   snap.Len(ReadPending),
		UploadPending: snap.Len(UploadPending),
		WaitPending:   snap.Len(WaitPending),
		Submitted:     p.stats.submitted.Load(),
		Rejected:      p.stats.rejected.Load(),
		Decoded:       p.stats.decoded.Load(),
		Uploaded:      p.stats.uploaded.Load(),
		Recycled:      p.stats.recycled.Load(),
		Failed:        p.stats.failed.Load(),
		DeviceErrors:  p.stats.deviceErrors.Load(),
	}
}
