// Package texstream streams block-compressed texture tiles from source
// memory into GPU textures.
//
// # Overview
//
// A Streamer owns a fixed pool of N staging slots. Each slot cycles through
// four stages:
//
//	Idle -> ReadPending -> UploadPending -> WaitPending -> Idle
//
// Producers acquire an idle slot and submit a transfer. M decode workers
// copy the tile into the slot's staging memory. The goroutine that owns the
// device then records the copy and attaches a completion token, and once
// the token signals the slot is recycled to Idle.
//
// # Quick Start
//
//	dev, err := haldevice.Open(noop.API{}, nil)
//	if err != nil {
//	    return err
//	}
//	tex, err := dev.CreateSparseTexture(w, h, format, 512, 512)
//	...
//	s, err := texstream.New(dev)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	// Any goroutine:
//	id, err := s.Acquire(ctx)
//	err = s.Submit(id, texstream.TransferParams{...})
//
//	// Device goroutine, once per frame:
//	res := s.Drive(ctx, frame)
//
// # Threading
//
// Acquire, TryAcquire, Release and Submit are safe for concurrent use.
// Drive, Flush and Close issue device work and belong to the device
// goroutine. Slots move between goroutines only through the stage queues,
// so the goroutine that popped a slot is its sole owner. Close waits for
// producers holding a slot to hand it back through Submit or Release.
//
// # Pages
//
// VirtualTexture splits a destination into pages and streams them on
// demand from a payload such as a memory-mapped ASTC file (see package
// source). Pages whose transfer fails drop back to NotResident.
//
// # Errors
//
// Submit rejects invalid parameters with a *TransferError matching
// ErrInvalidTransfer. Device failures are reported by Drive as
// *DeviceError matching ErrDeviceError, after the slot was recycled. Once
// the streamer is closing, blocking calls return ErrPoolStopped.
package texstream
