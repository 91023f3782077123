// Package haldevice implements device.Device on top of a gogpu/wgpu HAL
// device and queue.
//
// Copies are recorded into one command encoder until a completion token is
// requested; CreateToken then ends the encoder, submits it and binds the
// token to the returned submission index. A token is signaled once
// Queue.PollCompleted reaches that index.
//
// WebGPU exposes no sparse binding, so SparseTexture allocates the whole
// texture up front and CommitRegion maintains a page residency table that
// the sampling side can consult.
package haldevice

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texstream/device"
)

// copyPitchAlignment is the WebGPU bytesPerRow alignment for
// buffer-texture copies.
const copyPitchAlignment = 256

// ErrNoHAL is returned by FromProvider when the provider does not expose
// HAL objects.
var ErrNoHAL = errors.New("haldevice: provider does not expose hal.Device and hal.Queue")

// halProvider is implemented by host applications that expose their HAL
// device and queue next to gpucontext.DeviceProvider.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// tokenState binds a token to a submission.
type tokenState struct {
	index  uint64
	failed bool
}

// inflight is a submitted command buffer waiting for completion.
type inflight struct {
	index   uint64
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
}

// Device is a device.Device backed by a HAL device and queue.
//
// Device is not safe for concurrent use: every method must be called from
// the goroutine that owns the HAL device.
type Device struct {
	device hal.Device
	queue  hal.Queue
	logger *slog.Logger

	// Encoder currently recording copies, nil between submissions.
	encoder hal.CommandEncoder
	copies  int

	lastSubmit uint64
	nextToken  device.Token
	tokens     map[device.Token]tokenState
	pending    []inflight

	// closeFn releases objects owned by Open; nil for borrowed devices.
	closeFn func()
}

// New wraps an existing HAL device and queue. The caller keeps ownership of
// both.
func New(dev hal.Device, queue hal.Queue, logger *slog.Logger) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, fmt.Errorf("haldevice: nil device or queue")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Device{
		device: dev,
		queue:  queue,
		logger: logger,
		tokens: make(map[device.Token]tokenState),
	}, nil
}

// FromProvider extracts the HAL device and queue from a host application's
// DeviceProvider.
func FromProvider(p gpucontext.DeviceProvider, logger *slog.Logger) (*Device, error) {
	hp, ok := p.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrNoHAL, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrNoHAL, hp.HalQueue())
	}
	return New(dev, queue, logger)
}

// Open creates an instance of backend, opens its first adapter and wraps
// the resulting device. Close releases everything Open created.
func Open(backend hal.Backend, logger *slog.Logger) (*Device, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("haldevice: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("haldevice: backend %s has no adapters", backend.Variant())
	}
	exposed := adapters[0]
	opened, err := exposed.Adapter.Open(0, exposed.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("haldevice: open adapter %q: %w", exposed.Info.Name, err)
	}

	d, err := New(opened.Device, opened.Queue, logger)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	d.closeFn = func() {
		opened.Device.Destroy()
		exposed.Adapter.Destroy()
		instance.Destroy()
	}
	d.logger.Info("haldevice: opened adapter", "name", exposed.Info.Name, "driver", exposed.Info.Driver)
	return d, nil
}

// HAL returns the wrapped HAL device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) {
	return d.device, d.queue
}

// CopyPitchAlignment implements device.Device.
func (d *Device) CopyPitchAlignment() int { return copyPitchAlignment }

// staging is a persistently mapped HAL buffer.
type staging struct {
	buffer hal.Buffer
	data   []byte
}

func (s *staging) Bytes() []byte { return s.data }

// CreateStaging implements device.Device.
func (d *Device) CreateStaging(capacity int) (device.Staging, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("haldevice: staging capacity %d", capacity)
	}
	size := uint64(capacity) //nolint:gosec // G115: checked positive above
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label:            "texstream_staging",
		Size:             size,
		Usage:            gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		MappedAtCreation: true,
	})
	if err != nil {
		return nil, fmt.Errorf("haldevice: create staging buffer: %w", err)
	}
	mapping, err := d.device.MapBuffer(buf, 0, size)
	if err != nil {
		d.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("haldevice: map staging buffer: %w", err)
	}
	if !mapping.IsCoherent {
		d.logger.Debug("haldevice: staging mapping is not coherent", "size", size)
	}
	return &staging{
		buffer: buf,
		data:   unsafe.Slice((*byte)(mapping.Ptr), capacity),
	}, nil
}

// DestroyStaging implements device.Device.
func (d *Device) DestroyStaging(s device.Staging) {
	st, ok := s.(*staging)
	if !ok || st.buffer == nil {
		return
	}
	if err := d.device.UnmapBuffer(st.buffer); err != nil {
		d.logger.Warn("haldevice: unmap staging buffer", "err", err)
	}
	d.device.DestroyBuffer(st.buffer)
	st.buffer = nil
	st.data = nil
}

// CommitRegion implements device.Device.
func (d *Device) CommitRegion(res device.Resource, r device.Region, commit bool) error {
	tex, ok := res.(*SparseTexture)
	if !ok {
		return fmt.Errorf("%w: %T", device.ErrForeignResource, res)
	}
	return tex.commit(r, commit)
}

// CopyCompressed implements device.Device.
func (d *Device) CopyCompressed(res device.Resource, r device.Region, format gputypes.TextureFormat, src device.Staging, layout device.CopyLayout) error {
	tex, ok := res.(*SparseTexture)
	if !ok {
		return fmt.Errorf("%w: %T", device.ErrForeignResource, res)
	}
	st, ok := src.(*staging)
	if !ok || st.buffer == nil {
		return device.ErrForeignStaging
	}
	if format != tex.format {
		return fmt.Errorf("haldevice: copy format %s into %s texture", format, tex.format)
	}
	if !r.Within(tex.width, tex.height) {
		return fmt.Errorf("%w: %s in %dx%d", device.ErrRegionOutOfBounds, r, tex.width, tex.height)
	}
	if layout.Rows > 1 && layout.BytesPerRow%copyPitchAlignment != 0 {
		return fmt.Errorf("haldevice: bytes per row %d not aligned to %d", layout.BytesPerRow, copyPitchAlignment)
	}
	if layout.Offset+layout.Bytes > len(st.data) {
		return fmt.Errorf("haldevice: copy of %d bytes at %d overruns staging of %d",
			layout.Bytes, layout.Offset, len(st.data))
	}

	enc, err := d.recording()
	if err != nil {
		return err
	}

	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex.texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageTextureBinding,
			NewUsage: gputypes.TextureUsageCopyDst,
		},
	}})
	//nolint:gosec // G115: region and layout values are validated non-negative
	enc.CopyBufferToTexture(st.buffer, tex.texture, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       uint64(layout.Offset),
			BytesPerRow:  uint32(layout.BytesPerRow),
			RowsPerImage: uint32(layout.Rows),
		},
		TextureBase: hal.ImageCopyTexture{
			Texture:  tex.texture,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: uint32(r.X), Y: uint32(r.Y)},
			Aspect:   gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: uint32(r.Width), Height: uint32(r.Height), DepthOrArrayLayers: 1},
	}})
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex.texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopyDst,
			NewUsage: gputypes.TextureUsageTextureBinding,
		},
	}})
	d.copies++
	return nil
}

// recording returns the current encoder, starting one if needed.
func (d *Device) recording() (hal.CommandEncoder, error) {
	if d.encoder != nil {
		return d.encoder, nil
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "texstream_upload",
	})
	if err != nil {
		return nil, fmt.Errorf("haldevice: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("texstream_upload"); err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("haldevice: begin encoding: %w", err)
	}
	d.encoder = enc
	d.copies = 0
	return enc, nil
}

// CreateToken implements device.Device.
//
// If copies were recorded since the last token they are submitted first.
// A failed submission still yields a token; it polls as device.Error so
// the failure reaches the reaper with the slots that depended on it.
func (d *Device) CreateToken() (device.Token, error) {
	state := tokenState{index: d.lastSubmit}

	if enc := d.encoder; enc != nil {
		d.encoder = nil
		index, err := d.submit(enc)
		if err != nil {
			d.logger.Warn("haldevice: submit failed", "copies", d.copies, "err", err)
			state.failed = true
		} else {
			state.index = index
		}
	}

	d.nextToken++
	d.tokens[d.nextToken] = state
	return d.nextToken, nil
}

func (d *Device) submit(enc hal.CommandEncoder) (uint64, error) {
	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.Destroy()
		return 0, fmt.Errorf("end encoding: %w", err)
	}
	index, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.device.FreeCommandBuffer(cmd)
		enc.Destroy()
		return 0, fmt.Errorf("submit: %w", err)
	}
	d.lastSubmit = index
	d.pending = append(d.pending, inflight{index: index, encoder: enc, cmd: cmd})
	return index, nil
}

// PollToken implements device.Device.
func (d *Device) PollToken(t device.Token) (device.TokenStatus, error) {
	state, ok := d.tokens[t]
	if !ok {
		return device.Error, device.ErrUnknownToken
	}
	if state.failed {
		return device.Error, nil
	}
	completed := d.queue.PollCompleted()
	d.reclaim(completed)
	if completed >= state.index {
		return device.Signaled, nil
	}
	return device.Pending, nil
}

// reclaim frees command buffers of submissions up to completed.
func (d *Device) reclaim(completed uint64) {
	n := 0
	for _, p := range d.pending {
		if p.index <= completed {
			d.device.FreeCommandBuffer(p.cmd)
			p.encoder.Destroy()
			continue
		}
		d.pending[n] = p
		n++
	}
	clear(d.pending[n:])
	d.pending = d.pending[:n]
}

// ReleaseToken implements device.Device.
func (d *Device) ReleaseToken(t device.Token) {
	delete(d.tokens, t)
}

// Flush submits any recorded copies without creating a token.
func (d *Device) Flush() error {
	enc := d.encoder
	if enc == nil {
		return nil
	}
	d.encoder = nil
	_, err := d.submit(enc)
	return err
}

// Close waits for the device to go idle, frees every in-flight command
// buffer and, for devices created by Open, destroys the HAL objects.
func (d *Device) Close() error {
	var errs []error
	if d.encoder != nil {
		d.encoder.DiscardEncoding()
		d.encoder.Destroy()
		d.encoder = nil
	}
	if err := d.device.WaitIdle(); err != nil {
		errs = append(errs, fmt.Errorf("haldevice: wait idle: %w", err))
	}
	for _, p := range d.pending {
		d.device.FreeCommandBuffer(p.cmd)
		p.encoder.Destroy()
	}
	d.pending = nil
	clear(d.tokens)
	if d.closeFn != nil {
		d.closeFn()
		d.closeFn = nil
	}
	return errors.Join(errs...)
}

var _ device.Device = (*Device)(nil)
