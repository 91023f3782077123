package texstream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/gogpu/texstream/device"
)

// Virtual texture errors.
var (
	// ErrPageOutOfRange is returned for page coordinates outside the page
	// grid.
	ErrPageOutOfRange = errors.New("texstream: page out of range")

	// ErrPageBusy is returned when uncommitting a page that is streaming.
	ErrPageBusy = errors.New("texstream: page is streaming")
)

// PageState is the residency of one page of a VirtualTexture.
type PageState uint8

const (
	// NotResident pages have no committed memory or undefined content.
	NotResident PageState = iota

	// Streaming pages have a transfer in the pipeline.
	Streaming

	// Resident pages hold their texels.
	Resident
)

// String returns the state name.
func (s PageState) String() string {
	switch s {
	case NotResident:
		return "NotResident"
	case Streaming:
		return "Streaming"
	case Resident:
		return "Resident"
	default:
		return fmt.Sprintf("PageState(%d)", s)
	}
}

// VirtualTexture is a paged destination texture backed by a full-size
// compressed payload. Pages are streamed in through a Streamer on demand
// and can be released again.
//
// A page whose transfer fails returns to NotResident and may be streamed
// again.
type VirtualTexture struct {
	s       *Streamer
	res     device.Resource
	payload []byte
	layout  BlockLayout
	pitch   int

	pageW, pageH int
	cols, rows   int

	mu    sync.Mutex
	state []PageState
}

// NewVirtualTexture maps payload, a block-compressed image of the same size
// and format as res, onto pages of pageW x pageH texels.
//
// The texture size and the page size must be multiples of the block
// footprint, and one page must fit a slot of s.
func NewVirtualTexture(s *Streamer, res device.Resource, payload []byte, pageW, pageH int) (*VirtualTexture, error) {
	if s == nil || res == nil {
		return nil, errors.New("texstream: nil streamer or resource")
	}
	layout, ok := LayoutForFormat(res.Format())
	if !ok {
		return nil, fmt.Errorf("texstream: %s is not block compressed", res.Format())
	}
	w, h := res.Width(), res.Height()
	if w <= 0 || h <= 0 || w%layout.Width != 0 || h%layout.Height != 0 {
		return nil, fmt.Errorf("texstream: texture %dx%d is not a multiple of the %s block", w, h, layout)
	}
	if pageW <= 0 || pageH <= 0 || pageW%layout.Width != 0 || pageH%layout.Height != 0 {
		return nil, fmt.Errorf("texstream: page %dx%d is not a multiple of the %s block", pageW, pageH, layout)
	}

	pitch := layout.Pitch(w)
	_, blockRows := layout.Grid(w, h)
	if need := pitch * blockRows; len(payload) < need {
		return nil, fmt.Errorf("texstream: payload holds %d bytes, %dx%d %s needs %d",
			len(payload), w, h, res.Format(), need)
	}

	if need := StagingSize(layout, min(pageW, w), min(pageH, h), s.pool.alignment); need > s.pool.Capacity() {
		return nil, fmt.Errorf("texstream: page needs %d staging bytes, slot holds %d", need, s.pool.Capacity())
	}

	vt := &VirtualTexture{
		s:       s,
		res:     res,
		payload: payload,
		layout:  layout,
		pitch:   pitch,
		pageW:   pageW,
		pageH:   pageH,
		cols:    (w + pageW - 1) / pageW,
		rows:    (h + pageH - 1) / pageH,
	}
	vt.state = make([]PageState, vt.cols*vt.rows)
	return vt, nil
}

// Resource returns the destination texture.
func (vt *VirtualTexture) Resource() device.Resource { return vt.res }

// Pages returns the page grid size.
func (vt *VirtualTexture) Pages() (cols, rows int) { return vt.cols, vt.rows }

// PageSize returns the page size in texels.
func (vt *VirtualTexture) PageSize() (w, h int) { return vt.pageW, vt.pageH }

// PageRegion returns the texel rectangle of page (px, py). Pages on the
// right and bottom edges are clipped to the texture.
func (vt *VirtualTexture) PageRegion(px, py int) (device.Region, error) {
	if px < 0 || py < 0 || px >= vt.cols || py >= vt.rows {
		return device.Region{}, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrPageOutOfRange, px, py, vt.cols, vt.rows)
	}
	x, y := px*vt.pageW, py*vt.pageH
	return device.Region{
		X:      x,
		Y:      y,
		Width:  min(vt.pageW, vt.res.Width()-x),
		Height: min(vt.pageH, vt.res.Height()-y),
	}, nil
}

// State returns the residency of page (px, py).
func (vt *VirtualTexture) State(px, py int) PageState {
	if px < 0 || py < 0 || px >= vt.cols || py >= vt.rows {
		return NotResident
	}
	vt.mu.Lock()
	defer vt.mu.Unlock()
	return vt.state[py*vt.cols+px]
}

// Resident reports whether page (px, py) holds its texels.
func (vt *VirtualTexture) Resident(px, py int) bool {
	return vt.State(px, py) == Resident
}

// ResidentPages returns the number of resident pages.
func (vt *VirtualTexture) ResidentPages() int {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	n := 0
	for _, st := range vt.state {
		if st == Resident {
			n++
		}
	}
	return n
}

// StreamPage queues the upload of page (px, py), blocking until a slot is
// free. It returns false without doing anything if the page is resident
// or already streaming.
//
// StreamPage must not be called from the device goroutine: with every
// slot in flight it would wait for a recycle only that goroutine can do.
// Use TryStreamPage there.
func (vt *VirtualTexture) StreamPage(ctx context.Context, px, py int) (bool, error) {
	return vt.stream(px, py, func() (SlotID, bool, error) {
		id, err := vt.s.Acquire(ctx)
		return id, err == nil, err
	})
}

// TryStreamPage is StreamPage without blocking. It returns false if the
// page needs no streaming or no slot is idle.
func (vt *VirtualTexture) TryStreamPage(px, py int) (bool, error) {
	return vt.stream(px, py, vt.s.TryAcquire)
}

func (vt *VirtualTexture) stream(px, py int, acquire func() (SlotID, bool, error)) (bool, error) {
	r, err := vt.PageRegion(px, py)
	if err != nil {
		return false, err
	}
	i := py*vt.cols + px

	vt.mu.Lock()
	if vt.state[i] != NotResident {
		vt.mu.Unlock()
		return false, nil
	}
	vt.state[i] = Streaming
	vt.mu.Unlock()

	id, ok, err := acquire()
	if err != nil || !ok {
		vt.set(i, NotResident)
		return false, err
	}

	err = vt.s.Submit(id, TransferParams{
		Source:      vt.payload,
		SourcePitch: vt.pitch,
		SourceX:     r.X,
		SourceY:     r.Y,
		DestX:       r.X,
		DestY:       r.Y,
		Width:       r.Width,
		Height:      r.Height,
		Layout:      vt.layout,
		Resource:    vt.res,
		Format:      vt.res.Format(),
		Done: func(err error) {
			if err != nil {
				vt.s.logger.Warn("texstream: page not resident", "page", [2]int{px, py}, "err", err)
				vt.set(i, NotResident)
				return
			}
			vt.set(i, Resident)
		},
	})
	if err != nil {
		vt.set(i, NotResident)
		return false, err
	}
	return true, nil
}

// UncommitPage releases the memory of a resident page. It must be called
// from the device goroutine. Uncommitting a page that is not resident is
// a no-op.
func (vt *VirtualTexture) UncommitPage(px, py int) error {
	r, err := vt.PageRegion(px, py)
	if err != nil {
		return err
	}
	i := py*vt.cols + px

	vt.mu.Lock()
	defer vt.mu.Unlock()
	switch vt.state[i] {
	case Streaming:
		return fmt.Errorf("%w: (%d,%d)", ErrPageBusy, px, py)
	case NotResident:
		return nil
	}
	if err := vt.s.pool.dev.CommitRegion(vt.res, r, false); err != nil {
		return &DeviceError{Slot: -1, Op: OpCommit, Err: err}
	}
	vt.state[i] = NotResident
	return nil
}

func (vt *VirtualTexture) set(i int, st PageState) {
	vt.mu.Lock()
	vt.state[i] = st
	vt.mu.Unlock()
}

// Residency debug colors. Non-resident texels are yellow, as a sparse
// texture sampler shows them.
var (
	colorNotResident = color.RGBA{R: 0xff, G: 0xff, A: 0xff}
	colorStreaming   = color.RGBA{R: 0x30, G: 0x60, B: 0xff, A: 0xff}
	colorResidentA   = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	colorResidentB   = color.RGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff}
)

// ResidencyImage renders the page map with each page as a scale x scale
// square: yellow for not resident, blue for streaming, and a white and
// gray checkerboard for resident pages.
func (vt *VirtualTexture) ResidencyImage(scale int) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, vt.cols*scale, vt.rows*scale))

	vt.mu.Lock()
	state := append([]PageState(nil), vt.state...)
	vt.mu.Unlock()

	for py := range vt.rows {
		for px := range vt.cols {
			var c color.RGBA
			switch state[py*vt.cols+px] {
			case Resident:
				c = colorResidentA
				if (px+py)%2 == 1 {
					c = colorResidentB
				}
			case Streaming:
				c = colorStreaming
			default:
				c = colorNotResident
			}
			for y := py * scale; y < (py+1)*scale; y++ {
				for x := px * scale; x < (px+1)*scale; x++ {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
	return img
}
