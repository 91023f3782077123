package haldevice

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texstream/device"
)

// SparseTexture is a compressed texture split into fixed-size pages whose
// residency is tracked by CommitRegion.
//
// The residency table may be read from any goroutine; it is written only
// by the device goroutine.
type SparseTexture struct {
	texture hal.Texture
	owner   *Device

	width, height int
	format        gputypes.TextureFormat
	pageW, pageH  int

	mu        sync.RWMutex
	committed map[uint32]struct{}
}

// pageKey packs page coordinates into a residency table key.
func pageKey(px, py int) uint32 {
	return uint32(py)<<16 | uint32(px) //nolint:gosec // G115: page indices fit in 16 bits
}

// CreateSparseTexture creates a width x height texture of a compressed
// format, paged in pageW x pageH texel pages. All pages start
// uncommitted.
func (d *Device) CreateSparseTexture(width, height int, format gputypes.TextureFormat, pageW, pageH int) (*SparseTexture, error) {
	if width <= 0 || height <= 0 || pageW <= 0 || pageH <= 0 {
		return nil, fmt.Errorf("haldevice: invalid sparse texture %dx%d paged %dx%d", width, height, pageW, pageH)
	}
	if (width+pageW-1)/pageW > 1<<16 || (height+pageH-1)/pageH > 1<<16 {
		return nil, fmt.Errorf("haldevice: too many pages for %dx%d paged %dx%d", width, height, pageW, pageH)
	}
	//nolint:gosec // G115: dimensions checked positive above
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "texstream_sparse",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, fmt.Errorf("haldevice: create texture: %w", err)
	}
	return &SparseTexture{
		texture:   tex,
		owner:     d,
		width:     width,
		height:    height,
		format:    format,
		pageW:     pageW,
		pageH:     pageH,
		committed: make(map[uint32]struct{}),
	}, nil
}

func (t *SparseTexture) Width() int                     { return t.width }
func (t *SparseTexture) Height() int                    { return t.height }
func (t *SparseTexture) Format() gputypes.TextureFormat { return t.format }

// Texture returns the underlying HAL texture.
func (t *SparseTexture) Texture() hal.Texture { return t.texture }

// PageSize returns the page dimensions in texels.
func (t *SparseTexture) PageSize() (w, h int) { return t.pageW, t.pageH }

// Committed reports whether page (px, py) is backed.
func (t *SparseTexture) Committed(px, py int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.committed[pageKey(px, py)]
	return ok
}

// CommittedPages returns the number of backed pages.
func (t *SparseTexture) CommittedPages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.committed)
}

// commit updates every page r touches.
func (t *SparseTexture) commit(r device.Region, commit bool) error {
	if !r.Within(t.width, t.height) {
		return fmt.Errorf("%w: %s in %dx%d", device.ErrRegionOutOfBounds, r, t.width, t.height)
	}
	x0, y0 := r.X/t.pageW, r.Y/t.pageH
	x1, y1 := (r.X+r.Width-1)/t.pageW, (r.Y+r.Height-1)/t.pageH

	t.mu.Lock()
	defer t.mu.Unlock()
	for py := y0; py <= y1; py++ {
		for px := x0; px <= x1; px++ {
			if commit {
				t.committed[pageKey(px, py)] = struct{}{}
			} else {
				delete(t.committed, pageKey(px, py))
			}
		}
	}
	return nil
}

// Destroy releases the HAL texture.
func (t *SparseTexture) Destroy() {
	if t.texture == nil {
		return
	}
	t.owner.device.DestroyTexture(t.texture)
	t.texture = nil
	t.mu.Lock()
	clear(t.committed)
	t.mu.Unlock()
}
