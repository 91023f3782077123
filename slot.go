package texstream

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/texstream/device"
	"github.com/gogpu/texstream/internal/blit"
	"github.com/gogpu/texstream/internal/stage"
)

// SlotID identifies a slot of a pool, in [0, N).
type SlotID int

// Stage is a pipeline stage a slot can wait in.
type Stage = stage.Stage

// Pipeline stages, in cycle order.
const (
	Idle          = stage.Idle
	ReadPending   = stage.ReadPending
	UploadPending = stage.UploadPending
	WaitPending   = stage.WaitPending
)

// TransferParams describes one tile transfer from a source buffer into a
// destination texture. All coordinates and sizes are in texels and must be
// multiples of the block footprint.
type TransferParams struct {
	// Source is the block payload the tile is read from.
	Source []byte

	// SourcePitch is the number of bytes per row of blocks in Source.
	SourcePitch int

	// SourceX and SourceY locate the tile in the source image.
	SourceX, SourceY int

	// DestX and DestY locate the tile in Resource.
	DestX, DestY int

	// Width and Height are the tile size.
	Width, Height int

	// Layout is the block layout. The zero value selects the layout of
	// Format.
	Layout BlockLayout

	// Resource is the destination texture.
	Resource device.Resource

	// Format is the destination format. It must match Resource.Format().
	Format gputypes.TextureFormat

	// Done, if set, is called on the device goroutine once the slot was
	// recycled. err is nil on success. Done must not block.
	Done func(err error)
}

// Region returns the destination rectangle.
func (p *TransferParams) Region() device.Region {
	return device.Region{X: p.DestX, Y: p.DestY, Width: p.Width, Height: p.Height}
}

func (p *TransferParams) sourceRect() blit.Rect {
	return blit.Rect{X: p.SourceX, Y: p.SourceY, Width: p.Width, Height: p.Height}
}

// validate checks p against a slot of capacity bytes and returns the
// staging layout of the tile. It fills in p.Layout when zero.
func (p *TransferParams) validate(capacity, alignment int) (device.CopyLayout, error) {
	if p.Resource == nil {
		return device.CopyLayout{}, invalid("Resource", "nil")
	}
	if p.Format != p.Resource.Format() {
		return device.CopyLayout{}, invalid("Format", "%s does not match resource format %s", p.Format, p.Resource.Format())
	}
	layout, ok := LayoutForFormat(p.Format)
	if !ok {
		return device.CopyLayout{}, invalid("Format", "%s is not block compressed", p.Format)
	}
	if p.Layout == (BlockLayout{}) {
		p.Layout = layout
	} else if p.Layout != layout {
		return device.CopyLayout{}, invalid("Layout", "%s does not match %s (%s)", p.Layout, p.Format, layout)
	}

	if p.Width <= 0 || p.Height <= 0 {
		return device.CopyLayout{}, invalid("Width/Height", "tile is %dx%d", p.Width, p.Height)
	}
	if p.SourceX < 0 || p.SourceY < 0 || p.DestX < 0 || p.DestY < 0 {
		return device.CopyLayout{}, invalid("Offset", "negative offset")
	}
	bw, bh := layout.Width, layout.Height
	for _, f := range [...]struct {
		name string
		v, b int
	}{
		{"SourceX", p.SourceX, bw},
		{"SourceY", p.SourceY, bh},
		{"DestX", p.DestX, bw},
		{"DestY", p.DestY, bh},
		{"Width", p.Width, bw},
		{"Height", p.Height, bh},
	} {
		if f.v%f.b != 0 {
			return device.CopyLayout{}, invalid(f.name, "%d is not a multiple of the %dx%d block", f.v, bw, bh)
		}
	}

	if p.Source == nil {
		return device.CopyLayout{}, invalid("Source", "nil")
	}
	cols, rows := layout.Grid(p.Width, p.Height)
	rowBytes := cols * layout.Bytes
	if p.SourcePitch <= 0 || (p.SourceX/bw)*layout.Bytes+rowBytes > p.SourcePitch {
		return device.CopyLayout{}, invalid("SourcePitch", "%d bytes cannot hold columns %d..%d",
			p.SourcePitch, p.SourceX/bw, p.SourceX/bw+cols)
	}
	if need := blit.SourceSpan(p.sourceRect(), layout.block(), p.SourcePitch); need > len(p.Source) {
		return device.CopyLayout{}, invalid("Source", "tile needs %d bytes, source has %d", need, len(p.Source))
	}

	if r := p.Region(); !r.Within(p.Resource.Width(), p.Resource.Height()) {
		return device.CopyLayout{}, invalid("Dest", "%s outside %dx%d resource", r, p.Resource.Width(), p.Resource.Height())
	}

	l := stagingLayout(rowBytes, rows, alignment)
	if l.Bytes > capacity {
		return device.CopyLayout{}, invalid("Width/Height", "tile needs %d staging bytes, slot holds %d", l.Bytes, capacity)
	}
	return l, nil
}

// StagingSize returns the staging bytes a width x height tile of layout l
// needs when rows are padded to alignment bytes.
func StagingSize(l BlockLayout, width, height, alignment int) int {
	if !l.Valid() || width <= 0 || height <= 0 {
		return 0
	}
	cols, rows := l.Grid(width, height)
	return stagingLayout(cols*l.Bytes, rows, alignment).Bytes
}

// stagingLayout lays rows of rowBytes out with a pitch aligned for
// buffer-to-texture copies.
func stagingLayout(rowBytes, rows, alignment int) device.CopyLayout {
	pitch := rowBytes
	if alignment > 1 {
		pitch = (rowBytes + alignment - 1) / alignment * alignment
	}
	return device.CopyLayout{
		BytesPerRow: pitch,
		Rows:        rows,
		Bytes:       (rows-1)*pitch + rowBytes,
	}
}

// BufferSlot is one reusable staging region and the transfer it carries.
//
// A slot is owned by exactly one goroutine at a time: whichever removed it
// from a stage queue last. Only the owner may touch its fields.
type BufferSlot struct {
	// ID is the slot index.
	ID SlotID

	// Staging is the slot's persistently mapped staging memory.
	Staging device.Staging

	token  device.Token
	params TransferParams
	layout device.CopyLayout
	err    error
}

// Token returns the completion token, or zero if none is attached.
func (s *BufferSlot) Token() device.Token { return s.token }

// Params returns the transfer the slot carries.
func (s *BufferSlot) Params() TransferParams { return s.params }

// Layout returns the staging layout of the current transfer.
func (s *BufferSlot) Layout() device.CopyLayout { return s.layout }

// Err returns the failure recorded for the current transfer.
func (s *BufferSlot) Err() error { return s.err }

// busy reports whether the slot carries a transfer.
func (s *BufferSlot) busy() bool { return s.params.Resource != nil }

// reset clears the per-transfer state.
func (s *BufferSlot) reset() {
	s.token = 0
	s.params = TransferParams{}
	s.layout = device.CopyLayout{}
	s.err = nil
}
