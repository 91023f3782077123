package texstream

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texstream/internal/blit"
)

// BlockLayout describes the compression block of a texture format.
type BlockLayout struct {
	// Width and Height are the block footprint in texels.
	Width, Height int

	// Bytes is the encoded size of one block.
	Bytes int
}

// BitsPerBlock returns the encoded block size in bits.
func (l BlockLayout) BitsPerBlock() int { return l.Bytes * 8 }

// Valid reports whether every dimension is positive.
func (l BlockLayout) Valid() bool {
	return l.Width > 0 && l.Height > 0 && l.Bytes > 0
}

// Grid returns how many blocks cover width x height texels. Both must be
// block aligned.
func (l BlockLayout) Grid(width, height int) (cols, rows int) {
	return width / l.Width, height / l.Height
}

// Pitch returns the bytes per row of blocks of an image width texels wide,
// rounding a partial block up.
func (l BlockLayout) Pitch(width int) int {
	return (width + l.Width - 1) / l.Width * l.Bytes
}

// String returns "WxH/N bits".
func (l BlockLayout) String() string {
	return fmt.Sprintf("%dx%d/%d bits", l.Width, l.Height, l.BitsPerBlock())
}

func (l BlockLayout) block() blit.Block {
	return blit.Block{Width: l.Width, Height: l.Height, Bytes: l.Bytes}
}

// Layouts shared by the 4x4 BC, ETC2 and EAC formats.
var (
	bc8  = BlockLayout{Width: 4, Height: 4, Bytes: 8}
	bc16 = BlockLayout{Width: 4, Height: 4, Bytes: 16}
)

// astcDims lists the ASTC 2D footprints. Every ASTC block is 16 bytes.
var astcDims = [...]struct {
	w, h        int
	unorm, srgb gputypes.TextureFormat
}{
	{4, 4, gputypes.TextureFormatASTC4x4Unorm, gputypes.TextureFormatASTC4x4UnormSrgb},
	{5, 4, gputypes.TextureFormatASTC5x4Unorm, gputypes.TextureFormatASTC5x4UnormSrgb},
	{5, 5, gputypes.TextureFormatASTC5x5Unorm, gputypes.TextureFormatASTC5x5UnormSrgb},
	{6, 5, gputypes.TextureFormatASTC6x5Unorm, gputypes.TextureFormatASTC6x5UnormSrgb},
	{6, 6, gputypes.TextureFormatASTC6x6Unorm, gputypes.TextureFormatASTC6x6UnormSrgb},
	{8, 5, gputypes.TextureFormatASTC8x5Unorm, gputypes.TextureFormatASTC8x5UnormSrgb},
	{8, 6, gputypes.TextureFormatASTC8x6Unorm, gputypes.TextureFormatASTC8x6UnormSrgb},
	{8, 8, gputypes.TextureFormatASTC8x8Unorm, gputypes.TextureFormatASTC8x8UnormSrgb},
	{10, 5, gputypes.TextureFormatASTC10x5Unorm, gputypes.TextureFormatASTC10x5UnormSrgb},
	{10, 6, gputypes.TextureFormatASTC10x6Unorm, gputypes.TextureFormatASTC10x6UnormSrgb},
	{10, 8, gputypes.TextureFormatASTC10x8Unorm, gputypes.TextureFormatASTC10x8UnormSrgb},
	{10, 10, gputypes.TextureFormatASTC10x10Unorm, gputypes.TextureFormatASTC10x10UnormSrgb},
	{12, 10, gputypes.TextureFormatASTC12x10Unorm, gputypes.TextureFormatASTC12x10UnormSrgb},
	{12, 12, gputypes.TextureFormatASTC12x12Unorm, gputypes.TextureFormatASTC12x12UnormSrgb},
}

// blockLayouts maps every block-compressed format to its layout.
var blockLayouts = func() map[gputypes.TextureFormat]BlockLayout {
	m := map[gputypes.TextureFormat]BlockLayout{
		gputypes.TextureFormatBC1RGBAUnorm:     bc8,
		gputypes.TextureFormatBC1RGBAUnormSrgb: bc8,
		gputypes.TextureFormatBC2RGBAUnorm:     bc16,
		gputypes.TextureFormatBC2RGBAUnormSrgb: bc16,
		gputypes.TextureFormatBC3RGBAUnorm:     bc16,
		gputypes.TextureFormatBC3RGBAUnormSrgb: bc16,
		gputypes.TextureFormatBC4RUnorm:        bc8,
		gputypes.TextureFormatBC4RSnorm:        bc8,
		gputypes.TextureFormatBC5RGUnorm:       bc16,
		gputypes.TextureFormatBC5RGSnorm:       bc16,
		gputypes.TextureFormatBC6HRGBUfloat:    bc16,
		gputypes.TextureFormatBC6HRGBFloat:     bc16,
		gputypes.TextureFormatBC7RGBAUnorm:     bc16,
		gputypes.TextureFormatBC7RGBAUnormSrgb: bc16,

		gputypes.TextureFormatETC2RGB8Unorm:       bc8,
		gputypes.TextureFormatETC2RGB8UnormSrgb:   bc8,
		gputypes.TextureFormatETC2RGB8A1Unorm:     bc8,
		gputypes.TextureFormatETC2RGB8A1UnormSrgb: bc8,
		gputypes.TextureFormatETC2RGBA8Unorm:      bc16,
		gputypes.TextureFormatETC2RGBA8UnormSrgb:  bc16,
		gputypes.TextureFormatEACR11Unorm:         bc8,
		gputypes.TextureFormatEACR11Snorm:         bc8,
		gputypes.TextureFormatEACRG11Unorm:        bc16,
		gputypes.TextureFormatEACRG11Snorm:        bc16,
	}
	for _, d := range astcDims {
		l := BlockLayout{Width: d.w, Height: d.h, Bytes: 16}
		m[d.unorm] = l
		m[d.srgb] = l
	}
	return m
}()

// LayoutForFormat returns the block layout of a block-compressed format.
// It returns false for uncompressed formats.
func LayoutForFormat(f gputypes.TextureFormat) (BlockLayout, bool) {
	l, ok := blockLayouts[f]
	return l, ok
}

// ASTCFormat returns the ASTC texture format for a block footprint, as
// read from an ASTC file header.
func ASTCFormat(blockW, blockH int, srgb bool) (gputypes.TextureFormat, bool) {
	for _, d := range astcDims {
		if d.w == blockW && d.h == blockH {
			if srgb {
				return d.srgb, true
			}
			return d.unorm, true
		}
	}
	return gputypes.TextureFormatUndefined, false
}
