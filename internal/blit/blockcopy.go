// Package blit copies rectangles of block-compressed image data.
//
// Compressed formats (ASTC, BC, ETC2) encode fixed-size blocks of texels,
// so every copy moves whole blocks, one row of blocks at a time.
package blit

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a copy would read or write outside the
// given slices.
var ErrOutOfBounds = errors.New("blit: region out of bounds")

// Block describes the compression block of a format.
type Block struct {
	// Width and Height are the block dimensions in texels.
	Width, Height int

	// Bytes is the encoded size of one block.
	Bytes int
}

// Rect is a block-aligned rectangle, in texels.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Grid returns the rectangle size in blocks.
func (r Rect) Grid(b Block) (cols, rows int) {
	return r.Width / b.Width, r.Height / b.Height
}

// SourceSpan returns the number of bytes of a source with the given pitch
// that a copy of r touches, measured from the start of the source.
func SourceSpan(r Rect, b Block, srcPitch int) int {
	cols, rows := r.Grid(b)
	if cols == 0 || rows == 0 {
		return 0
	}
	firstRow := r.Y / b.Height
	firstCol := r.X / b.Width
	return (firstRow+rows-1)*srcPitch + firstCol*b.Bytes + cols*b.Bytes
}

// BlockCopy copies the blocks of rectangle r from src, laid out with
// srcPitch bytes per row of blocks, into dst at offset zero with dstPitch
// bytes per row of blocks. Pitches may differ. It returns the number of
// blocks copied.
//
// r must be aligned to the block grid; callers validate that before a
// transfer enters the pipeline. BlockCopy only checks slice bounds so a
// bad region is reported instead of panicking.
func BlockCopy(dst []byte, dstPitch int, src []byte, srcPitch int, r Rect, b Block) (int, error) {
	cols, rows := r.Grid(b)
	if cols <= 0 || rows <= 0 {
		return 0, nil
	}
	rowBytes := cols * b.Bytes
	if dstPitch < rowBytes {
		return 0, fmt.Errorf("%w: destination pitch %d < row size %d", ErrOutOfBounds, dstPitch, rowBytes)
	}
	if need := (rows-1)*dstPitch + rowBytes; need > len(dst) {
		return 0, fmt.Errorf("%w: destination needs %d bytes, has %d", ErrOutOfBounds, need, len(dst))
	}
	if need := SourceSpan(r, b, srcPitch); need > len(src) || r.X < 0 || r.Y < 0 {
		return 0, fmt.Errorf("%w: source needs %d bytes, has %d", ErrOutOfBounds, need, len(src))
	}

	firstRow := r.Y / b.Height
	colOffset := (r.X / b.Width) * b.Bytes
	for row := range rows {
		s := (firstRow+row)*srcPitch + colOffset
		d := row * dstPitch
		copy(dst[d:d+rowBytes], src[s:s+rowBytes])
	}
	return rows * cols, nil
}
