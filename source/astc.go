package source

import (
	"bytes"
	"errors"
	"fmt"
)

// HeaderSize is the length of the ASTC file header that precedes the
// block payload.
const HeaderSize = 16

// astcMagic is the little-endian 0x5CA1AB13 file signature.
var astcMagic = []byte{0x13, 0xAB, 0xA1, 0x5C}

// ASTC errors.
var (
	ErrShortHeader = errors.New("source: data shorter than ASTC header")
	ErrBadMagic    = errors.New("source: not an ASTC file")
	ErrBadBlock    = errors.New("source: invalid ASTC block size")
	ErrNoData      = errors.New("source: provider has no data")
)

// ASTCHeader is the decoded ASTC file header.
type ASTCHeader struct {
	// BlockX, BlockY and BlockZ are the block footprint in texels.
	BlockX, BlockY, BlockZ int

	// Width, Height and Depth are the image size in texels.
	Width, Height, Depth int
}

// Grid returns the image size in blocks, rounding partial blocks up.
func (h ASTCHeader) Grid() (cols, rows int) {
	if h.BlockX == 0 || h.BlockY == 0 {
		return 0, 0
	}
	return (h.Width + h.BlockX - 1) / h.BlockX, (h.Height + h.BlockY - 1) / h.BlockY
}

// PayloadSize returns the number of block bytes a 2D image with this
// header holds. Every ASTC block encodes to 16 bytes.
func (h ASTCHeader) PayloadSize() int {
	cols, rows := h.Grid()
	return cols * rows * 16
}

// String returns "WxH (BXxBY blocks)".
func (h ASTCHeader) String() string {
	return fmt.Sprintf("%dx%d (%dx%d blocks)", h.Width, h.Height, h.BlockX, h.BlockY)
}

// ParseASTCHeader decodes the first HeaderSize bytes of data.
func ParseASTCHeader(data []byte) (ASTCHeader, error) {
	if len(data) < HeaderSize {
		return ASTCHeader{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}
	if !bytes.Equal(data[:4], astcMagic) {
		return ASTCHeader{}, fmt.Errorf("%w: magic % x", ErrBadMagic, data[:4])
	}
	h := ASTCHeader{
		BlockX: int(data[4]),
		BlockY: int(data[5]),
		BlockZ: int(data[6]),
		Width:  uint24(data[7:10]),
		Height: uint24(data[10:13]),
		Depth:  uint24(data[13:16]),
	}
	if h.BlockX == 0 || h.BlockY == 0 {
		return ASTCHeader{}, fmt.Errorf("%w: %dx%d", ErrBadBlock, h.BlockX, h.BlockY)
	}
	return h, nil
}

// uint24 decodes a little-endian 24-bit size.
func uint24(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

// Payload parses the ASTC header of p and returns the block data after it.
// It fails when the payload is shorter than the header describes.
func Payload(p Provider) (ASTCHeader, []byte, error) {
	data := p.Data()
	if data == nil {
		return ASTCHeader{}, nil, ErrNoData
	}
	h, err := ParseASTCHeader(data)
	if err != nil {
		return ASTCHeader{}, nil, err
	}
	payload := data[HeaderSize:]
	if need := h.PayloadSize(); len(payload) < need {
		return h, nil, fmt.Errorf("source: %s needs %d payload bytes, file has %d", h, need, len(payload))
	}
	return h, payload, nil
}

// EncodeASTCHeader returns the header bytes for h. It is the inverse of
// ParseASTCHeader and is used to build test fixtures.
func EncodeASTCHeader(h ASTCHeader) []byte {
	out := make([]byte, HeaderSize)
	copy(out, astcMagic)
	out[4] = byte(h.BlockX)
	out[5] = byte(h.BlockY)
	out[6] = byte(h.BlockZ)
	putUint24(out[7:10], h.Width)
	putUint24(out[10:13], h.Height)
	putUint24(out[13:16], h.Depth)
	return out
}

func putUint24(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
