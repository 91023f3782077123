// Package device defines the primitives the transfer pipeline needs from a
// graphics device: persistently mapped staging memory, page commitment on a
// sparse texture, compressed buffer-to-texture copies and pollable
// completion tokens.
//
// Implementations are not required to be safe for concurrent use. Every
// method except Staging.Bytes is called from the single goroutine that owns
// the device.
//
// Implementations:
//   - haldevice.Device drives a gogpu/wgpu HAL device and queue
//   - devicetest.Device records calls for tests
package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Device errors.
var (
	// ErrUnknownToken is returned when polling a token that was never
	// created or was already released.
	ErrUnknownToken = errors.New("device: unknown completion token")

	// ErrForeignStaging is returned when a staging region created by
	// another device is passed in.
	ErrForeignStaging = errors.New("device: staging region belongs to another device")

	// ErrForeignResource is returned when a resource created by another
	// device is passed in.
	ErrForeignResource = errors.New("device: resource belongs to another device")

	// ErrRegionOutOfBounds is returned when a region does not fit the
	// destination resource.
	ErrRegionOutOfBounds = errors.New("device: region outside resource")
)

// Device is the binding layer between the pipeline and a graphics API.
type Device interface {
	// CreateStaging allocates a CPU-writable, device-readable region of
	// capacity bytes that stays mapped until DestroyStaging.
	CreateStaging(capacity int) (Staging, error)

	// DestroyStaging unmaps and frees a staging region.
	DestroyStaging(s Staging)

	// CommitRegion marks the pages of res covered by r as physically
	// backed (commit=true) or releases their backing (commit=false).
	CommitRegion(res Resource, r Region, commit bool) error

	// CopyCompressed records a copy of layout.Bytes bytes from src into
	// region r of res. The copy is not synchronous; use a token to learn
	// when it finished.
	CopyCompressed(res Resource, r Region, format gputypes.TextureFormat, src Staging, layout CopyLayout) error

	// CreateToken returns a token that signals once all device work
	// recorded so far has finished.
	CreateToken() (Token, error)

	// PollToken reports the state of a token without blocking.
	PollToken(t Token) (TokenStatus, error)

	// ReleaseToken frees a token. Releasing an unknown token is a no-op.
	ReleaseToken(t Token)

	// CopyPitchAlignment returns the required alignment, in bytes, of the
	// row pitch of a buffer-to-texture copy source.
	CopyPitchAlignment() int
}

// Resource is a destination texture.
type Resource interface {
	Width() int
	Height() int
	Format() gputypes.TextureFormat
}

// Staging is a persistently mapped staging region.
type Staging interface {
	// Bytes returns the mapped memory. The slice stays valid until the
	// region is destroyed.
	Bytes() []byte
}

// Region is a rectangle of a resource, in texels.
type Region struct {
	X, Y          int
	Width, Height int
}

// String returns the region as "WxH+X+Y".
func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Within reports whether r lies inside a width x height resource.
func (r Region) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= width && r.Y+r.Height <= height
}

// CopyLayout describes how block data is laid out in a staging region.
type CopyLayout struct {
	// Offset is the first byte of the copy inside the staging region.
	Offset int

	// BytesPerRow is the pitch between rows of blocks.
	BytesPerRow int

	// Rows is the number of rows of blocks.
	Rows int

	// Bytes is the number of bytes the copy reads:
	// (Rows-1)*BytesPerRow plus one unpadded row.
	Bytes int
}

// Token identifies a point in the device's command stream. The zero Token
// means "no token".
type Token uint64

// TokenStatus is the result of polling a token.
type TokenStatus uint8

const (
	// Pending means the device has not finished the work yet.
	Pending TokenStatus = iota
	// Signaled means all work before the token finished.
	Signaled
	// Error means the work can never complete, for example because its
	// submission failed.
	Error
)

// String returns the status name.
func (s TokenStatus) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Signaled:
		return "Signaled"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("TokenStatus(%d)", uint8(s))
	}
}
