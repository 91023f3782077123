// Package source provides the flat byte buffers tiles are streamed from.
//
// A provider is either an in-memory slice or a read-only memory-mapped
// file. The pipeline never manages a provider's lifetime: the owner must
// keep it open until every transfer reading from it was recycled.
package source

// Provider is a flat byte buffer. Data returns nil when no buffer is
// available.
type Provider interface {
	Data() []byte
	Size() int64
}

// Bytes is an in-memory Provider.
type Bytes []byte

// Data returns the slice itself.
func (b Bytes) Data() []byte { return b }

// Size returns len(b).
func (b Bytes) Size() int64 { return int64(len(b)) }
