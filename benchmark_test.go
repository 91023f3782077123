package texstream

import (
	"context"
	"testing"

	"github.com/gogpu/texstream/device/devicetest"
)

// BenchmarkStreamer_Tile512 streams one 512x512 ASTC 4x4 tile per
// iteration through a 4-slot pipeline.
func BenchmarkStreamer_Tile512(b *testing.B) {
	dev := devicetest.New()
	s, err := New(dev, WithSlots(4), WithWorkers(2), WithSlotCapacity(256*1024))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	tex := devicetest.NewTexture(512, 512, astc4)
	src := pattern(128 * 128 * 16)
	ctx := context.Background()
	p := TransferParams{
		Source:      src,
		SourcePitch: 128 * 16,
		Width:       512,
		Height:      512,
		Resource:    tex,
		Format:      astc4,
	}

	b.SetBytes(int64(len(src)))
	b.ReportAllocs()
	for b.Loop() {
		id, err := s.Acquire(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if err := s.Submit(id, p); err != nil {
			b.Fatal(err)
		}
		if err := s.Flush(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
