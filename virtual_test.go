package texstream

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/texstream/device"
	"github.com/gogpu/texstream/device/devicetest"
)

// newVirtual returns a 32x16 ASTC 4x4 texture split into two 16x16 pages,
// backed by a 4-row, 128-byte pitch payload.
func newVirtual(t *testing.T, dev *devicetest.Device, opts ...Option) (*Streamer, *VirtualTexture, []byte) {
	t.Helper()
	s := newStreamer(t, dev, append([]Option{WithSlots(2), WithWorkers(1)}, opts...)...)
	payload := pattern(4 * 128)
	vt, err := NewVirtualTexture(s, devicetest.NewTexture(32, 16, astc4), payload, 16, 16)
	require.NoError(t, err)
	return s, vt, payload
}

func TestVirtualTexture_StreamPage(t *testing.T) {
	dev := devicetest.New()
	s, vt, payload := newVirtual(t, dev)
	ctx := timeout(t, 5*time.Second)

	if cols, rows := vt.Pages(); cols != 2 || rows != 1 {
		t.Fatalf("Pages() = %d, %d, want 2, 1", cols, rows)
	}

	ok, err := vt.StreamPage(ctx, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	if st := vt.State(1, 0); st != Streaming {
		t.Errorf("State before Flush = %s, want Streaming", st)
	}
	if ok, err := vt.StreamPage(ctx, 1, 0); ok || err != nil {
		t.Errorf("StreamPage on streaming page = %v, %v, want false, nil", ok, err)
	}

	require.NoError(t, s.Flush(ctx))
	if !vt.Resident(1, 0) || vt.Resident(0, 0) {
		t.Errorf("residency = [%s %s], want [NotResident Resident]", vt.State(0, 0), vt.State(1, 0))
	}
	if n := vt.ResidentPages(); n != 1 {
		t.Errorf("ResidentPages() = %d, want 1", n)
	}

	copies := dev.Copies()
	require.Len(t, copies, 1)
	c := copies[0]
	if c.Region != (device.Region{X: 16, Width: 16, Height: 16}) {
		t.Errorf("copy region = %s, want 16x16+16+0", c.Region)
	}
	// Page 1 starts at block column 4 of every 128-byte row.
	for row := range 4 {
		got := c.Data[row*c.Layout.BytesPerRow : row*c.Layout.BytesPerRow+64]
		want := payload[row*128+64 : row*128+128]
		if !bytes.Equal(got, want) {
			t.Errorf("row %d = %x, want %x", row, got, want)
		}
	}

	if ok, err := vt.StreamPage(ctx, 1, 0); ok || err != nil {
		t.Errorf("StreamPage on resident page = %v, %v, want false, nil", ok, err)
	}
}

func TestVirtualTexture_UncommitPage(t *testing.T) {
	dev := devicetest.New()
	s, vt, _ := newVirtual(t, dev)
	ctx := timeout(t, 5*time.Second)

	require.NoError(t, vt.UncommitPage(0, 0))
	if n := len(dev.Commits()); n != 0 {
		t.Errorf("uncommitting a non-resident page reached the device (%d commits)", n)
	}

	_, err := vt.StreamPage(ctx, 0, 0)
	require.NoError(t, err)
	require.ErrorIs(t, vt.UncommitPage(0, 0), ErrPageBusy)

	require.NoError(t, s.Flush(ctx))
	require.NoError(t, vt.UncommitPage(0, 0))
	if st := vt.State(0, 0); st != NotResident {
		t.Errorf("State after uncommit = %s, want NotResident", st)
	}

	commits := dev.Commits()
	require.Len(t, commits, 2)
	if !commits[0].Commit || commits[1].Commit {
		t.Errorf("commits = %+v, want commit then uncommit", commits)
	}
	if commits[1].Region != (device.Region{Width: 16, Height: 16}) {
		t.Errorf("uncommit region = %s", commits[1].Region)
	}

	dev.Fail(devicetest.OpCommit, devicetest.ErrInjected)
	_, err = vt.StreamPage(ctx, 1, 0)
	require.NoError(t, err)
	_ = s.Flush(ctx)
	dev.Fail(devicetest.OpCommit, nil)
	require.NoError(t, vt.UncommitPage(1, 0))
}

func TestVirtualTexture_FailedPageCanBeResubmitted(t *testing.T) {
	dev := devicetest.New()
	s, vt, _ := newVirtual(t, dev)
	ctx := timeout(t, 5*time.Second)

	dev.Fail(devicetest.OpCopy, devicetest.ErrInjected)
	ok, err := vt.StreamPage(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, s.Flush(ctx), ErrDeviceError)
	if st := vt.State(0, 0); st != NotResident {
		t.Fatalf("State after failed copy = %s, want NotResident", st)
	}

	dev.Fail(devicetest.OpCopy, nil)
	ok, err = vt.StreamPage(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Flush(ctx))
	if !vt.Resident(0, 0) {
		t.Errorf("State after resubmit = %s, want Resident", vt.State(0, 0))
	}
}

func TestVirtualTexture_TryStreamPage(t *testing.T) {
	dev := devicetest.New()
	s := newStreamer(t, dev, WithSlots(1), WithWorkers(1))
	vt, err := NewVirtualTexture(s, devicetest.NewTexture(32, 16, astc4), pattern(512), 16, 16)
	require.NoError(t, err)

	id, ok, err := s.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	if ok, err := vt.TryStreamPage(0, 0); ok || err != nil {
		t.Errorf("TryStreamPage with no idle slot = %v, %v, want false, nil", ok, err)
	}
	if st := vt.State(0, 0); st != NotResident {
		t.Errorf("State = %s, want NotResident", st)
	}

	require.NoError(t, s.Release(id))
	ok, err = vt.TryStreamPage(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Flush(timeout(t, 5*time.Second)))
	if !vt.Resident(0, 0) {
		t.Errorf("State = %s, want Resident", vt.State(0, 0))
	}

	_, err = vt.TryStreamPage(2, 0)
	require.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestVirtualTexture_StreamPageAfterClose(t *testing.T) {
	dev := devicetest.New()
	s, vt, _ := newVirtual(t, dev)
	require.NoError(t, s.Close())

	_, err := vt.StreamPage(context.Background(), 0, 0)
	require.ErrorIs(t, err, ErrPoolStopped)
	if st := vt.State(0, 0); st != NotResident {
		t.Errorf("State = %s, want NotResident", st)
	}
}

func TestVirtualTexture_EdgePages(t *testing.T) {
	s := newStreamer(t, devicetest.New(), WithSlots(1), WithWorkers(1))
	// 24x20 texels: the right column and bottom row of pages are clipped.
	vt, err := NewVirtualTexture(s, devicetest.NewTexture(24, 20, astc4), pattern(6*16*5), 16, 16)
	require.NoError(t, err)

	if cols, rows := vt.Pages(); cols != 2 || rows != 2 {
		t.Fatalf("Pages() = %d, %d, want 2, 2", cols, rows)
	}
	r, err := vt.PageRegion(1, 1)
	require.NoError(t, err)
	if r != (device.Region{X: 16, Y: 16, Width: 8, Height: 4}) {
		t.Errorf("PageRegion(1, 1) = %s, want 8x4+16+16", r)
	}
	_, err = vt.PageRegion(-1, 0)
	require.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestNewVirtualTexture_Invalid(t *testing.T) {
	s := newStreamer(t, devicetest.New(), WithSlots(1), WithWorkers(1), WithSlotCapacity(1024))
	tex := devicetest.NewTexture(32, 16, astc4)

	tests := []struct {
		name    string
		res     device.Resource
		payload []byte
		pw, ph  int
	}{
		{"unaligned page", tex, pattern(512), 6, 16},
		{"zero page", tex, pattern(512), 0, 16},
		{"short payload", tex, pattern(511), 16, 16},
		{"unaligned texture", devicetest.NewTexture(30, 16, astc4), pattern(512), 16, 16},
		{"uncompressed", devicetest.NewTexture(32, 16, 0x16), pattern(2048), 16, 16},
		{"page above capacity", devicetest.NewTexture(64, 64, astc4), pattern(16 * 256), 64, 64},
		{"nil resource", nil, pattern(512), 16, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVirtualTexture(s, tt.res, tt.payload, tt.pw, tt.ph); err == nil {
				t.Error("NewVirtualTexture() = nil error")
			}
		})
	}
}

func TestVirtualTexture_ResidencyImage(t *testing.T) {
	dev := devicetest.New()
	s, vt, _ := newVirtual(t, dev)
	ctx := timeout(t, 5*time.Second)

	_, err := vt.StreamPage(ctx, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))

	img := vt.ResidencyImage(4)
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("bounds = %v, want 8x4", b)
	}
	if got := img.RGBAAt(1, 1); got != colorNotResident {
		t.Errorf("page (0,0) pixel = %v, want yellow", got)
	}
	if got := img.RGBAAt(6, 3); got != colorResidentB {
		t.Errorf("page (1,0) pixel = %v, want %v", got, colorResidentB)
	}
}

func TestPageState_String(t *testing.T) {
	tests := []struct {
		s    PageState
		want string
	}{
		{NotResident, "NotResident"},
		{Streaming, "Streaming"},
		{Resident, "Resident"},
		{PageState(9), "PageState(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("PageState(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
