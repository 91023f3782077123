// Package devicetest provides a recording device.Device for tests.
//
// The fake keeps every call it receives so tests can assert what reached
// the device, lets tests script the status of each completion token, and
// can inject a failure into any operation.
package devicetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texstream/device"
)

// ErrInjected is a convenience error for failure injection.
var ErrInjected = errors.New("devicetest: injected failure")

// Op names an operation for failure injection.
type Op string

// Operations that can be made to fail.
const (
	OpCreateStaging Op = "create-staging"
	OpCommit        Op = "commit"
	OpCopy          Op = "copy"
	OpCreateToken   Op = "create-token"
	OpPoll          Op = "poll"
)

// Texture is a fake destination resource.
type Texture struct {
	W, H int
	F    gputypes.TextureFormat
}

// NewTexture returns a fake width x height texture of the given format.
func NewTexture(width, height int, format gputypes.TextureFormat) *Texture {
	return &Texture{W: width, H: height, F: format}
}

func (t *Texture) Width() int                     { return t.W }
func (t *Texture) Height() int                    { return t.H }
func (t *Texture) Format() gputypes.TextureFormat { return t.F }

// Staging is a fake staging region backed by a Go slice.
type Staging struct {
	ID   int
	data []byte
}

// Bytes returns the backing memory.
func (s *Staging) Bytes() []byte { return s.data }

// Commit records one CommitRegion call.
type Commit struct {
	Resource device.Resource
	Region   device.Region
	Commit   bool
}

// Copy records one CopyCompressed call. Data holds a snapshot of the
// Layout.Bytes staging bytes taken when the copy was recorded.
type Copy struct {
	Resource device.Resource
	Region   device.Region
	Format   gputypes.TextureFormat
	Staging  int
	Layout   device.CopyLayout
	Data     []byte
}

// Device is a recording fake. The zero value is not usable; call New.
//
// Device is safe for concurrent use so tests can script it while the
// pipeline runs.
type Device struct {
	mu sync.Mutex

	alignment     int
	defaultStatus device.TokenStatus
	fail          map[Op]error

	nextStaging int
	live        map[int]*Staging
	destroyed   []int

	commits []Commit
	copies  []Copy

	nextToken device.Token
	tokens    map[device.Token]device.TokenStatus
	released  []device.Token
}

// New returns a fake whose tokens signal immediately and whose copy pitch
// alignment is 256 bytes.
func New() *Device {
	return &Device{
		alignment:     256,
		defaultStatus: device.Signaled,
		fail:          make(map[Op]error),
		live:          make(map[int]*Staging),
		tokens:        make(map[device.Token]device.TokenStatus),
	}
}

// SetAlignment changes the value reported by CopyPitchAlignment.
func (d *Device) SetAlignment(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alignment = n
}

// SetDefaultStatus sets the status new tokens start in.
func (d *Device) SetDefaultStatus(s device.TokenStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultStatus = s
}

// SetStatus scripts the status of an existing token.
func (d *Device) SetStatus(t device.Token, s device.TokenStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tokens[t]; ok {
		d.tokens[t] = s
	}
}

// SignalAll marks every live token Signaled.
func (d *Device) SignalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for t := range d.tokens {
		d.tokens[t] = device.Signaled
	}
}

// Fail makes op return err until cleared with a nil err.
func (d *Device) Fail(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, op)
		return
	}
	d.fail[op] = err
}

// CreateStaging implements device.Device.
func (d *Device) CreateStaging(capacity int) (device.Staging, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[OpCreateStaging]; err != nil {
		return nil, err
	}
	s := &Staging{ID: d.nextStaging, data: make([]byte, capacity)}
	d.nextStaging++
	d.live[s.ID] = s
	return s, nil
}

// DestroyStaging implements device.Device.
func (d *Device) DestroyStaging(s device.Staging) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := s.(*Staging)
	if !ok {
		return
	}
	if _, ok := d.live[st.ID]; ok {
		delete(d.live, st.ID)
		d.destroyed = append(d.destroyed, st.ID)
	}
}

// CommitRegion implements device.Device.
func (d *Device) CommitRegion(res device.Resource, r device.Region, commit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[OpCommit]; err != nil {
		return err
	}
	if !r.Within(res.Width(), res.Height()) {
		return fmt.Errorf("%w: %s", device.ErrRegionOutOfBounds, r)
	}
	d.commits = append(d.commits, Commit{Resource: res, Region: r, Commit: commit})
	return nil
}

// CopyCompressed implements device.Device.
func (d *Device) CopyCompressed(res device.Resource, r device.Region, format gputypes.TextureFormat, src device.Staging, layout device.CopyLayout) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[OpCopy]; err != nil {
		return err
	}
	st, ok := src.(*Staging)
	if !ok {
		return device.ErrForeignStaging
	}
	if layout.Offset+layout.Bytes > len(st.data) {
		return fmt.Errorf("devicetest: copy of %d bytes overruns staging of %d", layout.Bytes, len(st.data))
	}
	data := make([]byte, layout.Bytes)
	copy(data, st.data[layout.Offset:layout.Offset+layout.Bytes])
	d.copies = append(d.copies, Copy{
		Resource: res,
		Region:   r,
		Format:   format,
		Staging:  st.ID,
		Layout:   layout,
		Data:     data,
	})
	return nil
}

// CreateToken implements device.Device.
func (d *Device) CreateToken() (device.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[OpCreateToken]; err != nil {
		return 0, err
	}
	d.nextToken++
	d.tokens[d.nextToken] = d.defaultStatus
	return d.nextToken, nil
}

// PollToken implements device.Device.
func (d *Device) PollToken(t device.Token) (device.TokenStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[OpPoll]; err != nil {
		return device.Error, err
	}
	s, ok := d.tokens[t]
	if !ok {
		return device.Error, device.ErrUnknownToken
	}
	return s, nil
}

// ReleaseToken implements device.Device.
func (d *Device) ReleaseToken(t device.Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tokens[t]; ok {
		delete(d.tokens, t)
		d.released = append(d.released, t)
	}
}

// CopyPitchAlignment implements device.Device.
func (d *Device) CopyPitchAlignment() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alignment
}

// Copies returns the recorded copies in call order.
func (d *Device) Copies() []Copy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Copy(nil), d.copies...)
}

// Commits returns the recorded commit and uncommit calls in call order.
func (d *Device) Commits() []Commit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Commit(nil), d.commits...)
}

// Tokens returns the tokens created and not yet released.
func (d *Device) Tokens() []device.Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]device.Token, 0, len(d.tokens))
	for t := range d.tokens {
		out = append(out, t)
	}
	return out
}

// Released returns the released tokens in release order.
func (d *Device) Released() []device.Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Token(nil), d.released...)
}

// LiveStaging returns the number of staging regions not yet destroyed.
func (d *Device) LiveStaging() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Destroyed returns the IDs of destroyed staging regions in order.
func (d *Device) Destroyed() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.destroyed...)
}

var _ device.Device = (*Device)(nil)
