package stage

// Ring is a fixed-capacity FIFO over a circular buffer.
//
// Ring is not safe for concurrent use; Queues guards every ring with its
// shared mutex.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int // number of stored elements
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Full reports whether another Push would fail.
func (r *Ring[T]) Full() bool { return r.n == len(r.buf) }

// Push appends v at the tail. Returns false if the ring is full.
func (r *Ring[T]) Push(v T) bool {
	if r.n == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return true
}

// Pop removes the head element. Returns false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

// AppendTo appends the stored elements in FIFO order to dst without
// removing them.
func (r *Ring[T]) AppendTo(dst []T) []T {
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.buf[(r.head+i)%len(r.buf)])
	}
	return dst
}
