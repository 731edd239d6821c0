package timeline

// ring is a fixed-capacity FIFO that evicts the oldest entry when full.
// It is not safe for concurrent use; Store guards it.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v and reports the evicted entry, if any.
func (r *ring[T]) push(v T) (evicted T, ok bool) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return evicted, false
	}
	evicted = r.buf[r.start]
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return evicted, true
}

// items returns a copy, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// each visits entries oldest first until fn returns false.
func (r *ring[T]) each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

// update visits entries oldest first, allowing fn to modify them in place.
func (r *ring[T]) update(fn func(*T)) {
	for i := 0; i < r.size; i++ {
		fn(&r.buf[(r.start+i)%len(r.buf)])
	}
}

func (r *ring[T]) len() int { return r.size }
