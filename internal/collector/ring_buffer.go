package collector

// RingBuffer is a fixed-capacity FIFO container. Appending beyond
// capacity evicts the oldest element. Surviving elements keep their
// insertion order. The zero value is not usable; use NewRingBuffer.
type RingBuffer[T any] struct {
	data []T
	head int // index of the oldest element
	size int
}

// NewRingBuffer creates a ring buffer holding at most capacity elements.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{data: make([]T, capacity)}
}

// Append inserts v, evicting the oldest element when full. O(1).
func (r *RingBuffer[T]) Append(v T) {
	if r.size < len(r.data) {
		r.data[(r.head+r.size)%len(r.data)] = v
		r.size++
		return
	}
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
}

// Len returns the number of retained elements.
func (r *RingBuffer[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// Last returns the most recently appended element.
func (r *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.data[(r.head+r.size-1)%len(r.data)], true
}

// Values returns a copy of the retained elements in insertion order.
func (r *RingBuffer[T]) Values() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(r.head+i)%len(r.data)]
	}
	return out
}
