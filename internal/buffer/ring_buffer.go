// Package buffer holds the fixed-capacity ring and the time-windowed
// interaction buffer built on it.
package buffer

// RingBuffer is a fixed-capacity circular buffer. When full, a push overwrites
// the oldest entry. Not safe for concurrent use; RollingWindow guards its ring.
type RingBuffer[T any] struct {
	entries  []T
	capacity int
	head     int // index of the next write
	size     int
}

// NewRingBuffer creates a ring holding at most capacity entries.
// capacity must be positive.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		entries:  make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends entry in O(1), evicting the oldest entry when full.
func (rb *RingBuffer[T]) Push(entry T) {
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// ToArray returns the entries oldest first in a fresh slice.
func (rb *RingBuffer[T]) ToArray() []T {
	out := make([]T, rb.size)
	if rb.size == 0 {
		return out
	}
	start := (rb.head - rb.size + rb.capacity) % rb.capacity
	for i := 0; i < rb.size; i++ {
		out[i] = rb.entries[(start+i)%rb.capacity]
	}
	return out
}

// Oldest returns the oldest entry, if any.
func (rb *RingBuffer[T]) Oldest() (T, bool) {
	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.entries[(rb.head-rb.size+rb.capacity)%rb.capacity], true
}

// Newest returns the most recently pushed entry, if any.
func (rb *RingBuffer[T]) Newest() (T, bool) {
	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.entries[(rb.head-1+rb.capacity)%rb.capacity], true
}

func (rb *RingBuffer[T]) Len() int     { return rb.size }
func (rb *RingBuffer[T]) Cap() int     { return rb.capacity }
func (rb *RingBuffer[T]) IsFull() bool { return rb.size == rb.capacity }

// Clear removes all entries and releases references held by the backing array.
func (rb *RingBuffer[T]) Clear() {
	var zero T
	for i := range rb.entries {
		rb.entries[i] = zero
	}
	rb.head = 0
	rb.size = 0
}

// Rebuild replaces the contents with entries, keeping their order. If entries
// exceeds capacity only the newest capacity entries survive.
func (rb *RingBuffer[T]) Rebuild(entries []T) {
	rb.Clear()
	for _, e := range entries {
		rb.Push(e)
	}
}
