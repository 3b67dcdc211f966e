package storage

import "sync"

// RingBuffer is a generic thread-safe ring buffer that stores a fixed number of items.
// When the buffer is full, adding a new item overwrites the oldest item.
// Positions are absolute: the first item ever added is position 0, and
// positions keep growing across wraparound so readers can ask for deltas.
type RingBuffer[T any] struct {
	sync.RWMutex
	items    []T
	capacity int
	head     int     // next write index
	size     int     // current number of items
	added    int     // total items ever added since the last Clear
	onEvict  func(T) // called under the write lock for overwritten items
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
// The capacity must be greater than zero.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be greater than zero")
	}

	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// OnEvict registers fn to be called with every item overwritten by Add.
// fn runs while the buffer is locked and must not call back into it.
func (rb *RingBuffer[T]) OnEvict(fn func(T)) {
	rb.Lock()
	defer rb.Unlock()
	rb.onEvict = fn
}

// Add inserts an item into the ring buffer.
// If the buffer is at capacity, this overwrites the oldest item.
func (rb *RingBuffer[T]) Add(item T) {
	rb.Lock()
	defer rb.Unlock()

	if rb.size == rb.capacity && rb.onEvict != nil {
		rb.onEvict(rb.items[rb.head])
	}

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	rb.added++

	if rb.size < rb.capacity {
		rb.size++
	}
}

// GetAll returns all items in chronological order (oldest to newest).
// The returned slice is a copy and safe to modify.
func (rb *RingBuffer[T]) GetAll() []T {
	rb.RLock()
	defer rb.RUnlock()
	return rb.snapshot()
}

func (rb *RingBuffer[T]) snapshot() []T {
	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)
	if rb.size < rb.capacity {
		copy(result, rb.items[:rb.size])
	} else {
		// head points at the oldest item once the buffer has wrapped
		n := copy(result, rb.items[rb.head:])
		copy(result[n:], rb.items[:rb.head])
	}
	return result
}

// GetRecent returns the N most recent items in chronological order.
// If N is greater than the current size, all items are returned.
func (rb *RingBuffer[T]) GetRecent(n int) []T {
	all := rb.GetAll()
	if len(all) <= n {
		return all
	}
	if n <= 0 {
		return nil
	}
	return all[len(all)-n:]
}

// Newest returns the most recently added item.
func (rb *RingBuffer[T]) Newest() (T, bool) {
	rb.RLock()
	defer rb.RUnlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}
	idx := (rb.head - 1 + rb.capacity) % rb.capacity
	return rb.items[idx], true
}

// Size returns the current number of items in the buffer.
func (rb *RingBuffer[T]) Size() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.size
}

// Capacity returns the maximum capacity of the buffer.
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Clear removes all items from the buffer and resets positions.
func (rb *RingBuffer[T]) Clear() {
	rb.Lock()
	defer rb.Unlock()

	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.size = 0
	rb.head = 0
	rb.added = 0
}

// GetRange returns items between absolute positions start and end
// (inclusive). The range is clamped to the items still held; nil is returned
// when nothing in the range remains.
func (rb *RingBuffer[T]) GetRange(start, end int) []T {
	rb.RLock()
	defer rb.RUnlock()

	if rb.size == 0 || start < 0 || end < start {
		return nil
	}

	oldestPos := rb.added - rb.size
	if start < oldestPos {
		start = oldestPos
	}
	if end >= rb.added {
		end = rb.added - 1
	}
	if start > end {
		return nil
	}

	result := make([]T, 0, end-start+1)
	for pos := start; pos <= end; pos++ {
		result = append(result, rb.items[pos%rb.capacity])
	}
	return result
}

// CurrentPosition returns the absolute number of items added since the last
// Clear. Items at positions below CurrentPosition()-Size() have been evicted.
func (rb *RingBuffer[T]) CurrentPosition() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.added
}
