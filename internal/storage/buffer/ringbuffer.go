package buffer

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// RingBuffer is a thread-safe bounded FIFO. When full, Push evicts the
// oldest element so that the buffer always holds the most recent Cap()
// elements in arrival order.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount    atomic.Int64
	discardCount atomic.Int64
	evictCount   atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: int64(capacity),
	}
}

// Push appends v. If the buffer is full the oldest element is evicted
// first and Push reports true.
func (rb *RingBuffer[T]) Push(v T) (evicted bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	if rb.count >= rb.capacity {
		rb.data[rb.tail%rb.capacity] = zero
		rb.tail++
		rb.count--
		rb.evictCount.Add(1)
		evicted = true
	}

	rb.data[rb.head%rb.capacity] = v
	rb.head++
	rb.count++
	rb.pushCount.Add(1)

	return evicted
}

// At returns the element at index i, 0 being the oldest.
func (rb *RingBuffer[T]) At(i int) (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if i < 0 || int64(i) >= rb.count {
		return zero, false
	}
	return rb.data[(rb.tail+int64(i))%rb.capacity], true
}

// Peek returns the oldest element without removing it.
func (rb *RingBuffer[T]) Peek() (T, bool) {
	return rb.At(0)
}

// PeekNewest returns the newest element without removing it.
func (rb *RingBuffer[T]) PeekNewest() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.count == 0 {
		return zero, false
	}
	return rb.data[(rb.head-1)%rb.capacity], true
}

// Items returns a copy of the buffer content, oldest first.
func (rb *RingBuffer[T]) Items() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]T, rb.count)
	for i := int64(0); i < rb.count; i++ {
		out[i] = rb.data[(rb.tail+i)%rb.capacity]
	}
	return out
}

// Each calls fn for every element, oldest first, until fn returns false.
// fn must not call back into the buffer.
func (rb *RingBuffer[T]) Each(fn func(i int, v T) bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	for i := int64(0); i < rb.count; i++ {
		if !fn(int(i), rb.data[(rb.tail+i)%rb.capacity]) {
			return
		}
	}
}

// Discard removes the n oldest elements and returns how many were removed.
func (rb *RingBuffer[T]) Discard(n int) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n <= 0 || rb.count == 0 {
		return 0
	}

	count := int64(n)
	if count > rb.count {
		count = rb.count
	}

	var zero T
	for i := int64(0); i < count; i++ {
		rb.data[(rb.tail+i)%rb.capacity] = zero // Clear for GC
	}

	rb.tail += count
	rb.count -= count
	rb.discardCount.Add(count)

	return int(count)
}

// Len returns the current number of elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the buffer capacity.
func (rb *RingBuffer[T]) Cap() int {
	return int(rb.capacity)
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer[T]) IsEmpty() bool {
	return rb.Len() == 0
}

// IsFull returns true if the buffer is full.
func (rb *RingBuffer[T]) IsFull() bool {
	return rb.Len() >= int(rb.capacity)
}

// UsageRatio returns the current usage as a ratio (0.0 to 1.0).
func (rb *RingBuffer[T]) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Clear removes all elements. Cleared elements count as discarded.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.discardCount.Add(rb.count)
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer[T]) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:     int(rb.capacity),
		Count:        int(rb.count),
		UsageRatio:   float64(rb.count) / float64(rb.capacity),
		PushCount:    rb.pushCount.Load(),
		DiscardCount: rb.discardCount.Load(),
		EvictCount:   rb.evictCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity     int
	Count        int
	UsageRatio   float64
	PushCount    int64
	DiscardCount int64 // Removed after being consumed
	EvictCount   int64 // Overwritten before being consumed
}
