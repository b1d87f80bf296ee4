package audio

import (
	"sync"
)

const minQueueCapacity = 16

// Queue is a thread-safe FIFO ring buffer. It grows on demand up to limit
// (0 means unbounded) and never drops or reorders items on its own.
type Queue[T any] struct {
	buffer []T
	read   int
	count  int
	limit  int
	mu     sync.RWMutex
}

// NewQueue creates a queue holding at most limit items (0 for no limit).
func NewQueue[T any](limit int) *Queue[T] {
	size := minQueueCapacity
	if limit > 0 && limit < size {
		size = limit
	}
	return &Queue[T]{
		buffer: make([]T, size),
		limit:  limit,
	}
}

// Push appends item to the tail. It returns false when the queue is at its limit.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && q.count >= q.limit {
		return false
	}
	if q.count == len(q.buffer) {
		q.grow()
	}

	q.buffer[(q.read+q.count)%len(q.buffer)] = item
	q.count++
	return true
}

// Pop removes and returns the head item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buffer[q.read]
	q.buffer[q.read] = zero
	q.read = (q.read + 1) % len(q.buffer)
	q.count--
	return item, true
}

// Drain removes every item and returns them in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, q.count)
	for i := range items {
		items[i] = q.buffer[(q.read+i)%len(q.buffer)]
	}
	q.reset()
	return items
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.count
}

// Clear discards every queued item
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
}

// IsEmpty returns true if the queue is empty
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// IsFull returns true if the queue has reached its limit
func (q *Queue[T]) IsFull() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.limit > 0 && q.count >= q.limit
}

// grow doubles the backing array, unwrapping it so read starts at 0.
// Caller must hold the lock.
func (q *Queue[T]) grow() {
	size := len(q.buffer) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	buf := make([]T, size)
	for i := 0; i < q.count; i++ {
		buf[i] = q.buffer[(q.read+i)%len(q.buffer)]
	}
	q.buffer = buf
	q.read = 0
}

// reset zeroes the ring so dropped items can be collected. Caller must hold the lock.
func (q *Queue[T]) reset() {
	var zero T
	for i := range q.buffer {
		q.buffer[i] = zero
	}
	q.read = 0
	q.count = 0
}
