// SPDX-License-Identifier: MIT

/*
Package queue implements the work queue that connects graph nodes.

A Queue is a FIFO with a non-blocking Put and a blocking Get. When created
with a positive capacity it keeps only the newest items: a Put on a full
queue silently discards the oldest entry first. Close acts as the shutdown
sentinel; it is ordered after every item already queued and is never
dropped, so a consumer drains what is pending and then sees end of stream.
*/
package queue

import "sync"

// Queue is safe for any number of concurrent producers and consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	ready    *sync.Cond
	items    []T
	capacity int
	closed   bool
	dropped  uint64
}

// New creates a queue. capacity <= 0 means unbounded.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{capacity: capacity}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Put appends v. It never blocks. It returns false if the queue is closed,
// in which case v is discarded.
func (q *Queue[T]) Put(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.ready.Signal()
	return true
}

// Get blocks until an item is available and removes it. ok is false once the
// queue is closed and empty.
func (q *Queue[T]) Get() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.ready.Wait()
	}
	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// GetAll blocks until at least one item is available and then drains the
// queue, returning items in FIFO order. ok is false once the queue is closed
// and empty.
func (q *Queue[T]) GetAll() (items []T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.ready.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	items = q.items
	q.items = nil
	return items, true
}

// Close posts the end-of-stream sentinel and wakes every waiter.
// It is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.ready.Broadcast()
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity, 0 when unbounded.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Dropped returns how many items were discarded by newest-wins overflow.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
