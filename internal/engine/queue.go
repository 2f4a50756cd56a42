package engine

import (
	"sync"

	"github.com/eapache/queue"
)

// queued is one pending asynchronous dispatch.
// Trace is empty for a fresh Dispatch and inherited for dispatch-later.
type queued struct {
	event Event
	trace string
}

// dispatchQueue is a thread-safe FIFO of pending dispatches.
//
// The queue is unbounded so that effect handlers and timers can enqueue
// without blocking. Ordering is global FIFO, which gives every caller its
// own FIFO guarantee.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type dispatchQueue struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool
	signal chan struct{} // buffered, size 1
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *dispatchQueue) Enqueue(item queued) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items.Add(item)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
func (q *dispatchQueue) TryDequeue() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return queued{}, false
	}
	return q.items.Remove().(queued), true
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *dispatchQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *dispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close signals that no more items will be enqueued.
// Items already queued can still be dequeued.
func (q *dispatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *dispatchQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
