package local

import "sync"

// fifo is an unbounded queue drained by a single goroutine. Producers never
// block, so raw source callbacks cannot stall behind the loop.
type fifo[T any] struct {
	items  []T
	closed bool
	notify chan struct{}
	mu     sync.Mutex
}

func newFifo[T any]() *fifo[T] {
	return &fifo[T]{notify: make(chan struct{}, 1)}
}

// push appends v and reports false once the queue is closed
func (q *fifo[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// drain takes everything queued so far
func (q *fifo[T]) drain() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items, q.closed
}

// close rejects later pushes; queued items are still drained
func (q *fifo[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
