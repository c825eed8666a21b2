package sync

import gosync "sync"

// inbox is an unbounded FIFO with a single consumer. push never blocks.
type inbox struct {
	mu     gosync.Mutex
	items  []any
	closed bool
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

// push appends ev and reports whether the inbox was still open.
func (q *inbox) push(ev any) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// drain takes every queued item in order.
func (q *inbox) drain() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
