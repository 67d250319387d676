package events

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded channel with an ordered overflow. When the channel is
// full, sheddable values are dropped and everything else waits in the
// overflow until the consumer drains it. Once the overflow holds a value,
// later values queue behind it, so the consumer sees publish order.
type Queue[T any] struct {
	mu       sync.Mutex
	ch       chan T
	overflow []T
	ready    chan struct{}
	limit    int
	closed   bool
	dropped  atomic.Int64
}

// NewQueue creates a queue with the given channel buffer. limit caps the
// overflow; zero means unbounded.
func NewQueue[T any](buffer, limit int) *Queue[T] {
	return &Queue[T]{
		ch:    make(chan T, buffer),
		ready: make(chan struct{}, 1),
		limit: limit,
	}
}

// Push enqueues v without blocking. It reports false when v was dropped.
func (q *Queue[T]) Push(v T, sheddable bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.overflow) == 0 {
		select {
		case q.ch <- v:
			return true
		default:
		}
	}

	if sheddable || (q.limit > 0 && len(q.overflow) >= q.limit) {
		q.dropped.Add(1)
		return false
	}

	q.overflow = append(q.overflow, v)
	select {
	case q.ready <- struct{}{}:
	default:
	}

	return true
}

// C is the fast path. It is closed by Close.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Ready fires when values are waiting in the overflow
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain returns everything still buffered in the channel followed by the
// overflow, in publish order
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []T
	for done := false; !done; {
		select {
		case v, ok := <-q.ch:
			if ok {
				out = append(out, v)
			} else {
				done = true
			}
		default:
			done = true
		}
	}

	out = append(out, q.overflow...)
	q.overflow = nil

	return out
}

// Close stops the queue. Pushes after Close are ignored.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.overflow = nil
	close(q.ch)
}

// Dropped returns how many values were shed
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
