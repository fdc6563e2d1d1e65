package bus

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/errors"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded, non-blocking queue. Publishers never wait: a full queue
// rejects the item so that callers on a latency-sensitive path can drop it.
type Queue[T any] struct {
	ch     chan T
	closed atomic.Bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues an item without blocking.
func (q *Queue[T]) TryPublish(item T) (err error) {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	// Close may race with a publisher that passed the check above.
	defer func() {
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new items. Queued items are still
// delivered to Run.
func (q *Queue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Run consumes items until the context is done or the queue is closed and drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			handler(item)
		}
	}
}
