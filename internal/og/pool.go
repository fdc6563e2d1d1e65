package og

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent exchange calls and applies a per-call timeout.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPool creates a pool allowing size concurrent calls.
func NewPool(size int64, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size), timeout: timeout}
}

// Do runs fn once a slot is free. The context handed to fn carries the call
// timeout.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return fn(ctx)
}
