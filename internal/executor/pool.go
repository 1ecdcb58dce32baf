package executor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// pool is the process-wide ceiling on concurrent executions. Waiters queue
// in FIFO order and are never rejected.
type pool struct {
	sem  *semaphore.Weighted
	size int
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *pool) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *pool) release() {
	p.sem.Release(1)
}
