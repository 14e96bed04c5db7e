package attack

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrResourceExhausted is returned when a worker cannot reserve its memory.
var ErrResourceExhausted = errors.New("resources exhausted")

// controller gates worker start on a slot and a memory reservation.
type controller struct {
	slots *semaphore.Weighted
	mem   *semaphore.Weighted // nil if unlimited
	limit int64
	used  atomic.Int64
}

func newController(workers int, memoryLimit int64) *controller {
	if workers <= 0 {
		workers = 1
	}
	c := &controller{
		slots: semaphore.NewWeighted(int64(workers)),
		limit: memoryLimit,
	}
	if memoryLimit > 0 {
		c.mem = semaphore.NewWeighted(memoryLimit)
	}
	return c
}

// acquire blocks for a worker slot, then reserves bytes without blocking.
// The returned release must be called once the worker is done.
func (c *controller) acquire(ctx context.Context, bytes int64) (func(), error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if c.mem != nil && bytes > 0 && !c.mem.TryAcquire(bytes) {
		c.slots.Release(1)
		return nil, ErrResourceExhausted
	}
	c.used.Add(bytes)
	return func() {
		if c.mem != nil && bytes > 0 {
			c.mem.Release(bytes)
		}
		c.used.Add(-bytes)
		c.slots.Release(1)
	}, nil
}

// usage returns the bytes currently reserved.
func (c *controller) usage() int64 { return c.used.Load() }
