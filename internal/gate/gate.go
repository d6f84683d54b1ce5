// Package gate bounds local concurrent work with a FIFO counting semaphore.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultLimit is the number of rows geocoded at the same time when nothing else is configured.
const DefaultLimit = 3

// Gate hands out a fixed number of permits. Blocked acquirers are served in the
// order they arrived.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
	inUse atomic.Int64
}

// New creates a gate with limit permits. A non-positive limit selects DefaultLimit.
func New(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Gate{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Acquire blocks until a permit is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inUse.Add(1)

	return nil
}

// TryAcquire takes a permit only if one is free and nobody is queued ahead.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inUse.Add(1)

	return true
}

// Release returns a permit and wakes the longest-waiting acquirer.
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// InUse returns the number of unreleased permits.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Limit returns the configured number of permits.
func (g *Gate) Limit() int {
	return g.limit
}
