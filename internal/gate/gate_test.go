package gate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_NeverExceedsLimit(t *testing.T) {
	g := gate.New(3)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			defer g.Release()

			now := current.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, 0, g.InUse())
}

func TestGate_TryAcquire(t *testing.T) {
	g := gate.New(1)

	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	assert.Equal(t, 1, g.InUse())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGate_AcquireHonoursContext(t *testing.T) {
	g := gate.New(1)
	require.True(t, g.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, g.Acquire(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, g.InUse())
}

func TestGate_ServesWaitersInArrivalOrder(t *testing.T) {
	g := gate.New(1)
	require.True(t, g.TryAcquire())

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Release()
		}()
		// Let each waiter queue before starting the next.
		time.Sleep(10 * time.Millisecond)
	}

	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestGate_DefaultLimit(t *testing.T) {
	assert.Equal(t, gate.DefaultLimit, gate.New(0).Limit())
}
