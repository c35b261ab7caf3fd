package core

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Bounds for the number of concurrent transfers.
const (
	MinParallelDownloads = 1
	MaxParallelDownloads = 16
)

// Governor is the resource state shared by all workers: a bounded set of
// transfer slots and one token bucket for the aggregate speed limit.
type Governor struct {
	capacity atomic.Int32
	active   atomic.Int32

	mu      sync.Mutex
	limit   int64
	chunk   int
	limiter *rate.Limiter
}

// NewGovernor creates a governor with parallel slots and a speed limit in
// bytes per second (0 for unlimited). chunk is the largest single WaitN.
func NewGovernor(parallel int, limit int64, chunk int) *Governor {
	if chunk <= 0 {
		chunk = 32 * 1024
	}
	g := &Governor{
		chunk:   chunk,
		limiter: rate.NewLimiter(rate.Inf, chunk),
	}
	g.SetCapacity(parallel)
	g.SetSpeedLimit(limit)
	return g
}

// TryAcquire takes a slot if one is free.
func (g *Governor) TryAcquire() bool {
	for {
		cur := g.active.Load()
		if cur >= g.capacity.Load() {
			return false
		}
		if g.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot.
func (g *Governor) Release() {
	g.active.Add(-1)
}

// Active returns the number of held slots.
func (g *Governor) Active() int {
	return int(g.active.Load())
}

// Capacity returns the slot bound.
func (g *Governor) Capacity() int {
	return int(g.capacity.Load())
}

// SetCapacity clamps n to [MinParallelDownloads, MaxParallelDownloads] and
// returns the applied value. Held slots above a lowered bound are kept
// until released.
func (g *Governor) SetCapacity(n int) int {
	n = max(MinParallelDownloads, min(n, MaxParallelDownloads))
	g.capacity.Store(int32(n))
	return n
}

// SetSpeedLimit changes the aggregate limit in bytes per second. Zero or
// less removes it.
func (g *Governor) SetSpeedLimit(bytesPerSecond int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if bytesPerSecond <= 0 {
		g.limit = 0
		g.limiter.SetLimit(rate.Inf)
		g.limiter.SetBurst(g.chunk)
		return
	}
	g.limit = bytesPerSecond
	g.limiter.SetLimit(rate.Limit(bytesPerSecond))
	g.limiter.SetBurst(max(int(bytesPerSecond), g.chunk))
}

// SpeedLimit returns the limit in bytes per second, 0 when unlimited.
func (g *Governor) SpeedLimit() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// WaitN blocks until n bytes may be written or ctx is done.
func (g *Governor) WaitN(ctx context.Context, n int) error {
	if g.SpeedLimit() == 0 {
		return ctx.Err()
	}
	for n > 0 {
		step := min(n, g.limiter.Burst())
		if err := g.limiter.WaitN(ctx, step); err != nil {
			// the burst may have shrunk under us
			if ctx.Err() == nil && step > g.limiter.Burst() {
				continue
			}
			return err
		}
		n -= step
	}
	return nil
}
