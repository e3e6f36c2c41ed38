package limiter

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate bounds the number of transfers in flight. TryAcquire is
// called from the downloader tick and Release from worker goroutines.
type ConcurrencyGate struct {
	sem   *semaphore.Weighted
	limit int64
	inUse atomic.Int64
}

// NewConcurrencyGate creates a gate admitting up to limit holders (minimum 1).
func NewConcurrencyGate(limit int) *ConcurrencyGate {
	if limit < 1 {
		limit = 1
	}
	return &ConcurrencyGate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// TryAcquire takes a slot without blocking.
func (g *ConcurrencyGate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inUse.Add(1)
	return true
}

// Release returns a slot. Releasing a slot that was never acquired panics.
func (g *ConcurrencyGate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// InUse returns the number of slots currently held.
func (g *ConcurrencyGate) InUse() int64 {
	return g.inUse.Load()
}

func (g *ConcurrencyGate) Limit() int64 {
	return g.limit
}
