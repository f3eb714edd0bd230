package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Guard bounds concurrent access to one loaded model. A guard of size 1 is a
// mutex. Callers that find every slot taken wait at most timeout, and at most
// maxQueue of them may wait at once; everyone else gets ErrBusy.
type Guard struct {
	sem      *semaphore.Weighted
	size     int64
	maxQueue int64
	timeout  time.Duration

	inFlight atomic.Int64
	waiting  atomic.Int64
}

func NewGuard(size int, timeout time.Duration, maxQueue int) *Guard {
	if size < 1 {
		size = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Guard{
		sem:      semaphore.NewWeighted(int64(size)),
		size:     int64(size),
		maxQueue: int64(maxQueue),
		timeout:  timeout,
	}
}

// Acquire takes one slot. The returned release func must be called exactly
// once; it is safe to defer.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	if !g.sem.TryAcquire(1) {
		if g.waiting.Add(1) > g.maxQueue {
			g.waiting.Add(-1)
			return nil, fmt.Errorf("%w: %d in flight, wait queue full", ErrBusy, g.inFlight.Load())
		}
		err := g.wait(ctx)
		g.waiting.Add(-1)
		if err != nil {
			return nil, err
		}
	}

	g.inFlight.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		}
	}, nil
}

func (g *Guard) wait(ctx context.Context) error {
	wctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: caller gave up waiting: %w", ErrBusy, ctx.Err())
		}
		return fmt.Errorf("%w: no slot free after %s", ErrBusy, g.timeout)
	}
	return nil
}

// Drain takes every slot, which waits for all in-flight calls to finish.
// The guard stays drained afterwards.
func (g *Guard) Drain(ctx context.Context) error {
	return g.sem.Acquire(ctx, g.size)
}

func (g *Guard) Capacity() int { return int(g.size) }
func (g *Guard) InFlight() int { return int(g.inFlight.Load()) }
func (g *Guard) Waiting() int  { return int(g.waiting.Load()) }
