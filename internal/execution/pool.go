// Package execution keeps the resting order set of one decision cycle in sync with the exchange.
package execution

import (
	"context"
	"sync"
)

// Pool runs jobs on at most size goroutines at a time.
// Go never blocks the caller; excess jobs wait for a free slot.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a pool with the given concurrency limit (minimum 1).
func NewPool(size int) *Pool {
	return &Pool{sem: make(chan struct{}, max(size, 1))}
}

// Go schedules job. A job still waiting for a slot when ctx is canceled is dropped.
func (p *Pool) Go(ctx context.Context, job func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}: // Acquire
		case <-ctx.Done():
			return
		}
		defer func() { <-p.sem }() // Release

		job(ctx)
	}()
}

// Wait blocks until every scheduled job has finished or been dropped.
func (p *Pool) Wait() {
	p.wg.Wait()
}
