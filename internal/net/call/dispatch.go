package call

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Dispatcher runs the callbacks of async calls on their own goroutines, at
// most limit at once. Handing over a callback never blocks, so a slow
// callback cannot hold up the connection reader delivering other responses.
type Dispatcher struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewDispatcher(limit int) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	return &Dispatcher{sem: semaphore.NewWeighted(int64(limit))}
}

// Go runs fn once fewer than limit callbacks are running.
func (d *Dispatcher) Go(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.sem.Acquire(context.Background(), 1)
		defer d.sem.Release(1)
		fn()
	}()
}

// Wait waits for every callback handed to d.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
