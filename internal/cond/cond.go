package cond

import (
	"context"
	"sync"
)

// Cond is a condition variable whose Wait can be abandoned through a
// context. Like a sync.Cond it must not be copied after first use, and L must
// be held when calling Wait.
type Cond struct {
	L sync.Locker

	mu      sync.Mutex
	waiters []chan struct{}
}

func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l}
}

// Broadcast wakes every goroutine currently waiting on c.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, waiter := range c.waiters {
		close(waiter)
	}

	c.waiters = nil
}

// Signal wakes the longest waiting goroutine, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return
	}
	waiter := c.waiters[0]
	c.waiters = c.waiters[1:]
	close(waiter)
}

// Wait unlocks L, suspends until woken or until ctx is done, and relocks L
// before returning. A non-nil result is ctx.Err(); callers re-check their
// condition either way.
func (c *Cond) Wait(ctx context.Context) error {
	waiter := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, waiter)
	c.mu.Unlock()

	c.L.Unlock()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
		c.remove(waiter)
	case <-waiter:
	}
	c.L.Lock()
	return err
}

func (c *Cond) remove(waiter chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == waiter {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
