package register

import (
	"fmt"
	"sync"
)

// WriteOnce holds a value that is written once. Readers block until the
// value has been written.
type WriteOnce[T any] struct {
	mu      sync.Mutex
	c       sync.Cond
	written bool
	val     T
}

func (w *WriteOnce[T]) Write(val T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.init()

	if w.written {
		panic(fmt.Sprintf("WriteOnce written more than once %v, new %v", w.val, val))
	}

	w.val = val
	w.written = true
	w.c.Broadcast()

}

func (w *WriteOnce[T]) TryWrite(val T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.init()

	if w.written {
		return false
	}
	w.val = val
	w.written = true
	w.c.Broadcast()
	return true
}

func (w *WriteOnce[T]) Read() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.init()

	for !w.written {
		w.c.Wait()
	}

	return w.val
}

// TryRead returns the value and true if it has been written.
func (w *WriteOnce[T]) TryRead() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val, w.written
}

func (w *WriteOnce[T]) init() {
	if w.c.L == nil {
		w.c.L = &w.mu
	}
}
