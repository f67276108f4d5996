package metrics

import (
	"sync"
	"testing"
)

func TestFloat64ValueConcurrentAdd(t *testing.T) {
	var f float64Value
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				f.Add(0.5)
			}
		}()
	}
	wg.Wait()
	if got, want := f.Load(), 4000.0; got != want {
		t.Fatalf("Load() = %v; want %v", got, want)
	}

	f.Store(-1.25)
	if got := f.Add(1.25); got != 0 {
		t.Fatalf("Add() = %v; want 0", got)
	}
}
