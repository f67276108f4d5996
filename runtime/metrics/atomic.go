package metrics

import (
	"math"
	"sync/atomic"
)

// float64Value is a float64 updated without locks. The zero value is 0.
type float64Value struct {
	bits atomic.Uint64
}

func (f *float64Value) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *float64Value) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// Add adds delta and returns the new value.
func (f *float64Value) Add(delta float64) float64 {
	for {
		old := f.bits.Load()
		sum := math.Float64frombits(old) + delta
		if f.bits.CompareAndSwap(old, math.Float64bits(sum)) {
			return sum
		}
	}
}
