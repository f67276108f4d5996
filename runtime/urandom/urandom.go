package urandom

import (
	"math/rand"
	"sync"
	"time"
)

var pool = sync.Pool{
	New: func() any {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		return rng
	},
}

func Float64() float64 {
	r := pool.Get().(*rand.Rand)
	defer pool.Put(r)

	return r.Float64()
}

func Int63() int64 {
	r := pool.Get().(*rand.Rand)
	defer pool.Put(r)

	return r.Int63()
}

// Uint64 returns 64 random bits. Each pooled generator is seeded independently,
// so concurrent callers do not share a sequence.
func Uint64() uint64 {
	r := pool.Get().(*rand.Rand)
	defer pool.Put(r)

	return r.Uint64()
}
