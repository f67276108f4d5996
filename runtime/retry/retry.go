// Package retry implements jittered exponential backoff for loops that
// re-establish connections.
//
//	for r := retry.Begin(); r.Continue(ctx); {
//		if err := dial(); err == nil {
//			break
//		}
//	}
package retry

import (
	"context"
	"math"
	"time"

	"github.com/kanengo/lightrpc/runtime/urandom"
)

type Retry struct {
	options Options
	attempt int
}

type Options struct {
	BackOffMultiplier float64
	BackOffMinDuration time.Duration
	BackOffMaxDuration time.Duration

	// MaxAttempts stops the loop after this many attempts. Zero means no limit.
	MaxAttempts int
}

var defaultOptions = Options{
	BackOffMultiplier:  1.3,
	BackOffMinDuration: 10 * time.Millisecond,
	BackOffMaxDuration: 2 * time.Second,
}

func Begin() *Retry {
	return BeginWithOptions(defaultOptions)
}

// BeginWithOptions starts a loop. Unset backoff fields fall back to the defaults.
func BeginWithOptions(opts Options) *Retry {
	if opts.BackOffMultiplier <= 0 {
		opts.BackOffMultiplier = defaultOptions.BackOffMultiplier
	}
	if opts.BackOffMinDuration <= 0 {
		opts.BackOffMinDuration = defaultOptions.BackOffMinDuration
	}
	if opts.BackOffMaxDuration <= 0 {
		opts.BackOffMaxDuration = defaultOptions.BackOffMaxDuration
	}
	return &Retry{options: opts}
}

// Continue sleeps before every attempt but the first and reports whether
// another attempt should be made.
func (r *Retry) Continue(ctx context.Context) bool {
	if r.options.MaxAttempts > 0 && r.attempt >= r.options.MaxAttempts {
		return false
	}
	if r.attempt != 0 {
		randomized(ctx, backOffDelay(r.attempt, r.options))
	}
	r.attempt++

	return ctx.Err() == nil
}

func (r *Retry) Reset() {
	r.attempt = 0
}

func backOffDelay(i int, opts Options) time.Duration {
	mult := math.Pow(opts.BackOffMultiplier, float64(i))
	d := float64(opts.BackOffMinDuration) * mult
	if d >= float64(opts.BackOffMaxDuration) {
		return opts.BackOffMaxDuration
	}
	return time.Duration(d)
}

func randomized(ctx context.Context, d time.Duration) {
	const jitter = 0.4
	mult := 1 - jitter*urandom.Float64() // 40%
	sleep(ctx, time.Duration(float64(d)*mult))
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
}
