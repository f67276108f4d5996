// Package callback defines how the response of a remote call is handed back
// to the caller.
//
// Sync callbacks block the calling goroutine until the response arrives.
// Async callbacks are built per call by a factory and are notified from a
// goroutine of the client. Those embedding Async can decode their payload
// with the codec the call was made with.
package callback

import (
	"context"
	"errors"
	"sync"

	"github.com/kanengo/lightrpc/internal/cond"
)

// Callback receives the outcome of one remote call.
type Callback interface {
	// OnReceive delivers the encoded result, or the error that ended the call.
	OnReceive(payload []byte, err error)

	// OnTimeout is called when a sync call stops waiting for its response.
	OnTimeout()

	// ReturnValue returns what the callback holds. Before any OnReceive it is
	// (nil, nil).
	ReturnValue() ([]byte, error)
}

// ErrNotReleased is returned by Sync.Wait when the context ends before a
// response is received. It wraps the context error.
var ErrNotReleased = errors.New("callback: not released")

// Sync is the callback of a blocking call. The first OnReceive stores the
// result and releases every waiter; later calls are ignored, as is any
// OnReceive after OnTimeout.
type Sync struct {
	mu       sync.Mutex
	cond     *cond.Cond
	released bool
	timedOut bool
	payload  []byte
	err      error
}

var _ Callback = (*Sync)(nil)

func NewSync() *Sync {
	s := &Sync{}
	s.cond = cond.NewCond(&s.mu)
	return s
}

func (s *Sync) OnReceive(payload []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.timedOut {
		return
	}
	s.payload, s.err = payload, err
	s.released = true
	s.cond.Broadcast()
}

func (s *Sync) OnTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.timedOut = true
	s.cond.Broadcast()
}

func (s *Sync) ReturnValue() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload, s.err
}

// Released reports whether a response has been received.
func (s *Sync) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Wait blocks until the callback is released, times out, or ctx ends. It
// returns nil once released.
func (s *Sync) Wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.released {
		if s.timedOut {
			return ErrNotReleased
		}
		if err := s.cond.Wait(ctx); err != nil && !s.released {
			return errors.Join(ErrNotReleased, err)
		}
	}
	return nil
}

// ErrNoDecoder is returned by Async.Decode when the callback was not handed a
// decoder by the call that built it.
var ErrNoDecoder = errors.New("callback: no decoder")

// Decoding is implemented by callbacks that decode their payload. The stub of
// an async call installs its decoder before the request is sent.
type Decoding interface {
	SetDecoder(decode func(data []byte, v any) error)
}

// Async is a base for asynchronous callbacks. Types embedding it call
// Async.OnReceive first and then run their own notification.
type Async struct {
	mu      sync.Mutex
	payload []byte
	err     error
	decode  func(data []byte, v any) error
}

var _ Decoding = (*Async)(nil)

func (a *Async) SetDecoder(decode func(data []byte, v any) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decode = decode
}

// Decode decodes a payload, usually the one passed to OnReceive, into v.
func (a *Async) Decode(data []byte, v any) error {
	a.mu.Lock()
	decode := a.decode
	a.mu.Unlock()
	if decode == nil {
		return ErrNoDecoder
	}
	return decode(data, v)
}

var _ Callback = (*Async)(nil)

func (a *Async) OnReceive(payload []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payload, a.err = payload, err
}

func (a *Async) OnTimeout() {}

func (a *Async) ReturnValue() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.payload, a.err
}

type funcCallback struct {
	Async
	fn func(payload []byte, err error)
}

// Func returns an async Callback that stores each result and then calls fn.
func Func(fn func(payload []byte, err error)) Callback {
	return &funcCallback{fn: fn}
}

func (f *funcCallback) OnReceive(payload []byte, err error) {
	f.Async.OnReceive(payload, err)
	if f.fn != nil {
		f.fn(payload, err)
	}
}
