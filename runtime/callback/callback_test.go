package callback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSyncReleasesWaiters(t *testing.T) {
	s := NewSync()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Wait(context.Background())
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	s.OnReceive([]byte("pong"), nil)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
	payload, err := s.ReturnValue()
	if string(payload) != "pong" || err != nil {
		t.Fatalf("ReturnValue() = %q, %v; want pong, nil", payload, err)
	}
}

func TestSyncReleaseIsIdempotent(t *testing.T) {
	s := NewSync()
	s.OnReceive([]byte("first"), nil)
	s.OnReceive([]byte("second"), errors.New("late"))

	payload, err := s.ReturnValue()
	if string(payload) != "first" || err != nil {
		t.Fatalf("ReturnValue() = %q, %v; want first, nil", payload, err)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after release: %v", err)
	}
}

func TestSyncWaitDeadline(t *testing.T) {
	s := NewSync()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Wait(ctx)
	if !errors.Is(err, ErrNotReleased) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v; want ErrNotReleased and DeadlineExceeded", err)
	}
	if s.Released() {
		t.Fatal("callback released without a response")
	}
}

func TestSyncIgnoresLateResponse(t *testing.T) {
	s := NewSync()
	s.OnTimeout()
	s.OnReceive([]byte("late"), nil)

	if payload, err := s.ReturnValue(); payload != nil || err != nil {
		t.Fatalf("ReturnValue() = %q, %v; want nil, nil", payload, err)
	}
	if err := s.Wait(context.Background()); !errors.Is(err, ErrNotReleased) {
		t.Fatalf("Wait() after timeout = %v; want ErrNotReleased", err)
	}
}

func TestSyncHoldsError(t *testing.T) {
	s := NewSync()
	want := errors.New("remote failure")
	s.OnReceive(nil, want)
	if _, err := s.ReturnValue(); !errors.Is(err, want) {
		t.Fatalf("ReturnValue() error = %v; want %v", err, want)
	}
}

type counting struct {
	Async
	n int
}

func (c *counting) OnReceive(payload []byte, err error) {
	c.Async.OnReceive(payload, err)
	c.n++
}

func TestAsyncEmbedding(t *testing.T) {
	var cb Callback = &counting{}
	cb.OnReceive([]byte("a"), nil)
	cb.OnReceive([]byte("b"), nil)
	cb.OnTimeout()

	c := cb.(*counting)
	if c.n != 2 {
		t.Fatalf("notified %d times; want 2", c.n)
	}
	if payload, _ := c.ReturnValue(); string(payload) != "b" {
		t.Fatalf("ReturnValue() = %q; want b", payload)
	}
}

func TestFunc(t *testing.T) {
	done := make(chan string, 1)
	cb := Func(func(payload []byte, err error) { done <- string(payload) })
	cb.OnReceive([]byte("hello"), nil)

	select {
	case got := <-done:
		if got != "hello" {
			t.Fatalf("got %q; want hello", got)
		}
	default:
		t.Fatal("fn not called")
	}
	if payload, _ := cb.ReturnValue(); string(payload) != "hello" {
		t.Fatalf("ReturnValue() = %q; want hello", payload)
	}
}

func TestAsyncDecode(t *testing.T) {
	var a Async
	var v string
	if err := a.Decode([]byte("x"), &v); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("Decode() without decoder = %v; want ErrNoDecoder", err)
	}

	var cb Callback = Func(func([]byte, error) {})
	d, ok := cb.(Decoding)
	if !ok {
		t.Fatal("Func callback does not accept a decoder")
	}
	d.SetDecoder(func(data []byte, v any) error {
		*v.(*string) = string(data)
		return nil
	})
	if err := cb.(*funcCallback).Decode([]byte("payload"), &v); err != nil || v != "payload" {
		t.Fatalf("Decode() = %q, %v", v, err)
	}
}
