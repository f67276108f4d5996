package call

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kanengo/lightrpc/runtime/callback"
	"github.com/kanengo/lightrpc/runtime/codegen"
)

type greeterServer struct {
	started chan struct{}
}

func (g *greeterServer) GetHandleFn(method string) codegen.Handler {
	switch method {
	case "Greet", "Notify":
		return func(ctx context.Context, codec codegen.Codec, args [][]byte) ([]byte, error) {
			var name string
			if err := codec.Decode(args[0], &name); err != nil {
				return nil, err
			}
			if name == "" {
				return nil, errors.New("empty name")
			}
			return codec.Encode("hello, " + name)
		}
	case "Block":
		return func(ctx context.Context, codec codegen.Codec, args [][]byte) ([]byte, error) {
			close(g.started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	return nil
}

func serveGreeter(t *testing.T, newCallback func() callback.Callback) (*codegen.Registration, *greeterServer, *ClientConn, func()) {
	t.Helper()

	g := &greeterServer{started: make(chan struct{})}
	reg := &codegen.Registration{
		Name:       "test.Greeter",
		Identifier: 9,
		Methods: []codegen.MethodConfig{
			{Name: "Block", Mode: codegen.Sync{}},
			{Name: "Greet", Mode: codegen.Sync{Timeout: 5 * time.Second}},
			{Name: "Notify", Mode: codegen.Async{NewCallback: newCallback}},
		},
		ServerStubFn: func(impl any) codegen.Server { return impl.(*greeterServer) },
	}

	hmap := NewHandlerMap()
	if err := hmap.AddHandlers(reg, g); err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, l, hmap, ServerOptions{Workers: 4, Acceptors: 2}) }()

	conn, err := Connect(context.Background(), TCP(l.Addr().String()), ClientOptions{})
	if err != nil {
		cancel()
		t.Fatal(err)
	}

	stop := func() {
		cancel()
		if err := <-served; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v; want context.Canceled", err)
		}
	}
	t.Cleanup(func() { _ = conn.Close() })
	return reg, g, conn, stop
}

func TestCallOverTCP(t *testing.T) {
	reg, _, conn, stop := serveGreeter(t, nil)
	defer stop()

	s := NewStub(reg, StubOptions{Channel: conn, Correlator: conn.Correlator()})
	for _, name := range []string{"a", "bb", "ccc"} {
		data, err := s.Invoke(context.Background(), reg.MethodIndex("Greet"), name)
		if err != nil {
			t.Fatal(err)
		}
		var got string
		if err := s.Decode(data, &got); err != nil {
			t.Fatal(err)
		}
		if got != "hello, "+name {
			t.Fatalf("got %q", got)
		}
	}

	_, err := s.Invoke(context.Background(), reg.MethodIndex("Greet"), "")
	if err == nil || err.Error() != "empty name" {
		t.Fatalf("err = %v; want empty name", err)
	}
}

func TestAsyncCallOverTCP(t *testing.T) {
	done := make(chan []byte, 1)
	reg, _, conn, stop := serveGreeter(t, func() callback.Callback {
		return callback.Func(func(payload []byte, err error) { done <- payload })
	})
	defer stop()

	s := NewStub(reg, StubOptions{Channel: conn, Correlator: conn.Correlator()})
	if _, err := s.Invoke(context.Background(), reg.MethodIndex("Notify"), "async"); err != nil {
		t.Fatal(err)
	}

	select {
	case payload := <-done:
		var got string
		if err := s.Decode(payload, &got); err != nil || got != "hello, async" {
			t.Fatalf("callback got %q, %v", got, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
}

func TestUnknownInterfaceOverTCP(t *testing.T) {
	reg, _, conn, stop := serveGreeter(t, nil)
	defer stop()

	other := *reg
	other.Identifier = 10
	s := NewStub(&other, StubOptions{Channel: conn, Correlator: conn.Correlator()})
	_, err := s.Invoke(context.Background(), other.MethodIndex("Greet"), "x")
	if err == nil || !strings.Contains(err.Error(), "unknown interface") {
		t.Fatalf("err = %v; want unknown interface", err)
	}
}

func TestConnectionLossFailsPending(t *testing.T) {
	reg, g, conn, stop := serveGreeter(t, nil)

	s := NewStub(reg, StubOptions{Channel: conn, Correlator: conn.Correlator()})
	errc := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), reg.MethodIndex("Block"))
		errc <- err
	}()

	<-g.started
	stop()

	select {
	case err := <-errc:
		if !errors.Is(err, CommunicationError) {
			t.Fatalf("err = %v; want CommunicationError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending call not failed")
	}
	if conn.Correlator().Len() != 0 {
		t.Fatalf("%d calls pending", conn.Correlator().Len())
	}
}

func TestConnectUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opts := ClientOptions{}
	opts.Dial.MaxAttempts = 2
	if _, err := Connect(ctx, TCP(addr), opts); !errors.Is(err, Unreachable) {
		t.Fatalf("Connect() = %v; want Unreachable", err)
	}
}

func TestClosedConnSend(t *testing.T) {
	reg, _, conn, stop := serveGreeter(t, nil)
	defer stop()
	_ = conn.Close()

	s := NewStub(reg, StubOptions{Channel: conn, Correlator: conn.Correlator()})
	_, err := s.Invoke(context.Background(), reg.MethodIndex("Greet"), "x")
	if !errors.Is(err, Unreachable) {
		t.Fatalf("err = %v; want Unreachable", err)
	}
}

func TestCallbackCallsBackOverTCP(t *testing.T) {
	var s codegen.Stub
	var reg *codegen.Registration
	results := make(chan error, 2)
	reg, _, conn, stop := serveGreeter(t, func() callback.Callback {
		return callback.Func(func(payload []byte, err error) {
			if err != nil {
				results <- err
				return
			}
			// Only one callback runs at a time; the reply to this call must
			// still be delivered while the other one waits.
			data, err := s.Invoke(context.Background(), reg.MethodIndex("Greet"), "again")
			if err == nil {
				var got string
				if err = s.Decode(data, &got); err == nil && got != "hello, again" {
					err = errors.New("unexpected reply " + got)
				}
			}
			results <- err
		})
	})
	defer stop()

	callbacks := NewDispatcher(1)
	s = NewStub(reg, StubOptions{Channel: conn, Correlator: conn.Correlator(), Callbacks: callbacks})
	for i := 0; i < 2; i++ {
		if _, err := s.Invoke(context.Background(), reg.MethodIndex("Notify"), "async"); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("call from callback %d: %v", i, err)
			}
		case <-time.After(4 * time.Second):
			t.Fatalf("callback %d did not finish", i)
		}
	}
	callbacks.Wait()
}

func TestDispatcherLimit(t *testing.T) {
	d := NewDispatcher(2)
	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		d.Go(func() {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			<-release
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	for deadline := time.Now().Add(5 * time.Second); ; time.Sleep(time.Millisecond) {
		mu.Lock()
		n := running
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d callbacks running; want 2", n)
		}
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	d.Wait()
	if peak != 2 {
		t.Fatalf("at most %d callbacks ran at once; want 2", peak)
	}
}
