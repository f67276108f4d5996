package lightrpc_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kanengo/lightrpc"
	"github.com/kanengo/lightrpc/runtime/codegen"
	"github.com/kanengo/lightrpc/runtime/traces"
)

const testPackage = "github.com/kanengo/lightrpc_test"

// startServer serves the scanned test interfaces on a loopback port until
// the test ends.
func startServer(t *testing.T, opts lightrpc.Options) *lightrpc.Server {
	t.Helper()

	server, err := lightrpc.NewServer(lightrpc.ServerConfig{
		AutoScanPackage: testPackage,
		BossThreads:     1,
		WorkerThreads:   4,
		Port:            1,
		Codec:           "binary",
	}, opts)
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ServeListener(ctx, l) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("ServeListener: %v", err)
		}
		_ = server.Close()
	})
	return server
}

func clientConfig(t *testing.T, server *lightrpc.Server) lightrpc.ClientConfig {
	t.Helper()
	_, port, err := net.SplitHostPort(server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return lightrpc.ClientConfig{
		AutoScanPackage:     testPackage,
		BossThreads:         2,
		WorkerThreads:       2,
		Port:                p,
		RemoteServerAddress: "127.0.0.1",
		ConnectTimeout:      5 * time.Second,
	}
}

func newClient(t *testing.T, config lightrpc.ClientConfig, opts lightrpc.Options) *lightrpc.Client {
	t.Helper()
	client, err := lightrpc.NewClient(context.Background(), config, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSyncCalls(t *testing.T) {
	server := startServer(t, lightrpc.Options{})
	client := newClient(t, clientConfig(t, server), lightrpc.Options{})

	calc, err := lightrpc.Get[Calculator](client)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := calc.(calculatorClientStub); !ok {
		t.Fatalf("client handed out %T, want a proxy", calc)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		got, err := calc.Add(ctx, i, 40)
		if err != nil {
			t.Fatal(err)
		}
		if got != i+40 {
			t.Errorf("Add(%d, 40) = %d", i, got)
		}
	}

	_, err = calc.Divide(ctx, 1, 0)
	if err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("Divide(1, 0) error = %v, want division by zero", err)
	}
	if got, err := calc.Divide(ctx, 9, 3); err != nil || got != 3 {
		t.Errorf("Divide(9, 3) = %d, %v", got, err)
	}
}

func TestAsyncCall(t *testing.T) {
	server := startServer(t, lightrpc.Options{})
	client := newClient(t, clientConfig(t, server), lightrpc.Options{})

	calc, err := lightrpc.Get[Calculator](client)
	if err != nil {
		t.Fatal(err)
	}

	got, err := calc.Notify(context.Background(), "ping")
	if got != "" || err != nil {
		t.Fatalf("Notify() = %q, %v; want immediate zero result", got, err)
	}

	select {
	case n := <-notifications:
		if n.err != nil {
			t.Fatal(n.err)
		}
		var reply string
		if err := codegen.NewBinaryCodec().Decode(n.payload, &reply); err != nil {
			t.Fatal(err)
		}
		if reply != "got ping" {
			t.Errorf("callback got %q, want %q", reply, "got ping")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
}

func TestUnmarkedMethod(t *testing.T) {
	server := startServer(t, lightrpc.Options{})
	client := newClient(t, clientConfig(t, server), lightrpc.Options{})

	calc, err := lightrpc.Get[Calculator](client)
	if err != nil {
		t.Fatal(err)
	}
	if err := calc.Noop(context.Background()); err != nil {
		t.Fatalf("Noop() = %v", err)
	}
}

func TestServerBindsInstance(t *testing.T) {
	server := startServer(t, lightrpc.Options{})
	calc, err := lightrpc.Get[Calculator](server)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := calc.(*calculator); !ok {
		t.Fatalf("server handed out %T, want the instance", calc)
	}
}

func TestGetUnregistered(t *testing.T) {
	server := startServer(t, lightrpc.Options{})
	config := clientConfig(t, server)
	config.AutoScanPackage = ""
	client := newClient(t, config, lightrpc.Options{})

	if _, err := lightrpc.Get[Calculator](client); !errors.Is(err, lightrpc.ErrNotRegistered) {
		t.Fatalf("Get() error = %v, want ErrNotRegistered", err)
	}

	reg, ok := codegen.Find(testPackage + "/Calculator")
	if !ok {
		t.Fatal("Calculator not catalogued")
	}
	if err := client.Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := client.Register(reg); !errors.Is(err, lightrpc.ErrDuplicateInterface) {
		t.Fatalf("second Register() = %v, want ErrDuplicateInterface", err)
	}
	if _, ok := client.LookupByID(4242); !ok {
		t.Fatal("LookupByID(4242) found nothing")
	}
	if _, err := lightrpc.Get[Calculator](client); err != nil {
		t.Fatal(err)
	}
}

func TestUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	_, err = lightrpc.NewClient(context.Background(), lightrpc.ClientConfig{
		BossThreads:         1,
		WorkerThreads:       1,
		Port:                port,
		RemoteServerAddress: "127.0.0.1",
		ConnectTimeout:      200 * time.Millisecond,
	}, lightrpc.Options{})
	if !errors.Is(err, lightrpc.Unreachable) {
		t.Fatalf("NewClient() error = %v, want Unreachable", err)
	}
}

func TestClosedClient(t *testing.T) {
	server := startServer(t, lightrpc.Options{})
	client := newClient(t, clientConfig(t, server), lightrpc.Options{})

	calc, err := lightrpc.Get[Calculator](client)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := calc.Add(context.Background(), 1, 2); !errors.Is(err, lightrpc.Unreachable) {
		t.Fatalf("Add() after Close = %v, want Unreachable", err)
	}
	if err := client.Register(nil); !errors.Is(err, lightrpc.ErrClosed) {
		t.Fatalf("Register() after Close = %v, want ErrClosed", err)
	}
}

// keptSpans keeps its spans after the tracer provider shuts down.
type keptSpans struct {
	*tracetest.InMemoryExporter
}

func (keptSpans) Shutdown(context.Context) error { return nil }

func TestTracing(t *testing.T) {
	clientSpans := keptSpans{tracetest.NewInMemoryExporter()}

	server := startServer(t, lightrpc.Options{TraceExporter: tracetest.NewInMemoryExporter()})
	client, err := lightrpc.NewClient(context.Background(), clientConfig(t, server),
		lightrpc.Options{TraceExporter: clientSpans})
	if err != nil {
		t.Fatal(err)
	}

	calc, err := lightrpc.Get[Calculator](client)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := calc.Add(context.Background(), 1, 2); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	spans := clientSpans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d client spans, want 1", len(spans))
	}
	if got, want := spans[0].Name, testPackage+"/Calculator.Add"; got != want {
		t.Errorf("client span = %q, want %q", got, want)
	}
}

func TestTraceDB(t *testing.T) {
	file := filepath.Join(t.TempDir(), "traces.db")
	server := startServer(t, lightrpc.Options{})
	config := clientConfig(t, server)
	config.TraceDB = file
	client, err := lightrpc.NewClient(context.Background(), config, lightrpc.Options{App: "calc"})
	if err != nil {
		t.Fatal(err)
	}

	calc, err := lightrpc.Get[Calculator](client)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := calc.Add(context.Background(), 1, 2); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := traces.OpenDB(context.Background(), file)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	list, err := db.QueryTraces(context.Background(), "calc", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d traces, want 1", len(list))
	}
	if got, want := list[0].Name, testPackage+"/Calculator.Add"; got != want {
		t.Errorf("trace name = %q, want %q", got, want)
	}
}
