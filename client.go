package lightrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/kanengo/lightrpc/internal/net/call"
	"github.com/kanengo/lightrpc/internal/registry"
	"github.com/kanengo/lightrpc/runtime/codegen"
	"github.com/kanengo/lightrpc/runtime/logging"
	"github.com/kanengo/lightrpc/runtime/retry"
)

// Options holds what a configuration file cannot express.
type Options struct {
	// App names the application in logs and spans. Defaults to the
	// executable name.
	App string

	// Logger replaces the JSON stderr logger built from the configured
	// level.
	Logger *slog.Logger

	// TraceExporter receives the spans of every call, in addition to the
	// destinations selected by TraceSpans and TraceDB.
	TraceExporter sdktrace.SpanExporter

	// NewCodec replaces the codec selected by the configuration.
	NewCodec codegen.NewCodecFunc
}

func (o Options) app() string {
	if o.App != "" {
		return o.App
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Base(exe)
	}
	return "lightrpc"
}

func (o Options) logger(level, app, role string) *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	lvl, _ := logging.ParseLevel(level)
	return slog.New(logging.NewLogHandler(os.Stderr, logging.Options{App: app, Role: role}, lvl))
}

func (o Options) codec(name string) codegen.NewCodecFunc {
	if o.NewCodec != nil {
		return o.NewCodec
	}
	if name == "cbor" {
		return func() codegen.Codec { return codegen.NewCBORCodec() }
	}
	return func() codegen.Codec { return codegen.NewBinaryCodec() }
}

// Registry is implemented by Client and Server.
type Registry interface {
	Lookup(t reflect.Type) (any, bool)
}

// Get returns the value registered for the interface T: a proxy when T is
// served remotely, or the local instance.
func Get[T any](r Registry) (T, error) {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	v, ok := r.Lookup(t)
	if !ok {
		return zero, fmt.Errorf("%w: %v", ErrNotRegistered, t)
	}
	return v.(T), nil
}

// Client calls the remote interfaces registered with it on one server.
type Client struct {
	config   ClientConfig
	logger   *slog.Logger
	registry *registry.Registry
	conns    []*call.ClientConn

	// callbacks runs the callbacks of async calls.
	callbacks *call.Dispatcher

	provider *sdktrace.TracerProvider

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Registry = (*Client)(nil)

// NewClient validates config, connects to the configured server and registers
// the generated interfaces selected by AutoScanPackage.
func NewClient(ctx context.Context, config ClientConfig, opts Options) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	app := opts.app()
	logger := opts.logger(config.LogLevel, app, "client")
	id := gonanoid.Must(8)
	tr, provider, err := tracing{opts.TraceExporter, config.TraceSpans, config.TraceDB}.tracer(ctx, logger, app, "client", id)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:    config,
		logger:    logger,
		callbacks: call.NewDispatcher(config.WorkerThreads),
		provider:  provider,
	}

	if err := c.connect(ctx); err != nil {
		c.shutdown()
		return nil, err
	}

	newCodec := opts.codec(config.Codec)
	c.registry = registry.New(registry.Options{
		Logger: logger.With("component", "registry"),
		Stub: func(reg *codegen.Registration) codegen.Stub {
			return c.newStub(reg, newCodec, tr)
		},
	})

	if config.AutoScanPackage != "" {
		regs := codegen.Scan(config.AutoScanPackage)
		for i, reg := range regs {
			regs[i] = calling(reg)
		}
		if err := c.registry.RegisterAll(regs); err != nil {
			c.shutdown()
			return nil, err
		}
		logger.Info("scanned interfaces", "package", config.AutoScanPackage, "count", len(regs))
	}

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	timeout := c.config.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ep := call.TCP(net.JoinHostPort(c.config.RemoteServerAddress, strconv.Itoa(c.config.Port)))
	for i := 0; i < c.config.BossThreads; i++ {
		conn, err := call.Connect(ctx, ep, call.ClientOptions{
			Logger: c.logger.With("component", "conn", "conn", i),
			Dial:   retry.Options{MaxAttempts: 5},
		})
		if err != nil {
			return err
		}
		c.conns = append(c.conns, conn)
	}
	c.logger.Info("connected", "remote", ep.Address(), "connections", len(c.conns))
	return nil
}

func (c *Client) newStub(reg *codegen.Registration, newCodec codegen.NewCodecFunc, tr trace.Tracer) codegen.Stub {
	stubs := make([]codegen.Stub, len(c.conns))
	for i, conn := range c.conns {
		stubs[i] = call.NewStub(reg, call.StubOptions{
			Channel:    conn,
			Correlator: conn.Correlator(),
			Codec:      newCodec(),
			Logger:     c.logger.With("component", "stub"),
			Tracer:     tr,
			Callbacks:  c.callbacks,
		})
	}
	if len(stubs) == 1 {
		return stubs[0]
	}
	return &roundRobin{stubs: stubs, codec: newCodec()}
}

// roundRobin spreads the calls of one interface over several connections.
// Results are decoded with a codec of its own.
type roundRobin struct {
	stubs []codegen.Stub
	next  atomic.Uint64

	codecMu sync.Mutex
	codec   codegen.Codec
}

func (r *roundRobin) Invoke(ctx context.Context, method int, args ...any) ([]byte, error) {
	i := r.next.Add(1) % uint64(len(r.stubs))
	return r.stubs[i].Invoke(ctx, method, args...)
}

func (r *roundRobin) Decode(data []byte, v any) error {
	r.codecMu.Lock()
	defer r.codecMu.Unlock()

	if err := r.codec.Decode(data, v); err != nil {
		r.codec.Reset()
		return err
	}
	return nil
}

// Register registers an interface that was not picked up by the package scan.
func (c *Client) Register(reg *codegen.Registration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.registry.Register(calling(reg))
	return err
}

// calling returns reg without its instance factory: a client reaches every
// interface through its connections, even one whose implementation is
// linked into the same binary.
func calling(reg *codegen.Registration) *codegen.Registration {
	if reg == nil || reg.NewInstance == nil {
		return reg
	}
	r := *reg
	r.NewInstance = nil
	return &r
}

// Lookup returns the proxy or instance registered for the interface type t.
func (c *Client) Lookup(t reflect.Type) (any, bool) {
	h, ok := c.registry.LookupByType(t)
	if !ok {
		return nil, false
	}
	return h.Value, true
}

// LookupByID returns the proxy or instance registered under an identifier.
func (c *Client) LookupByID(id int64) (any, bool) {
	h, ok := c.registry.LookupByID(id)
	if !ok {
		return nil, false
	}
	return h.Value, true
}

// Close closes every connection. Pending calls fail with CommunicationError.
// It waits for running async callbacks and flushes recorded spans.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.shutdown()
	})
	return err
}

func (c *Client) shutdown() error {
	var errs []error
	for _, conn := range c.conns {
		errs = append(errs, conn.Close())
	}
	c.callbacks.Wait()
	if c.provider != nil {
		errs = append(errs, c.provider.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}
