package lightrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"strconv"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	"github.com/kanengo/lightrpc/internal/net/call"
	"github.com/kanengo/lightrpc/internal/register"
	"github.com/kanengo/lightrpc/internal/registry"
	"github.com/kanengo/lightrpc/runtime/codegen"
)

// Server serves the interfaces registered with it, each through the instance
// built by its Registration.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	registry *registry.Registry
	newCodec codegen.NewCodecFunc
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider

	addr register.WriteOnce[net.Addr]

	mu      sync.Mutex
	serving bool
	closed  bool
}

var _ Registry = (*Server)(nil)

// NewServer validates config and registers the generated interfaces selected
// by AutoScanPackage that have an instance factory.
func NewServer(config ServerConfig, opts Options) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	app := opts.app()
	logger := opts.logger(config.LogLevel, app, "server")
	t := tracing{opts.TraceExporter, config.TraceSpans, config.TraceDB}
	tr, provider, err := t.tracer(context.Background(), logger, app, "server", gonanoid.Must(8))
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		logger:   logger,
		registry: registry.New(registry.Options{Logger: logger.With("component", "registry")}),
		newCodec: opts.codec(config.Codec),
		tracer:   tr,
		provider: provider,
	}

	if config.AutoScanPackage != "" {
		var served []*codegen.Registration
		for _, reg := range codegen.Scan(config.AutoScanPackage) {
			if reg.NewInstance != nil {
				served = append(served, reg)
			}
		}
		if err := s.registry.RegisterAll(served); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("scanned interfaces", "package", config.AutoScanPackage, "count", len(served))
	}

	return s, nil
}

// Register registers an interface that was not picked up by the package scan.
// It must have an instance factory, and must be called before Serve.
func (s *Server) Register(reg *codegen.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.serving {
		return fmt.Errorf("lightrpc: register %s: server already serving", reg.Name)
	}
	_, err := s.registry.Register(reg)
	return err
}

func (s *Server) Lookup(t reflect.Type) (any, bool) {
	h, ok := s.registry.LookupByType(t)
	if !ok {
		return nil, false
	}
	return h.Value, true
}

// Serve listens on the configured address and serves calls until ctx is done.
// It returns nil after ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("lightrpc: listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, l)
}

// ServeListener serves calls arriving on l until ctx is done. It closes l.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closed || s.serving {
		s.mu.Unlock()
		_ = l.Close()
		if s.closed {
			return ErrClosed
		}
		return errors.New("lightrpc: server already serving")
	}
	s.serving = true
	s.mu.Unlock()

	hmap, err := s.handlers()
	if err != nil {
		_ = l.Close()
		return err
	}

	if s.config.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.config.MaxConnections)
	}
	s.addr.Write(l.Addr())
	s.logger.Info("serving", "address", l.Addr().String(), "methods", hmap.Len())

	err = call.Serve(ctx, l, hmap, call.ServerOptions{
		Logger:    s.logger.With("component", "conn"),
		Tracer:    s.tracer,
		NewCodec:  s.newCodec,
		Acceptors: s.config.BossThreads,
		Workers:   s.config.WorkerThreads,
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handlers() (*call.HandlerMap, error) {
	hmap := call.NewHandlerMap()
	for _, h := range s.registry.Handles() {
		if h.Kind != registry.Bound {
			continue
		}
		if err := hmap.AddHandlers(h.Registration, h.Value); err != nil {
			return nil, err
		}
	}
	return hmap, nil
}

// Addr returns the address the server listens on, waiting until it does.
func (s *Server) Addr() net.Addr {
	return s.addr.Read()
}

// Close flushes recorded spans. Cancel the context passed to Serve to stop
// serving.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.provider != nil {
		return s.provider.Shutdown(context.Background())
	}
	return nil
}
