package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kanengo/lightrpc/runtime/callback"
	"github.com/kanengo/lightrpc/runtime/codegen"
	"github.com/kanengo/lightrpc/runtime/logging"
)

// Channel sends request frames to the remote process.
type Channel interface {
	// Send writes one frame whose body is the concatenation of body.
	Send(id uint64, body [][]byte) error
}

type StubOptions struct {
	Channel    Channel
	Correlator *Correlator
	Codec      codegen.Codec
	Logger     *slog.Logger
	Tracer     trace.Tracer

	// Callbacks, when set, runs the OnReceive of async callbacks instead of
	// the connection's reader goroutine.
	Callbacks *Dispatcher
}

func (o StubOptions) withDefaults() StubOptions {
	if o.Logger == nil {
		o.Logger = logging.StderrLogger(logging.Options{Component: "stub"})
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if o.Codec == nil {
		o.Codec = codegen.NewBinaryCodec()
	}
	if o.Correlator == nil {
		o.Correlator = NewCorrelator("", o.Logger)
	}
	return o
}

// stub turns method calls of a proxy into request frames.
type stub struct {
	reg        *codegen.Registration
	channel    Channel
	correlator *Correlator
	logger     *slog.Logger
	tracer     trace.Tracer
	callbacks  *Dispatcher
	methods    []stubMethod

	codecMu sync.Mutex
	codec   codegen.Codec
}

type stubMethod struct {
	config   codegen.MethodConfig
	spanName string
	metrics  *codegen.MethodMetrics
}

var _ codegen.Stub = &stub{}

// NewStub returns the Stub a generated proxy for reg calls into.
func NewStub(reg *codegen.Registration, opts StubOptions) codegen.Stub {
	opts = opts.withDefaults()
	return &stub{
		reg:        reg,
		channel:    opts.Channel,
		correlator: opts.Correlator,
		logger:     opts.Logger.With("interface", reg.Name),
		tracer:     opts.Tracer,
		callbacks:  opts.Callbacks,
		methods:    makeStubMethods(reg),
		codec:      opts.Codec,
	}
}

func makeStubMethods(reg *codegen.Registration) []stubMethod {
	methods := make([]stubMethod, len(reg.Methods))
	for i, m := range reg.Methods {
		methods[i] = stubMethod{
			config:   m,
			spanName: reg.Name + "." + m.Name,
			metrics: codegen.MethodMetricsFor(codegen.MethodLabels{
				Interface: reg.Name,
				Method:    m.Name,
				Mode:      codegen.ModeName(m.Mode),
			}),
		}
	}
	return methods
}

func (s *stub) Invoke(ctx context.Context, method int, args ...any) (result []byte, err error) {
	if method < 0 || method >= len(s.methods) {
		return nil, fmt.Errorf("%w: index %d of %s", ErrUnknownMethod, method, s.reg.Name)
	}
	m := &s.methods[method]
	if m.config.Mode == nil {
		s.logger.Debug("method has no call mode; not sending", "method", m.config.Name)
		return nil, nil
	}

	ctx, span := s.tracer.Start(ctx, m.spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("lightrpc.interface_id", s.reg.Identifier),
			attribute.String("lightrpc.mode", codegen.ModeName(m.config.Mode)),
		))
	h := m.metrics.Begin()
	var requestBytes, replyBytes int
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		m.metrics.End(h, err != nil, requestBytes, replyBytes)
	}()

	encoded, err := s.encodeArgs(args)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:          NewCallID(),
		InterfaceID: s.reg.Identifier,
		Method:      m.config.Name,
		Args:        encoded,
	}
	parts, size, err := requestParts(req)
	if err != nil {
		return nil, err
	}
	requestBytes = size

	switch mode := m.config.Mode.(type) {
	case codegen.Sync:
		result, err = s.invokeSync(ctx, req, parts, mode)
		replyBytes = len(result)
		return result, err
	case codegen.Async:
		return nil, s.invokeAsync(req, parts, mode)
	default:
		return nil, fmt.Errorf("%w: unknown mode %T", ErrBadCallMode, mode)
	}
}

func (s *stub) encodeArgs(args []any) ([][]byte, error) {
	s.codecMu.Lock()
	defer s.codecMu.Unlock()

	encoded := make([][]byte, len(args))
	for i, arg := range args {
		data, err := s.codec.Encode(arg)
		if err != nil {
			s.codec.Reset()
			return nil, &SerializationError{Arg: i, Err: err}
		}
		encoded[i] = data
	}
	return encoded, nil
}

func (s *stub) send(req *Request, parts [][]byte) error {
	if err := s.channel.Send(req.ID, parts); err != nil {
		s.correlator.Evict(req.ID)
		if errors.Is(err, Unreachable) {
			return err
		}
		return fmt.Errorf("%w: %w", CommunicationError, err)
	}
	return nil
}

func (s *stub) invokeSync(ctx context.Context, req *Request, parts [][]byte, mode codegen.Sync) ([]byte, error) {
	cb := callback.NewSync()
	if err := s.correlator.Track(req.ID, cb); err != nil {
		return nil, err
	}
	if err := s.send(req, parts); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if mode.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, mode.Timeout)
		defer cancel()
	}

	if err := cb.Wait(waitCtx); err != nil {
		if _, ok := s.correlator.Evict(req.ID); !ok {
			// The response was taken by the reader and is being delivered.
			_ = cb.Wait(context.Background())
			return cb.ReturnValue()
		}

		payload, _ := cb.ReturnValue()
		if ctx.Err() != nil {
			return payload, ctx.Err()
		}
		cb.OnTimeout()
		s.logger.Debug("call timed out", "method", req.Method, "id", req.ID, "timeout", mode.Timeout)
		return payload, ErrTimeout
	}

	return cb.ReturnValue()
}

func (s *stub) invokeAsync(req *Request, parts [][]byte, mode codegen.Async) error {
	if mode.NewCallback == nil {
		return fmt.Errorf("%w: %s.%s", ErrBadCallMode, s.reg.Name, req.Method)
	}
	cb := mode.NewCallback()
	if cb == nil {
		return fmt.Errorf("%w: %s.%s: factory returned nil", ErrBadCallMode, s.reg.Name, req.Method)
	}
	if d, ok := cb.(callback.Decoding); ok {
		d.SetDecoder(s.Decode)
	}
	if s.callbacks != nil {
		cb = &dispatched{Callback: cb, d: s.callbacks}
	}

	if err := s.correlator.Track(req.ID, cb); err != nil {
		return err
	}
	return s.send(req, parts)
}

func (s *stub) Decode(data []byte, v any) error {
	s.codecMu.Lock()
	defer s.codecMu.Unlock()

	if err := s.codec.Decode(data, v); err != nil {
		s.codec.Reset()
		return err
	}
	return nil
}

// dispatched hands the response of an async call to a Dispatcher.
type dispatched struct {
	callback.Callback
	d *Dispatcher
}

func (d *dispatched) OnReceive(payload []byte, err error) {
	d.d.Go(func() {
		d.Callback.OnReceive(payload, err)
	})
}

// IsTimeout reports whether err came from a sync call that gave up waiting.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
