package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kanengo/lightrpc/runtime/retry"
)

type connState int8

const (
	disconnected connState = iota
	connected
	closed
)

var connStateNames = []string{
	"disconnected",
	"connected",
	"closed",
}

func (s connState) String() string {
	return connStateNames[s]
}

// ClientConn is a connection to one serving process. It writes request
// frames for stubs and hands response frames to its Correlator. When the
// connection is lost every pending call fails and the connection is redialed
// in the background until Close.
type ClientConn struct {
	opts       ClientOptions
	endpoint   Endpoint
	logger     *slog.Logger
	correlator *Correlator

	wLock sync.Mutex

	mu             sync.Mutex
	state          connState
	c              net.Conn
	loggedShutdown bool

	cancel func()
	done   sync.WaitGroup
}

var _ Channel = (*ClientConn)(nil)

// Connect dials ep, retrying with backoff as configured by opts.Dial, and
// starts reading responses.
func Connect(ctx context.Context, ep Endpoint, opts ClientOptions) (*ClientConn, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("remote", ep.Address())
	c := &ClientConn{
		opts:       opts,
		endpoint:   ep,
		logger:     logger,
		correlator: NewCorrelator(ep.Address(), logger),
	}

	nc, err := c.dial(ctx, opts.Dial)
	if err != nil {
		return nil, err
	}
	c.c = nc
	c.state = connected

	manageCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done.Add(1)
	go c.manage(manageCtx, nc)

	return c, nil
}

func (c *ClientConn) Correlator() *Correlator {
	return c.correlator
}

func (c *ClientConn) Address() string {
	return c.endpoint.Address()
}

// Connected reports whether the connection is currently usable.
func (c *ClientConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connected
}

func (c *ClientConn) dial(ctx context.Context, opts retry.Options) (net.Conn, error) {
	var lastErr error
	for r := retry.BeginWithOptions(opts); r.Continue(ctx); {
		nc, err := c.endpoint.Dial(ctx)
		if err == nil {
			return nc, nil
		}
		lastErr = err
		logError(c.logger, "dial", err)
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("%w: %s: %w", Unreachable, c.endpoint.Address(), lastErr)
}

// manage reads responses from nc until it fails, then redials.
func (c *ClientConn) manage(ctx context.Context, nc net.Conn) {
	defer c.done.Done()

	redial := c.opts.Dial
	redial.MaxAttempts = 0

	for {
		err := readFrames(nc, c.opts.ReadBufferSize, func(id uint64, body []byte) error {
			resp, err := DecodeResponse(id, body)
			if err != nil {
				return err
			}
			c.correlator.Resolve(resp)
			return nil
		})
		c.fail("client read", nc, err)
		if ctx.Err() != nil {
			return
		}

		next, err := c.dial(ctx, redial)
		if err != nil {
			return
		}

		c.mu.Lock()
		if c.state == closed {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.c = next
		c.state = connected
		c.loggedShutdown = false
		c.mu.Unlock()

		c.logger.Info("reconnected")
		nc = next
	}
}

// fail closes nc and fails every pending call.
func (c *ClientConn) fail(details string, nc net.Conn, err error) {
	c.mu.Lock()
	if c.c == nc {
		c.c = nil
		if c.state == connected {
			c.state = disconnected
		}
	}
	logged := c.loggedShutdown
	c.loggedShutdown = true
	c.mu.Unlock()

	_ = nc.Close()
	if !logged {
		logError(c.logger, details, err)
	}

	c.correlator.FailAll(fmt.Errorf("%w: %s: %w", CommunicationError, details, err))
}

// Send writes one request frame. A failed write closes the connection so
// that the reader fails the remaining calls and redials.
func (c *ClientConn) Send(id uint64, body [][]byte) error {
	c.mu.Lock()
	nc, state := c.c, c.state
	c.mu.Unlock()

	if state != connected || nc == nil {
		return fmt.Errorf("%w: %s is %v", Unreachable, c.endpoint.Address(), state)
	}

	if err := writeFrame(nc, &c.wLock, id, body, c.opts.WriteFlattenLimit); err != nil {
		if !errors.Is(err, ErrFrameTooLarge) {
			_ = nc.Close()
		}
		return err
	}

	return nil
}

// Close closes the connection and fails every pending call.
func (c *ClientConn) Close() error {
	c.mu.Lock()
	if c.state == closed {
		c.mu.Unlock()
		return nil
	}
	c.state = closed
	nc := c.c
	c.c = nil
	c.mu.Unlock()

	c.cancel()
	if nc != nil {
		_ = nc.Close()
	}
	c.done.Wait()

	c.correlator.FailAll(fmt.Errorf("%w: connection closed", CommunicationError))
	return nil
}

// readFrames reads r in chunks of up to size bytes and calls fn for every
// complete frame. It returns the first read, framing or fn error.
func readFrames(r io.Reader, size int, fn func(id uint64, body []byte) error) error {
	buf := make([]byte, size)
	var dec Decoder
	for {
		n, err := r.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				id, body, ferr := dec.Next()
				if errors.Is(ferr, ErrIncomplete) {
					break
				}
				if ferr != nil {
					return ferr
				}
				if ferr := fn(id, body); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

func logError(logger *slog.Logger, details string, err error) {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) {
		logger.Info(details, "err", err)
	} else {
		logger.Error(details, "err", err)
	}
}

// serverConnection is one accepted connection.
type serverConnection struct {
	opts   ServerOptions
	c      net.Conn
	ctx    context.Context
	cancel func()
	wLock  sync.Mutex
	mu     sync.Mutex
	closed bool
}

// readRequests reads frames sent by the client and runs a handler for each
// request on the worker group.
func (c *serverConnection) readRequests(hmap *HandlerMap, workers *errgroup.Group, onDone func()) {
	defer onDone()

	err := readFrames(c.c, c.opts.ReadBufferSize, func(id uint64, body []byte) error {
		req, err := DecodeRequest(id, body)
		if err != nil {
			return err
		}
		workers.Go(func() error {
			c.runHandler(hmap, req)
			return nil
		})
		return nil
	})
	c.shutdown("server read", err)
}

// shutdown closes the connection and cancels running handlers.
func (c *serverConnection) shutdown(details string, err error) {
	_ = c.c.Close()
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		logError(c.opts.Logger, "shutdown: "+details, err)
	}
}

func (c *serverConnection) runHandler(hmap *HandlerMap, req *Request) {
	entry, err := hmap.lookup(req.InterfaceID, req.Method)
	name := req.Method
	if err == nil {
		name = entry.name
	}

	ctx, span := c.opts.Tracer.Start(c.ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Int64("lightrpc.interface_id", req.InterfaceID)))
	defer span.End()

	var result []byte
	if err == nil {
		requestBytes := 0
		for _, arg := range req.Args {
			requestBytes += len(arg)
		}
		h := entry.metrics.Begin()
		result, err = entry.handler(ctx, c.opts.NewCodec(), req.Args)
		entry.metrics.End(h, err != nil, requestBytes, len(result))
	}

	if err != nil {
		result = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	resp := &Response{ID: req.ID, Payload: result, Err: err}
	if err := writeFrame(c.c, &c.wLock, req.ID, responseParts(resp), c.opts.WriteFlattenLimit); err != nil {
		c.shutdown("server write "+name, err)
	}
}

// serverState tracks the connections of one Serve call.
type serverState struct {
	opts    ServerOptions
	hmap    *HandlerMap
	workers *errgroup.Group
	readers sync.WaitGroup

	mu    sync.Mutex
	conns map[*serverConnection]struct{}
}

func (ss *serverState) stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for c := range ss.conns {
		_ = c.c.Close()
		c.cancel()
	}
}

func (ss *serverState) serveConnection(ctx context.Context, conn net.Conn) {
	cctx, cancel := context.WithCancel(ctx)
	c := &serverConnection{
		opts:   ss.opts,
		c:      conn,
		ctx:    cctx,
		cancel: cancel,
	}
	ss.register(c)

	ss.readers.Add(1)
	go c.readRequests(ss.hmap, ss.workers, func() {
		ss.unregister(c)
		ss.readers.Done()
	})
}

func (ss *serverState) register(c *serverConnection) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.conns == nil {
		ss.conns = make(map[*serverConnection]struct{})
	}
	ss.conns[c] = struct{}{}
}

func (ss *serverState) unregister(c *serverConnection) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.conns, c)
}

// Serve accepts connections on l and dispatches their requests through hmap
// until ctx is done or accepting fails. It closes l and every accepted
// connection, and waits for running handlers, before returning.
func Serve(ctx context.Context, l net.Listener, hmap *HandlerMap, opts ServerOptions) error {
	opts = opts.withDefaults()

	workers := &errgroup.Group{}
	if opts.Workers > 0 {
		workers.SetLimit(opts.Workers)
	}
	ss := &serverState{opts: opts, hmap: hmap, workers: workers}

	acceptors, actx := errgroup.WithContext(ctx)
	go func() {
		<-actx.Done()
		_ = l.Close()
	}()

	for i := 0; i < opts.Acceptors; i++ {
		acceptors.Go(func() error {
			for {
				conn, err := l.Accept()
				if err != nil {
					if actx.Err() != nil {
						return nil
					}
					return fmt.Errorf("call server error listening on %s: %w", l.Addr(), err)
				}
				ss.serveConnection(actx, conn)
			}
		})
	}

	err := acceptors.Wait()
	_ = l.Close()
	ss.stop()
	ss.readers.Wait()
	_ = workers.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
