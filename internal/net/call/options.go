package call

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kanengo/lightrpc/runtime/codegen"
	"github.com/kanengo/lightrpc/runtime/logging"
	"github.com/kanengo/lightrpc/runtime/retry"
)

const (
	defaultWriteFlattenLimit = 4 << 10
	defaultReadBufferSize    = 32 << 10
)

type ClientOptions struct {
	Logger *slog.Logger

	// Dial controls the backoff between connection attempts. MaxAttempts
	// bounds the initial connect only; after a connection is lost the client
	// keeps redialing until closed.
	Dial retry.Options

	// Frames smaller than this limit are copied into one buffer before being
	// written. Zero selects a default; a negative value always writes
	// vectors.
	WriteFlattenLimit int

	ReadBufferSize int
}

func (c ClientOptions) withDefaults() ClientOptions {
	if c.Logger == nil {
		c.Logger = logging.StderrLogger(logging.Options{Role: "client", Component: "conn"})
	}

	if c.Dial.BackOffMinDuration == 0 {
		c.Dial.BackOffMinDuration = 10 * time.Millisecond
	}
	if c.Dial.BackOffMaxDuration == 0 {
		c.Dial.BackOffMaxDuration = time.Second
	}
	if c.Dial.BackOffMultiplier == 0 {
		c.Dial.BackOffMultiplier = 1.5
	}

	if c.WriteFlattenLimit == 0 {
		c.WriteFlattenLimit = defaultWriteFlattenLimit
	}

	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}

	return c
}

type ServerOptions struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	// NewCodec builds the codec of each request.
	NewCodec codegen.NewCodecFunc

	// Acceptors is the number of goroutines accepting connections.
	Acceptors int

	// Workers bounds the number of handlers running at once across all
	// connections. Zero or less means no bound.
	Workers int

	WriteFlattenLimit int
	ReadBufferSize    int
}

func (s ServerOptions) withDefaults() ServerOptions {
	if s.Logger == nil {
		s.Logger = logging.StderrLogger(logging.Options{Role: "server", Component: "conn"})
	}
	if s.Tracer == nil {
		s.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if s.NewCodec == nil {
		s.NewCodec = func() codegen.Codec { return codegen.NewBinaryCodec() }
	}

	if s.Acceptors <= 0 {
		s.Acceptors = 1
	}

	if s.WriteFlattenLimit == 0 {
		s.WriteFlattenLimit = defaultWriteFlattenLimit
	}

	if s.ReadBufferSize <= 0 {
		s.ReadBufferSize = defaultReadBufferSize
	}

	return s
}
