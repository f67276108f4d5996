package lightrpc

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kanengo/lightrpc/internal/traceio"
	"github.com/kanengo/lightrpc/runtime/traces"
	"github.com/kanengo/lightrpc/runtime/version"
)

const instrumentationLibrary = "github.com/kanengo/lightrpc"

// tracing selects where the spans of a client or server go.
type tracing struct {
	exporter sdktrace.SpanExporter // from Options
	logSpans bool                  // log spans at debug level
	db       string                // sqlite trace database, "default" for the data dir
}

// tracer returns the tracer of a client or server and the provider to shut
// down with it. Without any destination calls are not traced and the provider
// is nil.
func (t tracing) tracer(ctx context.Context, logger *slog.Logger, app, role, instance string) (trace.Tracer, *sdktrace.TracerProvider, error) {
	var exporters []sdktrace.SpanExporter
	if t.exporter != nil {
		exporters = append(exporters, t.exporter)
	}
	if t.logSpans {
		exporters = append(exporters, traceio.NewWriter(logger.With("component", "trace")))
	}
	if t.db != "" {
		file := t.db
		if file == "default" {
			var err error
			if file, err = traces.DefaultFile(); err != nil {
				return nil, nil, err
			}
		}
		db, err := traces.OpenDB(ctx, file)
		if err != nil {
			return nil, nil, err
		}
		exporters = append(exporters, db.Exporter(app, version.Version.String()))
	}
	if len(exporters) == 0 {
		return noop.NewTracerProvider().Tracer(instrumentationLibrary), nil, nil
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(app),
			semconv.ServiceInstanceID(instance),
			semconv.ProcessPID(os.Getpid()),
			traceio.App(app),
			traceio.Role(role),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	for _, e := range exporters {
		opts = append(opts, sdktrace.WithBatcher(e))
	}
	provider := sdktrace.NewTracerProvider(opts...)

	return provider.Tracer(instrumentationLibrary, trace.WithInstrumentationVersion(version.Version.String())), provider, nil
}
