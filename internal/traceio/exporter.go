package traceio

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Writer writes finished spans as log records.
type Writer struct {
	mu     sync.Mutex
	logger *slog.Logger
	closed bool
}

var _ sdktrace.SpanExporter = (*Writer)(nil)

func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

func (w *Writer) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	for _, span := range spans {
		level := slog.LevelDebug
		if span.Status().Code == codes.Error {
			level = slog.LevelWarn
		}
		w.logger.LogAttrs(ctx, level, "span", spanAttrs(span)...)
	}
	return nil
}

func (w *Writer) Shutdown(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func spanAttrs(span sdktrace.ReadOnlySpan) []slog.Attr {
	sc := span.SpanContext()
	attrs := []slog.Attr{
		slog.String("name", span.Name()),
		slog.String("kind", span.SpanKind().String()),
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
		slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
	}
	if parent := span.Parent(); parent.HasSpanID() {
		attrs = append(attrs, slog.String("parent_span_id", parent.SpanID().String()))
	}
	if st := span.Status(); st.Code == codes.Error {
		attrs = append(attrs, slog.String("error", st.Description))
	}
	if len(span.Attributes()) > 0 {
		attrs = append(attrs, slog.Any("attributes", toArgs(span.Attributes())))
	}
	if n := len(span.Events()); n > 0 {
		attrs = append(attrs, slog.Int("events", n))
	}
	return attrs
}

func toArgs(kvs []attribute.KeyValue) slog.Value {
	attrs := make([]slog.Attr, len(kvs))
	for i, kv := range kvs {
		attrs[i] = slog.Any(string(kv.Key), kv.Value.AsInterface())
	}
	return slog.GroupValue(attrs...)
}
