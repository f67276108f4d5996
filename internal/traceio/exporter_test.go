package traceio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewWriter(logger)))
	defer provider.Shutdown(context.Background())

	_, span := provider.Tracer("test").Start(context.Background(), "Greeter.Hello",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("lightrpc.interface_id", 7)))
	span.RecordError(errors.New("boom"))
	span.SetStatus(codes.Error, "boom")
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if got, want := rec["level"], "WARN"; got != want {
		t.Errorf("level = %v, want %v", got, want)
	}
	if got, want := rec["name"], "Greeter.Hello"; got != want {
		t.Errorf("name = %v, want %v", got, want)
	}
	if got, want := rec["kind"], "client"; got != want {
		t.Errorf("kind = %v, want %v", got, want)
	}
	if got, want := rec["error"], "boom"; got != want {
		t.Errorf("error = %v, want %v", got, want)
	}
	attrs, ok := rec["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes = %v", rec["attributes"])
	}
	if got, want := attrs["lightrpc.interface_id"], float64(7); got != want {
		t.Errorf("interface id = %v, want %v", got, want)
	}
}

func TestWriterShutdown(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	provider := sdktrace.NewTracerProvider()
	_, span := provider.Tracer("test").Start(context.Background(), "x")
	span.End()
	if err := w.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{span.(sdktrace.ReadOnlySpan)}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q after shutdown", buf.String())
	}
}
