package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "distributed-download-service"

// tracerProvider is a local, non-exporting SDK provider: spans are created
// and ended (so context propagation and RecordError/SetStatus work) but
// never shipped anywhere, since exporting telemetry off-process is
// explicitly out of scope (spec §1). Wiring a real OTLP exporter here would
// just be a `sdktrace.WithBatcher(...)` call away if that scope ever
// changes.
var tracerProvider = sdktrace.NewTracerProvider()

func init() {
	otel.SetTracerProvider(tracerProvider)
}

// StartSpan implements the engine's consumed Telemetry.startSpan (spec §6).
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, trace.Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	return tracerProvider.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(kv...))
}

// RecordError implements the engine's consumed Telemetry.recordError (spec
// §6): it annotates the active span, if any, and is a no-op otherwise.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}
