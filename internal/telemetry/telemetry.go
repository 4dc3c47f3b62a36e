// Package telemetry sets up the OpenTelemetry tracer provider used by
// emit.OTelEmitter. Finished spans are written to a slog logger.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider returns a batching provider that logs spans at debug
// level. Call Shutdown to flush before exit.
func NewTracerProvider(serviceName string, logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
}

// LogExporter implements sdktrace.SpanExporter over slog.
type LogExporter struct {
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// NewLogExporter creates a LogExporter.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans logs each span. Spans with an error status are logged at warn.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}

	for _, s := range spans {
		attrs := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration", s.EndTime().Sub(s.StartTime()),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}

		level := slog.LevelDebug
		if s.Status().Code == codes.Error {
			level = slog.LevelWarn
			attrs = append(attrs, "status", s.Status().Description)
		}
		e.logger.Log(ctx, level, "trace span", attrs...)
	}
	return nil
}

// Shutdown stops the exporter; later exports are dropped.
func (e *LogExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}
