package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating an OpenTelemetry span per event.
//
// Each span has:
//   - Name: event.Msg
//   - Attributes: aidgraph.thread_id, aidgraph.run_id, aidgraph.step,
//     aidgraph.node_id and every Meta entry
//   - Status: error when Meta["error"] is set
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	emitter := emit.NewOTelEmitter(tp.Tracer("aidgraph"), tp)
type OTelEmitter struct {
	tracer  trace.Tracer
	flusher flusher
}

type flusher interface {
	ForceFlush(context.Context) error
}

// NewOTelEmitter creates an OTelEmitter. provider may be nil; when it
// supports ForceFlush, Flush delegates to it.
func NewOTelEmitter(tracer trace.Tracer, provider trace.TracerProvider) *OTelEmitter {
	o := &OTelEmitter{tracer: tracer}
	if f, ok := provider.(flusher); ok {
		o.flusher = f
	}
	return o
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("aidgraph.thread_id", event.ThreadID),
		attribute.String("aidgraph.run_id", event.RunID),
		attribute.Int("aidgraph.step", event.Step),
		attribute.String("aidgraph.node_id", event.NodeID),
	)
	o.addMetadataAttributes(span, event.Meta)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// Flush forces export of buffered spans. It is a no-op when the provider
// cannot flush.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	if o.flusher == nil {
		return nil
	}
	return o.flusher.ForceFlush(ctx)
}

// addMetadataAttributes converts event metadata to span attributes.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "aidgraph." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
