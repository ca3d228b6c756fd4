package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowcraft/flowengine/engine"
)

// OTelSink creates one OpenTelemetry span per event. Spans are named after
// the event kind and immediately ended, appropriate for instantaneous
// events rather than durations; node_start/node_complete pairs are left to
// distributed-tracing correlation via the shared executionId/nodeId
// attributes rather than a shared span.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink returns a Sink backed by tracer (e.g. otel.Tracer("flowengine")).
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// NewDefaultOTelSink returns a Sink backed by the global TracerProvider's
// tracer named instrumentationName, for hosts that configure tracing
// through otel.SetTracerProvider rather than threading a trace.Tracer
// through their own wiring.
func NewDefaultOTelSink(instrumentationName string) *OTelSink {
	return NewOTelSink(otel.Tracer(instrumentationName))
}

// Observe starts and immediately ends a span for e.
func (o *OTelSink) Observe(e *engine.EventRecord) {
	_, span := o.tracer.Start(context.Background(), string(e.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", e.ExecutionID),
		attribute.Int64("index", e.Index),
	)
	for k, v := range e.Payload {
		switch tv := v.(type) {
		case string:
			span.SetAttributes(attribute.String("payload."+k, tv))
		case int:
			span.SetAttributes(attribute.Int("payload."+k, tv))
		case int64:
			span.SetAttributes(attribute.Int64("payload."+k, tv))
		case float64:
			span.SetAttributes(attribute.Float64("payload."+k, tv))
		case bool:
			span.SetAttributes(attribute.Bool("payload."+k, tv))
		}
	}

	if errStr, ok := e.Payload["error"].(string); ok {
		span.SetStatus(codes.Error, errStr)
		span.RecordError(fmt.Errorf("%s", errStr))
	}
}

var _ Sink = (*OTelSink)(nil)
