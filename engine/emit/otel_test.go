package emit

import (
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flowcraft/flowengine/engine"
)

func setupTestTracer(t *testing.T) (*tracetest.SpanRecorder, *OTelSink) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, NewOTelSink(tp.Tracer("flowengine-test"))
}

func TestOTelSink_EmitsOneSpanPerEvent(t *testing.T) {
	recorder, sink := setupTestTracer(t)

	sink.Observe(&engine.EventRecord{
		ExecutionID: "exec-1",
		Index:       3,
		Kind:        engine.EventNodeComplete,
		CreatedAt:   time.Now(),
		Payload:     map[string]interface{}{"nodeId": "n1"},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Name() != string(engine.EventNodeComplete) {
		t.Errorf("expected span name %q, got %q", engine.EventNodeComplete, spans[0].Name())
	}
}

func TestOTelSink_RecordsErrorStatus(t *testing.T) {
	recorder, sink := setupTestTracer(t)

	sink.Observe(&engine.EventRecord{
		ExecutionID: "exec-1",
		Index:       1,
		Kind:        engine.EventNodeError,
		Payload:     map[string]interface{}{"error": "sandbox timeout"},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Status().Description != "sandbox timeout" {
		t.Errorf("expected status description to carry the error, got %q", spans[0].Status().Description)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected RecordError to add a span event")
	}
}

func TestOTelSink_AttributesCoverPayloadTypes(t *testing.T) {
	recorder, sink := setupTestTracer(t)

	sink.Observe(&engine.EventRecord{
		ExecutionID: "exec-2",
		Index:       7,
		Kind:        engine.EventNodeStream,
		Payload: map[string]interface{}{
			"chunk":    "hello",
			"attempt":  2,
			"bytes":    int64(128),
			"score":    0.95,
			"streamed": true,
		},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	attrs := spans[0].Attributes()
	if len(attrs) == 0 {
		t.Fatal("expected span attributes to be set")
	}
	seen := make(map[string]bool)
	for _, a := range attrs {
		seen[string(a.Key)] = true
	}
	for _, key := range []string{"execution_id", "index", "payload.chunk", "payload.attempt", "payload.bytes", "payload.score", "payload.streamed"} {
		if !seen[key] {
			t.Errorf("expected attribute %q to be set, got %v", key, attrs)
		}
	}
}

func TestNewDefaultOTelSink_UsesGlobalProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prevTP)

	sink := NewDefaultOTelSink("flowengine-test")
	sink.Observe(&engine.EventRecord{ExecutionID: "exec-3", Index: 0, Kind: engine.EventExecutionStart})

	if len(recorder.Ended()) != 1 {
		t.Fatalf("expected 1 ended span via the global provider, got %d", len(recorder.Ended()))
	}
}

var _ Sink = (*OTelSink)(nil)
