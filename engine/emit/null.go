package emit

import (
	"context"

	"github.com/flowcraft/flowengine/engine"
)

// NullSink discards every event. Useful to make a Sink list explicit in
// configuration without special-casing "no sink configured".
type NullSink struct{}

// NewNullSink returns a Sink that discards everything.
func NewNullSink() *NullSink { return &NullSink{} }

// Observe is a no-op.
func (n *NullSink) Observe(e *engine.EventRecord) {}

var _ Sink = (*NullSink)(nil)

// NullEmitter is a zero-overhead engine.Emitter that discards every event
// without touching a Store: useful in unit tests exercising node executors
// in isolation, where persistence and replay are not under test.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards all events.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(ctx context.Context, kind engine.EventKind, payload map[string]interface{}) error {
	return nil
}

func (n *NullEmitter) Subscribe(listener func(*engine.EventRecord)) func() {
	return func() {}
}

func (n *NullEmitter) Replay(ctx context.Context, fromIndex int64) ([]*engine.EventRecord, error) {
	return nil, nil
}

func (n *NullEmitter) Close() {}

var _ engine.Emitter = (*NullEmitter)(nil)
