// Package emit provides the concrete Emitter implementations that back
// engine.Emitter: a store-persisted, subscriber-fanned-out event stream
// per execution, plus pluggable Sinks for logging and tracing.
package emit

import (
	"context"
	"sync"
	"time"

	"github.com/flowcraft/flowengine/engine"
)

// Sink observes every event a StreamEmitter emits, after persistence and
// fan-out, for side effects such as structured logging or span creation.
// A Sink must not block or panic; StreamEmitter recovers panics from Sink
// calls so one broken sink cannot take down the emitter.
type Sink interface {
	Observe(e *engine.EventRecord)
}

// persistRetries and persistBackoffUnit implement the emitter's "3
// attempts, 100ms*attempt" persistence retry contract.
const (
	persistRetries     = 3
	persistBackoffUnit = 100 * time.Millisecond
)

// StreamEmitter is the engine.Emitter implementation: it assigns monotonic
// indices, persists through a Store with bounded retry, and fans out
// synchronously to live subscribers. A failed final persistence attempt
// logs (via its sinks) but never blocks delivery to subscribers.
type StreamEmitter struct {
	mu sync.Mutex

	store       engine.Store
	executionID string
	nextIndex   int64

	listeners  map[int]func(*engine.EventRecord)
	listenerID int

	sinks  []Sink
	closed bool
}

// NewStreamEmitter returns an emitter scoped to one execution, persisting
// through store and notifying every sink after each successful emit.
func NewStreamEmitter(store engine.Store, executionID string, sinks ...Sink) *StreamEmitter {
	return &StreamEmitter{
		store:       store,
		executionID: executionID,
		listeners:   make(map[int]func(*engine.EventRecord)),
		sinks:       sinks,
	}
}

// Emit assigns the next index, persists the event with retry, and fans out
// to subscribers and sinks. Emits after Close are dropped: the event is
// neither persisted nor delivered, and a warning record of kind
// "emit_after_close_warning" is reported to the sinks instead.
func (s *StreamEmitter) Emit(ctx context.Context, kind engine.EventKind, payload map[string]interface{}) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.notifySinks(&engine.EventRecord{
			ExecutionID: s.executionID, Kind: "emit_after_close_warning",
			Payload: map[string]interface{}{"droppedKind": string(kind)}, CreatedAt: time.Now(),
		})
		return nil
	}
	idx := s.nextIndex
	s.nextIndex++
	s.mu.Unlock()

	rec := &engine.EventRecord{
		ExecutionID: s.executionID,
		Index:       idx,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}

	var lastErr error
	for attempt := 1; attempt <= persistRetries; attempt++ {
		if _, err := s.store.AppendEvent(ctx, rec); err != nil {
			lastErr = err
			time.Sleep(persistBackoffUnit * time.Duration(attempt))
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		s.notifySinks(&engine.EventRecord{
			ExecutionID: s.executionID, Index: idx, Kind: "persistence_warning",
			Payload: map[string]interface{}{"error": lastErr.Error()}, CreatedAt: time.Now(),
		})
	}

	s.fanOut(rec)
	s.notifySinks(rec)
	return nil
}

func (s *StreamEmitter) fanOut(rec *engine.EventRecord) {
	s.mu.Lock()
	listeners := make([]func(*engine.EventRecord), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		s.safeNotify(l, rec)
	}
}

func (s *StreamEmitter) safeNotify(listener func(*engine.EventRecord), rec *engine.EventRecord) {
	defer func() { _ = recover() }()
	listener(rec)
}

func (s *StreamEmitter) notifySinks(rec *engine.EventRecord) {
	for _, sink := range s.sinks {
		s.safeObserve(sink, rec)
	}
}

func (s *StreamEmitter) safeObserve(sink Sink, rec *engine.EventRecord) {
	defer func() { _ = recover() }()
	sink.Observe(rec)
}

// Subscribe registers listener and returns a function that removes it.
// Listener panics are caught and never propagate to the caller of Emit.
func (s *StreamEmitter) Subscribe(listener func(*engine.EventRecord)) func() {
	s.mu.Lock()
	id := s.listenerID
	s.listenerID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Replay returns persisted events with index >= fromIndex, ordered
// ascending, for reconnecting subscribers.
func (s *StreamEmitter) Replay(ctx context.Context, fromIndex int64) ([]*engine.EventRecord, error) {
	return s.store.LoadEvents(ctx, s.executionID, fromIndex)
}

// Close marks the emitter closed and clears its listeners.
func (s *StreamEmitter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[int]func(*engine.EventRecord))
}

var _ engine.Emitter = (*StreamEmitter)(nil)
