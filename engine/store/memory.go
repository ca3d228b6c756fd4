package store

import (
	"context"
	"errors"
	"sync"

	"github.com/flowcraft/flowengine/engine"
)

// MemoryStore is an in-memory engine.Store, suitable for tests and
// single-process development; it does not survive process restarts.
type MemoryStore struct {
	mu sync.RWMutex

	executions      map[string]*engine.Execution
	blockExecutions map[string][]*engine.BlockExecution
	events          map[string][]*engine.EventRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:      make(map[string]*engine.Execution),
		blockExecutions: make(map[string][]*engine.BlockExecution),
		events:          make(map[string][]*engine.EventRecord),
	}
}

// SaveExecution inserts or overwrites the Execution row keyed by e.ID.
func (m *MemoryStore) SaveExecution(ctx context.Context, e *engine.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

// LoadExecution returns the Execution for id, or ErrNotFound.
func (m *MemoryStore) LoadExecution(ctx context.Context, id string) (*engine.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// SaveBlockExecution appends or replaces the BlockExecution row matching
// b.ID within its execution's slice.
func (m *MemoryStore) SaveBlockExecution(ctx context.Context, b *engine.BlockExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	rows := m.blockExecutions[b.ExecutionID]
	for i, existing := range rows {
		if existing.ID == b.ID {
			rows[i] = &cp
			m.blockExecutions[b.ExecutionID] = rows
			return nil
		}
	}
	m.blockExecutions[b.ExecutionID] = append(rows, &cp)
	return nil
}

// AppendEvent stores e under its already-assigned Index (the emitter owns
// index assignment; the store only enforces UNIQUE(executionId, index)).
func (m *MemoryStore) AppendEvent(ctx context.Context, e *engine.EventRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.events[e.ExecutionID] {
		if existing.Index == e.Index {
			return 0, errors.New("store: duplicate event index")
		}
	}
	cp := *e
	m.events[e.ExecutionID] = append(m.events[e.ExecutionID], &cp)
	return e.Index, nil
}

// LoadEvents returns events for executionID with index >= fromIndex.
func (m *MemoryStore) LoadEvents(ctx context.Context, executionID string, fromIndex int64) ([]*engine.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.events[executionID]
	out := make([]*engine.EventRecord, 0, len(all))
	for _, e := range all {
		if e.Index >= fromIndex {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ engine.Store = (*MemoryStore)(nil)
