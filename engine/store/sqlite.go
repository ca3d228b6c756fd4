package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowcraft/flowengine/engine"
)

// SQLiteStore is a SQLite-backed engine.Store.
//
// Designed for single-process deployments and local development: a single
// file (or ":memory:") holds executions, block executions, and the
// replayable event log. WAL mode lets readers (status polling, replay)
// proceed while a write is in flight; busy_timeout absorbs the brief
// contention SQLite's single-writer model otherwise surfaces as
// SQLITE_BUSY.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if absent) the database at path and
// migrates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			flow_version INTEGER NOT NULL,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			error TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			triggered_by TEXT NOT NULL,
			metrics TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_flow_id ON executions(flow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,

		`CREATE TABLE IF NOT EXISTS block_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			execution_path TEXT,
			fallback_reason TEXT,
			pattern_matched TEXT,
			match_confidence REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_block_executions_exec_id ON block_executions(execution_id)`,

		`CREATE TABLE IF NOT EXISTS events (
			execution_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (execution_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_execution_id ON events(execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// SaveExecution upserts the Execution row keyed by e.ID.
func (s *SQLiteStore) SaveExecution(ctx context.Context, e *engine.Execution) error {
	input, err := json.Marshal(e.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(e.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	var errJSON []byte
	if e.Err != nil {
		errJSON, err = json.Marshal(e.Err)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}
	triggeredBy, err := json.Marshal(e.TriggeredBy)
	if err != nil {
		return fmt.Errorf("marshal triggered_by: %w", err)
	}
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, flow_id, flow_version, status, input, output, error, started_at, completed_at, triggered_by, metrics, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow_id=excluded.flow_id, flow_version=excluded.flow_version, status=excluded.status,
			input=excluded.input, output=excluded.output, error=excluded.error,
			started_at=excluded.started_at, completed_at=excluded.completed_at,
			triggered_by=excluded.triggered_by, metrics=excluded.metrics, updated_at=excluded.updated_at
	`,
		e.ID, e.FlowID, e.FlowVersion, string(e.Status), string(input), string(output), nullableString(errJSON),
		nullableTime(e.StartedAt), nullableTime(e.CompletedAt), string(triggeredBy), string(metrics), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// LoadExecution returns the Execution for id, or ErrNotFound.
func (s *SQLiteStore) LoadExecution(ctx context.Context, id string) (*engine.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, flow_version, status, input, output, error, started_at, completed_at, triggered_by, metrics
		FROM executions WHERE id = ?
	`, id)

	var (
		e                      engine.Execution
		input, output, errJSON sql.NullString
		triggeredBy, metrics   string
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.FlowID, &e.FlowVersion, &e.Status, &input, &output, &errJSON,
		&startedAt, &completedAt, &triggeredBy, &metrics); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load execution: %w", err)
	}

	if input.Valid {
		if err := json.Unmarshal([]byte(input.String), &e.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &e.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if errJSON.Valid && errJSON.String != "" {
		e.Err = &engine.Error{}
		if err := json.Unmarshal([]byte(errJSON.String), e.Err); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(triggeredBy), &e.TriggeredBy); err != nil {
		return nil, fmt.Errorf("unmarshal triggered_by: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &e.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if startedAt.Valid {
		e.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = completedAt.Time
	}
	e.Status = engine.CanonicalStatus(string(e.Status))
	return &e, nil
}

// SaveBlockExecution upserts a BlockExecution row keyed by b.ID.
func (s *SQLiteStore) SaveBlockExecution(ctx context.Context, b *engine.BlockExecution) error {
	input, err := json.Marshal(b.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(b.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	var errJSON []byte
	if b.Err != nil {
		errJSON, err = json.Marshal(b.Err)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO block_executions
			(id, execution_id, node_id, status, input, output, error, started_at, completed_at,
			 duration_ms, execution_path, fallback_reason, pattern_matched, match_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, input=excluded.input, output=excluded.output, error=excluded.error,
			started_at=excluded.started_at, completed_at=excluded.completed_at, duration_ms=excluded.duration_ms,
			execution_path=excluded.execution_path, fallback_reason=excluded.fallback_reason,
			pattern_matched=excluded.pattern_matched, match_confidence=excluded.match_confidence
	`,
		b.ID, b.ExecutionID, b.NodeID, string(b.Status), string(input), string(output), nullableString(errJSON),
		nullableTime(b.StartedAt), nullableTime(b.CompletedAt), b.DurationMs, string(b.ExecutionPath),
		b.FallbackReason, b.PatternMatched, b.MatchConfidence,
	)
	if err != nil {
		return fmt.Errorf("save block execution: %w", err)
	}
	return nil
}

// AppendEvent persists e under its already-assigned Index, relying on the
// (execution_id, idx) primary key to surface a conflict as an error rather
// than silently reassigning the index (the emitter, not the store, owns
// index assignment).
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *engine.EventRecord) (int64, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (execution_id, idx, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)
	`, e.ExecutionID, e.Index, string(e.Kind), string(payload), e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return e.Index, nil
}

// LoadEvents returns events for executionID with index >= fromIndex, in
// index order.
func (s *SQLiteStore) LoadEvents(ctx context.Context, executionID string, fromIndex int64) ([]*engine.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, idx, kind, payload, created_at FROM events
		WHERE execution_id = ? AND idx >= ? ORDER BY idx ASC
	`, executionID, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []*engine.EventRecord
	for rows.Next() {
		var (
			e       engine.EventRecord
			payload string
		)
		if err := rows.Scan(&e.ExecutionID, &e.Index, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ engine.Store = (*SQLiteStore)(nil)
