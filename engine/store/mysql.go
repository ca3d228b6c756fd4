package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flowcraft/flowengine/engine"
)

// MySQLStore is a MySQL/MariaDB-backed engine.Store for production
// deployments with multiple orchestrator processes sharing one database:
// connection pooling and InnoDB's row locking let concurrent workers append
// events and persist block executions without the single-writer
// restriction SQLiteStore lives with.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params]
// e.g. "user:pass@tcp(127.0.0.1:3306)/flowengine?parseTime=true".
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens dsn and migrates its schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			flow_id VARCHAR(255) NOT NULL,
			flow_version INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			input JSON NOT NULL,
			output JSON,
			error JSON,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			triggered_by JSON NOT NULL,
			metrics JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_executions_flow_id (flow_id),
			INDEX idx_executions_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS block_executions (
			id VARCHAR(64) PRIMARY KEY,
			execution_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			input JSON,
			output JSON,
			error JSON,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			execution_path VARCHAR(32),
			fallback_reason VARCHAR(255),
			pattern_matched VARCHAR(255),
			match_confidence DOUBLE,
			INDEX idx_block_executions_exec_id (execution_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS events (
			execution_id VARCHAR(64) NOT NULL,
			idx BIGINT NOT NULL,
			kind VARCHAR(32) NOT NULL,
			payload JSON NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (execution_id, idx)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// SaveExecution upserts the Execution row keyed by e.ID.
func (s *MySQLStore) SaveExecution(ctx context.Context, e *engine.Execution) error {
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
			(id, flow_id, flow_version, status, input, output, error, started_at, completed_at, triggered_by, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			flow_id=VALUES(flow_id), flow_version=VALUES(flow_version), status=VALUES(status),
			input=VALUES(input), output=VALUES(output), error=VALUES(error),
			started_at=VALUES(started_at), completed_at=VALUES(completed_at),
			triggered_by=VALUES(triggered_by), metrics=VALUES(metrics)
	`,
		e.ID, e.FlowID, e.FlowVersion, string(e.Status), string(input), string(output), nullableString(errJSON),
		nullableTime(e.StartedAt), nullableTime(e.CompletedAt), string(triggeredBy), string(metrics),
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// LoadExecution returns the Execution for id, or ErrNotFound.
func (s *MySQLStore) LoadExecution(ctx context.Context, id string) (*engine.Execution, error) {
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
func (s *MySQLStore) SaveBlockExecution(ctx context.Context, b *engine.BlockExecution) error {
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
		ON DUPLICATE KEY UPDATE
			status=VALUES(status), input=VALUES(input), output=VALUES(output), error=VALUES(error),
			started_at=VALUES(started_at), completed_at=VALUES(completed_at), duration_ms=VALUES(duration_ms),
			execution_path=VALUES(execution_path), fallback_reason=VALUES(fallback_reason),
			pattern_matched=VALUES(pattern_matched), match_confidence=VALUES(match_confidence)
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

// AppendEvent persists e under its already-assigned Index; a duplicate
// (execution_id, idx) surfaces as a primary-key violation rather than a
// silent reassignment.
func (s *MySQLStore) AppendEvent(ctx context.Context, e *engine.EventRecord) (int64, error) {
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
func (s *MySQLStore) LoadEvents(ctx context.Context, executionID string, fromIndex int64) ([]*engine.EventRecord, error) {
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

var _ engine.Store = (*MySQLStore)(nil)
