// Package store provides engine.Store implementations: an in-memory store
// for tests, and SQLite/MySQL-backed stores for production persistence of
// Executions, BlockExecutions, and the replayable event log.
package store

import "errors"

// ErrNotFound is returned by LoadExecution when no row matches the given ID.
var ErrNotFound = errors.New("store: not found")
