package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS aidgraph_checkpoints (
			thread_id TEXT NOT NULL PRIMARY KEY,
			run_id TEXT NOT NULL,
			state TEXT NOT NULL,
			next_node TEXT NOT NULL,
			last_node TEXT NOT NULL,
			suspended INTEGER NOT NULL DEFAULT 0,
			interrupt_payload TEXT,
			run_flags TEXT,
			commit_source TEXT NOT NULL,
			step INTEGER NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS aidgraph_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			next_node TEXT NOT NULL,
			commit_source TEXT NOT NULL,
			suspended INTEGER NOT NULL DEFAULT 0,
			committed_at INTEGER NOT NULL,
			UNIQUE(thread_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_thread ON aidgraph_history(thread_id)`,
	},
	insertCheckpoint: `
		INSERT INTO aidgraph_checkpoints (` + checkpointColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO NOTHING
	`,
}

// SQLiteStore is a SQLite implementation of Store[S].
//
// It stores checkpoints in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments
//   - Local runs that must survive restarts
//
// SQLiteStore uses WAL mode and a single connection; every Save is one
// transaction covering the checkpoint upsert and its history row.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	*sqlStore[S]
	path string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store and runs
// Setup.
//
// The path parameter specifies the database file location:
//   - "./aidgraph.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := NewSQLiteStore[discovery.WorkflowState]("./aidgraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	st := &SQLiteStore[S]{
		sqlStore: newSQLStore[S](db, sqliteDialect),
		path:     path,
	}
	if err := st.Setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}
