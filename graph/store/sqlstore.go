package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// dialect captures what differs between the SQL backends: DDL, the
// insert-if-absent form and the placeholder style.
type dialect struct {
	name string

	// schema holds idempotent DDL statements run by Setup.
	schema []string

	// insertCheckpoint inserts the first checkpoint of a thread and affects
	// zero rows when one already exists.
	insertCheckpoint string

	// dollar switches "?" placeholders to "$n".
	dollar bool
}

const (
	checkpointColumns = `thread_id, run_id, state, next_node, last_node, suspended,
		interrupt_payload, run_flags, commit_source, step, version, updated_at`

	updateCheckpointSQL = `
		UPDATE aidgraph_checkpoints SET
			run_id = ?, state = ?, next_node = ?, last_node = ?, suspended = ?,
			interrupt_payload = ?, run_flags = ?, commit_source = ?, step = ?, version = ?, updated_at = ?
		WHERE thread_id = ? AND version = ?
	`

	insertHistorySQL = `
		INSERT INTO aidgraph_history
			(thread_id, version, run_id, step, node_id, next_node, commit_source, suspended, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	loadCheckpointSQL = `
		SELECT ` + checkpointColumns + `
		FROM aidgraph_checkpoints
		WHERE thread_id = ?
	`

	historySQL = `
		SELECT thread_id, version, run_id, step, node_id, next_node, commit_source, suspended, committed_at
		FROM aidgraph_history
		WHERE thread_id = ?
		ORDER BY version ASC
	`
)

// sqlStore implements Store[S] over database/sql for any dialect.
// The backend types embed it and add driver-specific construction.
type sqlStore[S any] struct {
	db     *sql.DB
	d      dialect
	mu     sync.RWMutex
	closed bool
}

func newSQLStore[S any](db *sql.DB, d dialect) *sqlStore[S] {
	return &sqlStore[S]{db: db, d: d}
}

func (s *sqlStore[S]) q(query string) string {
	if !s.d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Setup creates the checkpoint and history tables if they don't exist.
func (s *sqlStore[S]) Setup(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s setup failed: %w", s.d.name, err)
		}
	}
	return nil
}

// Save commits cp and its history row in one transaction.
func (s *sqlStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	if err := validate(cp); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	interruptJSON, err := json.Marshal(cp.Interrupt)
	if err != nil {
		return fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	flagsJSON, err := json.Marshal(cp.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal run flags: %w", err)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	updatedAt := cp.UpdatedAt.UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after Commit

	var res sql.Result
	if cp.Version == 1 {
		res, err = tx.ExecContext(ctx, s.q(s.d.insertCheckpoint),
			cp.ThreadID, cp.RunID, string(stateJSON), cp.NextNode, cp.LastNode, cp.Suspended,
			string(interruptJSON), string(flagsJSON), cp.Source, cp.Step, cp.Version, updatedAt)
	} else {
		res, err = tx.ExecContext(ctx, s.q(updateCheckpointSQL),
			cp.RunID, string(stateJSON), cp.NextNode, cp.LastNode, cp.Suspended,
			string(interruptJSON), string(flagsJSON), cp.Source, cp.Step, cp.Version, updatedAt,
			cp.ThreadID, cp.Version-1)
	}
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: thread %s, write expects version %d",
			ErrVersionConflict, cp.ThreadID, cp.Version-1)
	}

	rec := Record(cp)
	if _, err := tx.ExecContext(ctx, s.q(insertHistorySQL),
		rec.ThreadID, rec.Version, rec.RunID, rec.Step, rec.NodeID, rec.NextNode,
		rec.Source, rec.Suspended, updatedAt); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Load returns the latest checkpoint for threadID.
func (s *sqlStore[S]) Load(ctx context.Context, threadID string) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := s.checkOpen(); err != nil {
		return cp, err
	}

	var (
		stateJSON     string
		interruptJSON sql.NullString
		flagsJSON     sql.NullString
		updatedAt     int64
	)
	err := s.db.QueryRowContext(ctx, s.q(loadCheckpointSQL), threadID).Scan(
		&cp.ThreadID, &cp.RunID, &stateJSON, &cp.NextNode, &cp.LastNode, &cp.Suspended,
		&interruptJSON, &flagsJSON, &cp.Source, &cp.Step, &cp.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, ErrNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return cp, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if interruptJSON.Valid && interruptJSON.String != "" {
		if err := json.Unmarshal([]byte(interruptJSON.String), &cp.Interrupt); err != nil {
			return cp, fmt.Errorf("failed to unmarshal interrupt: %w", err)
		}
	}
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &cp.Flags); err != nil {
			return cp, fmt.Errorf("failed to unmarshal run flags: %w", err)
		}
	}
	cp.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return cp, nil
}

// History returns the thread's commits, oldest first.
func (s *sqlStore[S]) History(ctx context.Context, threadID string) ([]StepRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(historySQL), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []StepRecord
	for rows.Next() {
		var (
			rec         StepRecord
			committedAt int64
		)
		if err := rows.Scan(&rec.ThreadID, &rec.Version, &rec.RunID, &rec.Step, &rec.NodeID,
			&rec.NextNode, &rec.Source, &rec.Suspended, &committedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.CommittedAt = time.Unix(0, committedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}

// Ping verifies the database connection is alive.
func (s *sqlStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// DB exposes the connection pool so other tables can share it.
func (s *sqlStore[S]) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
//
// After Close, all operations will return ErrClosed.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *sqlStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
