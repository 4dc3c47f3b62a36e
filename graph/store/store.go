package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested thread has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by Save when the stored checkpoint version is
// not the one the writer expected. It means another execution committed to
// the same thread in between.
var ErrVersionConflict = errors.New("checkpoint version conflict")

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Commit sources recorded with each history row.
const (
	// SourceInput marks the checkpoint written when a run starts.
	SourceInput = "input"

	// SourceLoop marks a checkpoint written after a node completed.
	SourceLoop = "loop"

	// SourceInterrupt marks a checkpoint written when a node suspended.
	SourceInterrupt = "interrupt"
)

// Interrupt is the suspension payload persisted with a suspended checkpoint.
type Interrupt struct {
	// Type names the kind of decision requested, e.g. "sai_confirmation".
	Type string `json:"type"`

	// Message is the user-facing prompt.
	Message string `json:"message"`

	// ThreadID is the thread the interrupt belongs to.
	ThreadID string `json:"thread_id"`

	// Node is the node that suspended and will be re-entered on resume.
	Node string `json:"node"`

	// Payload carries optional extra fields for the caller.
	Payload map[string]any `json:"payload,omitempty"`
}

// Checkpoint is the durable record of a thread: the state as of the last
// committed node plus the pointer to the node that runs next.
//
// Type parameter S is the state type.
type Checkpoint[S any] struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
	State    S      `json:"state"`

	// NextNode is the node to run next. For a suspended checkpoint it is the
	// suspended node. An empty value or the end marker means the run finished.
	NextNode string `json:"next_node"`

	// LastNode is the node whose completion produced this checkpoint.
	LastNode string `json:"last_node"`

	Suspended bool       `json:"suspended"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`

	// Flags are the run switches fixed when the run started. Continuing or
	// resuming the run reuses them.
	Flags map[string]bool `json:"flags,omitempty"`

	// Source tells how the checkpoint was produced (SourceInput, SourceLoop,
	// SourceInterrupt).
	Source string `json:"source"`

	// Step counts commits within the current run.
	Step int `json:"step"`

	// Version increases by one per commit on the thread. Save expects the
	// stored version to be Version-1.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord is one row of a thread's commit history.
type StepRecord struct {
	ThreadID    string    `json:"thread_id"`
	RunID       string    `json:"run_id"`
	Version     int64     `json:"version"`
	Step        int       `json:"step"`
	NodeID      string    `json:"node_id"`
	NextNode    string    `json:"next_node"`
	Source      string    `json:"source"`
	Suspended   bool      `json:"suspended"`
	CommittedAt time.Time `json:"committed_at"`
}

// Store provides durable checkpoint persistence keyed by thread.
//
// Implementations:
//   - MemStore: in-memory, for tests and development
//   - SQLiteStore: single-file database (modernc.org/sqlite)
//   - MySQLStore: MySQL/MariaDB
//   - PostgresStore: PostgreSQL
//   - FileStore: one JSON document per thread with atomic renames
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type Store[S any] interface {
	// Setup creates the backing storage if needed. It is idempotent and safe
	// to call on every process start.
	Setup(ctx context.Context) error

	// Save commits cp as the thread's latest checkpoint and appends a history
	// row in the same unit of work. It must be durable before returning.
	// Returns ErrVersionConflict when the stored version is not cp.Version-1.
	Save(ctx context.Context, cp Checkpoint[S]) error

	// Load returns the latest committed checkpoint for the thread, or
	// ErrNotFound for a thread that has never been saved.
	Load(ctx context.Context, threadID string) (Checkpoint[S], error)

	// History returns the thread's commit history, oldest first.
	History(ctx context.Context, threadID string) ([]StepRecord, error)

	// Close releases resources. Calling Close more than once is a no-op.
	Close() error
}

// Record builds the history row for a checkpoint commit.
func Record[S any](cp Checkpoint[S]) StepRecord {
	return StepRecord{
		ThreadID:    cp.ThreadID,
		RunID:       cp.RunID,
		Version:     cp.Version,
		Step:        cp.Step,
		NodeID:      cp.LastNode,
		NextNode:    cp.NextNode,
		Source:      cp.Source,
		Suspended:   cp.Suspended,
		CommittedAt: cp.UpdatedAt,
	}
}

// CompletedNodes returns the IDs of nodes that completed, in commit order.
// Suspension and run-start rows are skipped.
func CompletedNodes(records []StepRecord) []string {
	nodes := make([]string, 0, len(records))
	for _, r := range records {
		if r.Source == SourceLoop {
			nodes = append(nodes, r.NodeID)
		}
	}
	return nodes
}

func validate[S any](cp Checkpoint[S]) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread id is required")
	}
	if cp.Version < 1 {
		return fmt.Errorf("checkpoint version must be >= 1, got %d", cp.Version)
	}
	return nil
}
