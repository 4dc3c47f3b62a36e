// Package graph provides the durable graph execution engine behind aidgraph.
package graph

import "errors"

// ErrMaxStepsExceeded indicates that a run reached the maximum allowed step
// count without completing. This prevents infinite Search/confirmation loops.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrThreadBusy is returned when an invocation targets a thread that already
// has an execution in flight in this process.
var ErrThreadBusy = errors.New("thread already has an execution in flight")

// ErrNotSuspended is returned by Resume when the thread has no outstanding
// interrupt.
var ErrNotSuspended = errors.New("thread is not suspended")

// ErrInterruptMismatch is returned by Resume when the caller names a node
// other than the one the thread is suspended at.
var ErrInterruptMismatch = errors.New("resume targets a node that is not suspended")

// ErrRunPending is returned by Invoke when new input is supplied for a thread
// whose previous run stopped mid-way and has not been continued.
var ErrRunPending = errors.New("thread has an unfinished run; continue it before starting another")

// ErrMissingThreadID is returned when a Config carries no thread identifier.
var ErrMissingThreadID = errors.New("thread id is required")

// EngineError represents an error from Engine operations.
//
// Code is a machine-readable identifier such as "STORE_ERROR",
// "NODE_NOT_FOUND", "NO_ROUTE" or "REDUCER_ERROR". Cause, when set, is the
// underlying error and is reachable through errors.Is/As.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsStoreError reports whether err is a fatal persistence failure.
func IsStoreError(err error) bool {
	var engErr *EngineError
	return errors.As(err, &engErr) && engErr.Code == "STORE_ERROR"
}
