package graph

import "time"

// NodePolicy configures the execution behaviour of a single node.
//
// The engine never retries a node: a fault goes to the recovery node so that
// external side effects such as search calls are not duplicated. Retries of
// transient network errors belong to the collaborator making the call.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node.
	// If zero, Options.DefaultNodeTimeout is used.
	Timeout time.Duration
}

// FaultHandler builds the update the engine merges when nodeID faults with
// err at time at. The update typically appends one error-log entry and records
// the faulting node.
type FaultHandler[U any] func(nodeID string, err error, at time.Time) U
