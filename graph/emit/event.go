package emit

// Event messages emitted by the engine.
const (
	MsgRunStart      = "run_start"
	MsgNodeComplete  = "node_complete"
	MsgNodeFault     = "node_fault"
	MsgRunSuspended  = "run_suspended"
	MsgRunResumed    = "run_resumed"
	MsgRunComplete   = "run_complete"
	MsgRunAborted    = "run_aborted"
	MsgCheckpointErr = "checkpoint_error"
)

// Event represents an observability event emitted during workflow execution.
//
// Events describe run starts, node completions and faults, suspensions,
// resumes and persistence failures. They are delivered to an Emitter which
// can log them, turn them into spans or keep them for inspection.
type Event struct {
	// ThreadID identifies the checkpoint lineage the event belongs to.
	ThreadID string

	// RunID identifies the run within the thread.
	RunID string

	// Step is the commit number within the run (1-indexed).
	// Zero for run-level events.
	Step int

	// NodeID identifies which node the event concerns.
	// Empty string for run-level events.
	NodeID string

	// Msg names the event, one of the Msg* constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": node execution duration in milliseconds
	//   - "error": fault or failure detail
	//   - "next_node": the node selected to run next
	//   - "interrupt_type": the kind of decision a suspension waits for
	Meta map[string]interface{}
}
