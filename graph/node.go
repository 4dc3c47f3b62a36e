package graph

import "context"

// End is the pseudo-node that terminates a run. Routing to End (via Stop or a
// static edge) finishes the run normally.
const End = "__end__"

// Node represents a processing unit in the workflow graph.
// It receives a copy of the committed state of type S and the run
// configuration, performs its work, and returns a NodeResult carrying a
// partial update of type U.
//
// Nodes are the fundamental building blocks of a workflow. Each node can:
//   - Read the current state (mutations to the copy are discarded)
//   - Perform blocking I/O (search calls, scoring calls)
//   - Return a partial update merged through the reducer
//   - Choose the next node explicitly (Goto) or defer to static edges
//   - Suspend the run awaiting an external decision
//   - Report a fault, which the engine routes to the recovery node
//
// Type parameter S is the state type, U the partial update type.
type Node[S, U any] interface {
	// Run executes the node's logic. It must not retain state after returning.
	Run(ctx context.Context, state S, cfg Config) NodeResult[U]
}

// NodeResult represents the output of a node execution.
//
// Exactly one outcome applies, checked in this order:
//   - Err != nil: the node faulted; Delta and Route are ignored
//   - Interrupt != nil: the node suspends; Delta and Route are ignored
//   - otherwise Delta is merged and Route selects the next node
type NodeResult[U any] struct {
	// Delta is the partial state update produced by this node.
	Delta U

	// Route specifies where execution continues.
	Route Next

	// Interrupt, when set, suspends the run at this node.
	Interrupt *Interrupt

	// Err reports a node fault.
	Err error
}

// RouteKind tags the variant held by Next.
type RouteKind int

const (
	// RouteContinue follows the statically declared edges of the node.
	RouteContinue RouteKind = iota

	// RouteGoto jumps to an explicitly named node.
	RouteGoto

	// RouteStop terminates the run.
	RouteStop
)

// String returns a readable name for the route kind.
func (k RouteKind) String() string {
	switch k {
	case RouteContinue:
		return "continue"
	case RouteGoto:
		return "goto"
	case RouteStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Next specifies the next step after a node completes. It is a tagged union:
// only To is meaningful, and only when Kind is RouteGoto.
type Next struct {
	Kind RouteKind
	To   string
}

// Continue returns a Next that follows the node's static edges.
func Continue() Next {
	return Next{Kind: RouteContinue}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{Kind: RouteGoto, To: nodeID}
}

// Stop returns a Next that terminates workflow execution.
func Stop() Next {
	return Next{Kind: RouteStop}
}

// Update builds a result that merges delta and follows static edges.
func Update[U any](delta U) NodeResult[U] {
	return NodeResult[U]{Delta: delta, Route: Continue()}
}

// Command builds a result that merges delta and jumps to target.
func Command[U any](target string, delta U) NodeResult[U] {
	return NodeResult[U]{Delta: delta, Route: Goto(target)}
}

// Suspend builds a result that suspends the run at the current node.
// The engine fills in the interrupt's thread and node.
func Suspend[U any](it Interrupt) NodeResult[U] {
	return NodeResult[U]{Interrupt: &it}
}

// Fail builds a faulted result.
func Fail[U any](err error) NodeResult[U] {
	return NodeResult[U]{Err: err}
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	verify := NodeFunc[State, Update](func(ctx context.Context, s State, cfg Config) NodeResult[Update] {
//	    return Command("prioritize", Update{Checked: true})
//	})
type NodeFunc[S, U any] func(ctx context.Context, state S, cfg Config) NodeResult[U]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S, U]) Run(ctx context.Context, state S, cfg Config) NodeResult[U] {
	return f(ctx, state, cfg)
}

// NodeError represents an error that occurred during node execution.
// It provides structured error information for better observability and debugging.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
