package graph

// Edge represents a static connection between two nodes in the workflow graph.
//
// Edges define the default control flow between nodes. They can be:
// - Unconditional: Always traverse (When = nil).
// - Conditional: Only traverse if predicate returns true (When != nil).
//
// A node that returns Goto or Stop overrides its edges. Edges are consulted
// only when a node returns Continue, and the first matching edge in
// declaration order wins.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID, or End.
	To string

	// When is an optional predicate evaluated against the merged state.
	// If nil, the edge is unconditional.
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge should be traversed.
//
// Predicates should be pure functions (deterministic, no side effects); they
// see the state after the source node's update has been merged.
//
// Type parameter S is the state type to evaluate.
type Predicate[S any] func(state S) bool

// matches reports whether the edge leaves from nodeID and its predicate holds.
func (e Edge[S]) matches(nodeID string, state S) bool {
	if e.From != nodeID {
		return false
	}
	return e.When == nil || e.When(state)
}
