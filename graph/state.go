package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a partial update of type U into the previous state S.
//
// Reducers must be pure and total: the same inputs always produce the same
// output, and prev must not be modified in place (slices are cloned before
// appending). A reducer error is treated as a fault of the node that produced
// the update.
type Reducer[S, U any] func(prev S, delta U) (S, error)

// deepCopy creates a deep copy of state S using JSON round-trip serialization.
//
// Nodes receive a copy so that any mutation they make to slices, maps or
// pointed-to values never leaks into the committed state. This works for any
// JSON-marshalable type; unexported fields are not copied.
//
// Usage:
//
//	copied, err := deepCopy(state)
//	if err != nil {
//	    return err
//	}
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
