package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on precedence:
// 1. NodePolicy.Timeout (per-node override)
// 2. defaultTimeout (engine-wide default)
// 3. 0 (no timeout, unlimited execution)
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNode runs node under its timeout and converts a panic into an error.
//
// The returned error is non-nil when the node panicked or exceeded its own
// timeout; both count as node faults. Cancellation of the parent context is
// not reported here; the caller checks ctx itself.
func executeNode[S, U any](
	ctx context.Context,
	node Node[S, U],
	nodeID string,
	state S,
	cfg Config,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (result NodeResult[U], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &NodeError{
				Message: fmt.Sprintf("panic: %v", r),
				Code:    "NODE_PANIC",
				NodeID:  nodeID,
				Cause:   fmt.Errorf("%v\n%s", r, debug.Stack()),
			}
		}
	}()

	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state, cfg), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result = node.Run(timeoutCtx, state, cfg)

	if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return result, &NodeError{
			Message: fmt.Sprintf("exceeded timeout of %v", timeout),
			Code:    "NODE_TIMEOUT",
			NodeID:  nodeID,
			Cause:   context.DeadlineExceeded,
		}
	}
	return result, nil
}
