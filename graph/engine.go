package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/aidgraph/graph/emit"
	"github.com/dshills/aidgraph/graph/store"
)

// Engine orchestrates durable, resumable workflow execution.
//
// It manages the workflow graph (nodes, edges, routing), state merging via
// the reducer, checkpoint persistence after every node, suspension and
// resumption, and fault containment through a recovery node.
//
// Nodes of one thread run strictly one after another: each step is fully
// invoked, merged and persisted before the next node starts. Different
// threads may run concurrently on the same Engine.
//
// Type parameters: S is the state type, U the partial update type.
type Engine[S, U any] struct {
	mu sync.RWMutex

	reducer  Reducer[S, U]
	nodes    map[string]Node[S, U]
	policies map[string]NodePolicy
	edges    []Edge[S]

	startNode    string
	recoveryNode string
	onFault      FaultHandler[U]

	store   store.Store[S]
	emitter emit.Emitter
	opts    Options
	optErr  error

	flightMu sync.Mutex
	inflight map[string]struct{}
}

// Result is what Invoke and Resume return: the state as of the last
// committed node and, when the run is suspended, the pending interrupt.
type Result[S any] struct {
	ThreadID  string
	RunID     string
	State     S
	Interrupt *Interrupt
	NextNode  string
	Step      int
}

// Suspended reports whether the run is waiting for a Resume.
func (r Result[S]) Suspended() bool {
	return r.Interrupt != nil
}

// New creates a new Engine.
//
// Parameters:
//   - reducer: merges partial updates into state (required)
//   - st: checkpoint persistence (required)
//   - emitter: observability event receiver (nil discards events)
//   - options: functional options such as WithMaxSteps
//
// Option errors are reported by the first Invoke or Resume.
//
// Example:
//
//	engine := graph.New(discovery.Merge, store.NewMemStore[discovery.WorkflowState](), nil,
//	    graph.WithMaxSteps(20),
//	)
func New[S, U any](reducer Reducer[S, U], st store.Store[S], emitter emit.Emitter, options ...Option) *Engine[S, U] {
	cfg := &engineConfig{opts: defaultOptions()}
	var optErr error
	for _, opt := range options {
		if err := opt(cfg); err != nil && optErr == nil {
			optErr = err
		}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S, U]{
		reducer:  reducer,
		nodes:    make(map[string]Node[S, U]),
		policies: make(map[string]NodePolicy),
		store:    st,
		emitter:  emitter,
		opts:     cfg.opts,
		optErr:   optErr,
		inflight: make(map[string]struct{}),
	}
}

// Add registers a node in the workflow graph.
//
// Returns error if nodeID is empty or reserved, node is nil, or a node with
// this ID already exists.
func (e *Engine[S, U]) Add(nodeID string, node Node[S, U]) error {
	return e.AddWithPolicy(nodeID, node, NodePolicy{})
}

// AddWithPolicy registers a node with an execution policy.
func (e *Engine[S, U]) AddWithPolicy(nodeID string, node Node[S, U], policy NodePolicy) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID " + End + " is reserved", Code: "RESERVED_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	if policy.Timeout > 0 {
		e.policies[nodeID] = policy
	}
	return nil
}

// StartAt sets the default entry node for new runs. Config.Entry overrides
// it per run.
func (e *Engine[S, U]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}
	e.startNode = nodeID
	return nil
}

// Connect declares a static edge. Edges are followed only when a node
// returns Continue; the first matching edge in declaration order wins.
// to may be End.
func (e *Engine[S, U]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// SetRecovery designates the error-containment node. When any node faults
// (returns Err, panics, exceeds its timeout, or produces an update the
// reducer rejects), handler builds the update merged in place of the node's
// output and the run continues at nodeID. The run ends after nodeID.
//
// Without a recovery node, a fault aborts the invocation with a *NodeError
// and the checkpoint stays at the faulting node.
func (e *Engine[S, U]) SetRecovery(nodeID string, handler FaultHandler[U]) error {
	if handler == nil {
		return &EngineError{Message: "fault handler cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "recovery node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}
	e.recoveryNode = nodeID
	e.onFault = handler
	return nil
}

// Invoke starts or continues a run on cfg.ThreadID.
//
// Depending on the thread's checkpoint:
//   - none: a new run starts at the entry node with input merged into the
//     zero state
//   - suspended: nothing runs; the pending interrupt is returned
//   - unfinished (an earlier invocation stopped mid-run): with nil input the
//     run continues at the stored next node; with input ErrRunPending is
//     returned
//   - finished: a new run starts at the entry node, carrying the previous
//     state forward with input merged in
//
// A persistence failure is returned as an *EngineError with code
// "STORE_ERROR". Context cancellation or the wall-clock budget stops the run
// between steps and returns the context error; committed progress remains.
func (e *Engine[S, U]) Invoke(ctx context.Context, cfg Config, input *U) (Result[S], error) {
	if err := e.validate(cfg); err != nil {
		return Result[S]{}, err
	}

	release, err := e.acquire(cfg.ThreadID)
	if err != nil {
		return Result[S]{}, err
	}
	defer release()

	ctx, cancel := e.budget(ctx)
	defer cancel()

	cp, err := e.store.Load(ctx, cfg.ThreadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		var zero S
		return e.startRun(ctx, cfg, zero, 0, input)
	case err != nil:
		return Result[S]{}, storeError("failed to load checkpoint for thread "+cfg.ThreadID, err)
	}

	if cp.Suspended {
		return resultFrom(cp), nil
	}
	if !finished(cp) {
		if input != nil {
			return resultFrom(cp), ErrRunPending
		}
		e.emit(cp, "", emit.MsgRunStart, map[string]interface{}{"continued": true, "next_node": cp.NextNode})
		return e.loop(ctx, cp, nil, false)
	}
	return e.startRun(ctx, cfg, cp.State, cp.Version, input)
}

// Resume delivers decision to the node the thread is suspended at and
// continues the run.
//
// Returns store.ErrNotFound for an unknown thread, ErrNotSuspended when the
// thread has no outstanding interrupt, and ErrInterruptMismatch when
// cfg.ExpectNode names a different node. Rejected calls change nothing.
// Nodes committed before the suspension are never re-run.
func (e *Engine[S, U]) Resume(ctx context.Context, cfg Config, decision any) (Result[S], error) {
	if err := e.validate(cfg); err != nil {
		return Result[S]{}, err
	}

	release, err := e.acquire(cfg.ThreadID)
	if err != nil {
		return Result[S]{}, err
	}
	defer release()

	ctx, cancel := e.budget(ctx)
	defer cancel()

	cp, err := e.store.Load(ctx, cfg.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		e.opts.Metrics.IncrementResumes("rejected")
		return Result[S]{}, fmt.Errorf("thread %s: %w", cfg.ThreadID, store.ErrNotFound)
	}
	if err != nil {
		return Result[S]{}, storeError("failed to load checkpoint for thread "+cfg.ThreadID, err)
	}

	if !cp.Suspended {
		e.opts.Metrics.IncrementResumes("rejected")
		return resultFrom(cp), ErrNotSuspended
	}
	if cfg.ExpectNode != "" && cfg.ExpectNode != cp.NextNode {
		e.opts.Metrics.IncrementResumes("rejected")
		return resultFrom(cp), fmt.Errorf("%w: suspended at %s, resume names %s",
			ErrInterruptMismatch, cp.NextNode, cfg.ExpectNode)
	}

	e.opts.Metrics.IncrementResumes("accepted")
	e.emit(cp, cp.NextNode, emit.MsgRunResumed, nil)
	return e.loop(ctx, cp, decision, true)
}

// GetState returns the thread's latest committed checkpoint. It never
// modifies anything. Returns store.ErrNotFound for an unknown thread.
func (e *Engine[S, U]) GetState(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	if e.store == nil {
		return store.Checkpoint[S]{}, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	return e.store.Load(ctx, threadID)
}

// History returns the thread's commit history, oldest first.
func (e *Engine[S, U]) History(ctx context.Context, threadID string) ([]store.StepRecord, error) {
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	return e.store.History(ctx, threadID)
}

func (e *Engine[S, U]) validate(cfg Config) error {
	if e.optErr != nil {
		return e.optErr
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if cfg.ThreadID == "" {
		return ErrMissingThreadID
	}
	return nil
}

// acquire marks threadID in flight. The returned func releases it.
func (e *Engine[S, U]) acquire(threadID string) (func(), error) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	if _, busy := e.inflight[threadID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	e.inflight[threadID] = struct{}{}
	e.opts.Metrics.AddInflightThreads(1)

	return func() {
		e.flightMu.Lock()
		delete(e.inflight, threadID)
		e.flightMu.Unlock()
		e.opts.Metrics.AddInflightThreads(-1)
	}, nil
}

func (e *Engine[S, U]) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RunWallClockBudget > 0 {
		return context.WithTimeout(ctx, e.opts.RunWallClockBudget)
	}
	return context.WithCancel(ctx)
}

func (e *Engine[S, U]) entry(cfg Config) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry := e.startNode
	if cfg.Entry != "" {
		entry = cfg.Entry
	}
	if entry == "" {
		return "", &EngineError{Message: "start node not set (call StartAt)", Code: "NO_START_NODE"}
	}
	if _, ok := e.nodes[entry]; !ok {
		return "", &EngineError{Message: "entry node does not exist: " + entry, Code: "NODE_NOT_FOUND"}
	}
	return entry, nil
}

// startRun commits the run-start checkpoint and enters the step loop.
func (e *Engine[S, U]) startRun(ctx context.Context, cfg Config, prev S, version int64, input *U) (Result[S], error) {
	entry, err := e.entry(cfg)
	if err != nil {
		return Result[S]{}, err
	}

	state := prev
	if input != nil {
		state, err = e.reducer(prev, *input)
		if err != nil {
			return Result[S]{}, &EngineError{Message: "input rejected by reducer", Code: "INVALID_INPUT", Cause: err}
		}
	}

	runID := cfg.RunID
	if runID == "" {
		runID = e.opts.NewRunID()
	}

	cp := store.Checkpoint[S]{
		ThreadID:  cfg.ThreadID,
		RunID:     runID,
		State:     state,
		NextNode:  entry,
		Flags:     cfg.Flags,
		Source:    store.SourceInput,
		Version:   version + 1,
		UpdatedAt: e.opts.Now(),
	}
	if err := e.commit(ctx, cp); err != nil {
		return Result[S]{}, err
	}

	e.emit(cp, "", emit.MsgRunStart, map[string]interface{}{"entry": entry})
	return e.loop(ctx, cp, nil, false)
}

// loop runs nodes from cp.NextNode until the run ends, suspends or fails.
// When hasResume is set, the first node invoked receives resume.
func (e *Engine[S, U]) loop(ctx context.Context, cp store.Checkpoint[S], resume any, hasResume bool) (Result[S], error) {
	executed := 0

	for {
		current := cp.NextNode
		if current == "" || current == End {
			e.emit(cp, "", emit.MsgRunComplete, map[string]interface{}{"last_node": cp.LastNode})
			return resultFrom(cp), nil
		}

		if err := ctx.Err(); err != nil {
			e.emit(cp, current, emit.MsgRunAborted, map[string]interface{}{"error": err.Error()})
			return resultFrom(cp), err
		}

		if e.opts.MaxSteps > 0 && executed >= e.opts.MaxSteps {
			return resultFrom(cp), &EngineError{
				Message: fmt.Sprintf("run %s stopped before %s after %d steps", cp.RunID, current, executed),
				Code:    "MAX_STEPS_EXCEEDED",
				Cause:   ErrMaxStepsExceeded,
			}
		}
		executed++

		node, policy, ok := e.lookup(current)
		if !ok {
			return resultFrom(cp), &EngineError{Message: "node not found: " + current, Code: "NODE_NOT_FOUND"}
		}

		nodeCfg := Config{ThreadID: cp.ThreadID, RunID: cp.RunID, Flags: cp.Flags}
		if hasResume {
			nodeCfg = nodeCfg.WithResume(resume)
			hasResume = false
		}

		input, err := deepCopy(cp.State)
		if err != nil {
			return resultFrom(cp), &EngineError{Message: "failed to copy state", Code: "STATE_COPY_ERROR", Cause: err}
		}

		start := time.Now()
		res, execErr := executeNode(ctx, node, current, input, nodeCfg, policy, e.opts.DefaultNodeTimeout)
		elapsed := time.Since(start)

		// The caller's deadline or cancellation discards the node's output;
		// the checkpoint still points at this node.
		if err := ctx.Err(); err != nil {
			e.emit(cp, current, emit.MsgRunAborted, map[string]interface{}{"error": err.Error()})
			return resultFrom(cp), err
		}

		fault := execErr
		if fault == nil && res.Err != nil {
			fault = &NodeError{Message: res.Err.Error(), Code: "NODE_ERROR", NodeID: current, Cause: res.Err}
		}

		if fault == nil && res.Interrupt != nil {
			return e.suspend(ctx, cp, current, *res.Interrupt, elapsed)
		}

		next := cp
		next.LastNode = current
		next.Source = store.SourceLoop
		next.Suspended = false
		next.Interrupt = nil
		next.Step++
		next.Version++
		next.UpdatedAt = e.opts.Now()

		var merged S
		if fault == nil {
			merged, err = e.reducer(cp.State, res.Delta)
			if err != nil {
				fault = &NodeError{Message: "update rejected: " + err.Error(), Code: "REDUCER_ERROR", NodeID: current, Cause: err}
			}
		}

		status := "success"
		if fault == nil {
			target := End
			if !e.isRecovery(current) {
				target, err = e.route(current, res.Route, merged)
				if err != nil {
					return resultFrom(cp), err
				}
			}
			next.State = merged
			next.NextNode = target
		} else {
			status = "fault"
			state, target, err := e.contain(cp, current, fault)
			if err != nil {
				return resultFrom(cp), err
			}
			next.State = state
			next.NextNode = target
		}

		if err := e.commit(ctx, next); err != nil {
			return resultFrom(cp), err
		}

		e.opts.Metrics.RecordStepLatency(current, elapsed, status)
		e.emit(next, current, emit.MsgNodeComplete, map[string]interface{}{
			"next_node":   next.NextNode,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		})
		cp = next
	}
}

// contain turns a fault of nodeID into the recovery update and target.
func (e *Engine[S, U]) contain(cp store.Checkpoint[S], nodeID string, fault error) (S, string, error) {
	e.opts.Metrics.IncrementNodeFaults(nodeID, faultKind(fault))
	e.emit(cp, nodeID, emit.MsgNodeFault, map[string]interface{}{"error": fault.Error()})

	e.mu.RLock()
	recovery, handler := e.recoveryNode, e.onFault
	e.mu.RUnlock()

	if recovery == "" || handler == nil {
		var zero S
		return zero, "", fault
	}

	state, err := e.reducer(cp.State, handler(nodeID, fault, e.opts.Now()))
	if err != nil {
		var zero S
		return zero, "", &EngineError{Message: "fault update rejected by reducer", Code: "REDUCER_ERROR", Cause: errors.Join(err, fault)}
	}

	target := recovery
	if nodeID == recovery {
		target = End
	}
	return state, target, nil
}

// suspend persists the interrupt with the checkpoint pointing at nodeID.
// The suspending node's update is not merged.
func (e *Engine[S, U]) suspend(ctx context.Context, cp store.Checkpoint[S], nodeID string, it Interrupt, elapsed time.Duration) (Result[S], error) {
	it.ThreadID = cp.ThreadID
	it.Node = nodeID

	next := cp
	next.NextNode = nodeID
	next.LastNode = nodeID
	next.Suspended = true
	next.Interrupt = &it
	next.Source = store.SourceInterrupt
	next.Step++
	next.Version++
	next.UpdatedAt = e.opts.Now()

	if err := e.commit(ctx, next); err != nil {
		return resultFrom(cp), err
	}

	e.opts.Metrics.RecordStepLatency(nodeID, elapsed, "suspended")
	e.opts.Metrics.IncrementInterrupts(nodeID)
	e.emit(next, nodeID, emit.MsgRunSuspended, map[string]interface{}{"interrupt_type": it.Type})
	return resultFrom(next), nil
}

// route resolves the next node after current returned nxt.
func (e *Engine[S, U]) route(current string, nxt Next, state S) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch nxt.Kind {
	case RouteStop:
		return End, nil
	case RouteGoto:
		if nxt.To == End {
			return End, nil
		}
		if _, ok := e.nodes[nxt.To]; !ok {
			return "", &EngineError{Message: "goto target does not exist: " + nxt.To, Code: "NODE_NOT_FOUND"}
		}
		return nxt.To, nil
	case RouteContinue:
		for _, edge := range e.edges {
			if !edge.matches(current, state) {
				continue
			}
			if edge.To != End {
				if _, ok := e.nodes[edge.To]; !ok {
					return "", &EngineError{Message: "edge target does not exist: " + edge.To, Code: "NODE_NOT_FOUND"}
				}
			}
			return edge.To, nil
		}
		return "", &EngineError{Message: "no route from node " + current, Code: "NO_ROUTE"}
	default:
		return "", &EngineError{Message: "unknown route kind " + nxt.Kind.String(), Code: "INVALID_ROUTE"}
	}
}

func (e *Engine[S, U]) isRecovery(nodeID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recoveryNode != "" && e.recoveryNode == nodeID
}

func (e *Engine[S, U]) lookup(nodeID string) (Node[S, U], *NodePolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	node, ok := e.nodes[nodeID]
	if !ok {
		return nil, nil, false
	}
	if policy, has := e.policies[nodeID]; has {
		return node, &policy, true
	}
	return node, nil, true
}

func (e *Engine[S, U]) commit(ctx context.Context, cp store.Checkpoint[S]) error {
	if err := e.store.Save(ctx, cp); err != nil {
		e.opts.Metrics.IncrementCheckpointWrites("error")
		e.emit(cp, cp.LastNode, emit.MsgCheckpointErr, map[string]interface{}{"error": err.Error()})
		return storeError(fmt.Sprintf("failed to persist checkpoint v%d for thread %s", cp.Version, cp.ThreadID), err)
	}
	e.opts.Metrics.IncrementCheckpointWrites("ok")
	return nil
}

func (e *Engine[S, U]) emit(cp store.Checkpoint[S], nodeID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		ThreadID: cp.ThreadID,
		RunID:    cp.RunID,
		Step:     cp.Step,
		NodeID:   nodeID,
		Msg:      msg,
		Meta:     meta,
	})
}

func storeError(msg string, cause error) error {
	return &EngineError{Message: msg, Code: "STORE_ERROR", Cause: cause}
}

func finished[S any](cp store.Checkpoint[S]) bool {
	return cp.NextNode == "" || cp.NextNode == End
}

func faultKind(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		switch nodeErr.Code {
		case "NODE_PANIC":
			return "panic"
		case "NODE_TIMEOUT":
			return "timeout"
		case "REDUCER_ERROR":
			return "reducer"
		}
	}
	return "error"
}

func resultFrom[S any](cp store.Checkpoint[S]) Result[S] {
	r := Result[S]{
		ThreadID: cp.ThreadID,
		RunID:    cp.RunID,
		State:    cp.State,
		NextNode: cp.NextNode,
		Step:     cp.Step,
	}
	if cp.Suspended {
		r.Interrupt = cp.Interrupt
	}
	return r
}
