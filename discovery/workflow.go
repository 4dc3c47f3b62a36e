package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/emit"
	"github.com/dshills/aidgraph/graph/store"
)

// Dependencies are the collaborators a Workflow calls into.
type Dependencies struct {
	Profiles ProfileLoader
	Search   SearchClient
	Trust    TrustScorer
	Need     NeedMatchScorer

	// Sink is optional.
	Sink ResultSink

	Weights Weights
	Now     func() time.Time

	// NodeTimeouts overrides the engine default per node name.
	NodeTimeouts map[string]time.Duration

	Logger *slog.Logger
}

// RunConfig selects the thread and the entry of a run.
type RunConfig struct {
	ThreadID string
	RunID    string

	// SensitiveBandMode asks Search to include the SAI band, after the user
	// confirms it.
	SensitiveBandMode bool

	// Scheduled enters at Prioritize, skipping Search and Verify.
	Scheduled bool
}

func (rc RunConfig) graphConfig() graph.Config {
	cfg := graph.Config{
		ThreadID: rc.ThreadID,
		RunID:    rc.RunID,
		Flags: map[string]bool{
			FlagSensitiveBandMode: rc.SensitiveBandMode,
			FlagScheduled:         rc.Scheduled,
		},
	}
	if rc.Scheduled {
		cfg.Entry = NodePrioritize
	}
	return cfg
}

// Outcome is the result of Invoke, Start or Resume. Interrupt is set when
// the run is waiting for a confirmation.
type Outcome struct {
	ThreadID  string
	RunID     string
	State     WorkflowState
	Interrupt *graph.Interrupt
}

// Suspended reports whether the run waits for Resume.
func (o Outcome) Suspended() bool {
	return o.Interrupt != nil
}

// Workflow is the discovery graph bound to a checkpoint store.
type Workflow struct {
	engine   *graph.Engine[WorkflowState, Update]
	profiles ProfileLoader
	logger   *slog.Logger
}

// New wires the discovery graph:
//
//	Search -> Verify -> Prioritize -> End
//	Search -> SaiConfirm -> Search      (sensitive-band gate)
//	any fault -> Recovery -> End
//
// opts are passed to the engine (graph.WithMaxSteps, graph.WithMetrics, ...).
func New(st store.Store[WorkflowState], deps Dependencies, emitter emit.Emitter, opts ...graph.Option) (*Workflow, error) {
	if deps.Search == nil || deps.Trust == nil || deps.Need == nil {
		return nil, errors.New("discovery: search client, trust scorer and need-match scorer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := graph.New[WorkflowState, Update](Merge, st, emitter, opts...)

	nodes := []struct {
		id   string
		node graph.Node[WorkflowState, Update]
	}{
		{NodeSearch, NewSearchNode(deps.Search)},
		{NodeVerify, NewVerifyNode(deps.Trust, deps.Need, deps.Sink)},
		{NodePrioritize, NewPrioritizeNode(deps.Weights, deps.Now)},
		{NodeSaiConfirm, SaiConfirmNode{}},
		{NodeRecovery, RecoveryNode{}},
	}
	for _, n := range nodes {
		policy := graph.NodePolicy{Timeout: deps.NodeTimeouts[n.id]}
		if err := engine.AddWithPolicy(n.id, n.node, policy); err != nil {
			return nil, fmt.Errorf("discovery: add %s: %w", n.id, err)
		}
	}

	edges := [][2]string{
		{NodeSearch, NodeVerify},
		{NodeVerify, NodePrioritize},
		{NodePrioritize, graph.End},
		{NodeSaiConfirm, NodeSearch},
	}
	for _, e := range edges {
		if err := engine.Connect(e[0], e[1], nil); err != nil {
			return nil, fmt.Errorf("discovery: connect %s -> %s: %w", e[0], e[1], err)
		}
	}

	if err := engine.StartAt(NodeSearch); err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if err := engine.SetRecovery(NodeRecovery, faultUpdate); err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	return &Workflow{engine: engine, profiles: deps.Profiles, logger: logger}, nil
}

// Start loads the user's profiles, checks them and invokes a run with them
// as input. An incomplete profile returns ErrIncompleteProfile before any
// checkpoint is written. rc.ThreadID defaults to ThreadID(userID).
func (w *Workflow) Start(ctx context.Context, userID string, rc RunConfig) (Outcome, error) {
	if w.profiles == nil {
		return Outcome{}, errors.New("discovery: no profile loader configured")
	}
	if rc.ThreadID == "" {
		rc.ThreadID = ThreadID(userID)
	}

	user, fin, err := w.profiles.Load(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load profile for %s: %w", userID, err)
	}
	if err := Validate(&user, &fin); err != nil {
		w.logger.Warn("run rejected", "thread_id", rc.ThreadID, "error", err)
		return Outcome{}, err
	}

	return w.Invoke(ctx, &Update{UserProfile: &user, FinancialProfile: &fin}, rc)
}

// Invoke starts or continues a run on rc.ThreadID. A nil input continues an
// unfinished run; see graph.Engine.Invoke for the full contract.
//
// Input may not set fields that only nodes write; such input returns
// ErrInvalidUpdate. When the input would start a new run, the profiles it
// carries, or those already on the thread, must pass Validate; otherwise
// ErrIncompleteProfile is returned before any checkpoint is written.
func (w *Workflow) Invoke(ctx context.Context, input *Update, rc RunConfig) (Outcome, error) {
	if input != nil {
		if err := checkCallerInput(*input); err != nil {
			return Outcome{}, err
		}
		if err := w.checkNewRun(ctx, input, rc.ThreadID); err != nil {
			w.logger.Warn("run rejected", "thread_id", rc.ThreadID, "error", err)
			return Outcome{}, err
		}
	}

	res, err := w.engine.Invoke(ctx, rc.graphConfig(), input)
	out := outcomeFrom(res)
	if err != nil {
		return out, err
	}
	w.logOutcome(out)
	return out, nil
}

// checkNewRun validates the profiles a new run on threadID would start
// with. Suspended and unfinished threads are left to the engine.
func (w *Workflow) checkNewRun(ctx context.Context, input *Update, threadID string) error {
	if threadID == "" {
		return nil
	}
	var prev WorkflowState
	cp, err := w.engine.GetState(ctx, threadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	case cp.Suspended, cp.NextNode != "" && cp.NextNode != graph.End:
		return nil
	default:
		prev = cp.State
	}

	user, fin := prev.UserProfile, prev.FinancialProfile
	if input.UserProfile != nil {
		user = input.UserProfile
	}
	if input.FinancialProfile != nil {
		fin = input.FinancialProfile
	}
	return Validate(user, fin)
}

// Resume answers the SAI confirmation of threadID and continues the run.
// It returns graph.ErrNotSuspended when nothing is pending and
// store.ErrNotFound for an unknown thread.
func (w *Workflow) Resume(ctx context.Context, threadID string, decision bool) (Outcome, error) {
	return w.ResumeAt(ctx, threadID, NodeSaiConfirm, decision)
}

// ResumeAt delivers an arbitrary decision to node. It returns
// graph.ErrInterruptMismatch when the thread is suspended elsewhere. A
// decision the node cannot interpret faults the run into Recovery.
func (w *Workflow) ResumeAt(ctx context.Context, threadID, node string, decision any) (Outcome, error) {
	cfg := graph.Config{ThreadID: threadID, ExpectNode: node}
	res, err := w.engine.Resume(ctx, cfg, decision)
	out := outcomeFrom(res)
	if err != nil {
		return out, err
	}
	w.logOutcome(out)
	return out, nil
}

// Retry starts a new run on a thread whose last run ended in Recovery,
// entering at the node that faulted. The committed state is carried over, so
// nodes that completed before the fault are not repeated. The flags of the
// faulted run are reused. It returns ErrNothingToRetry otherwise.
func (w *Workflow) Retry(ctx context.Context, threadID string) (Outcome, error) {
	cp, err := w.engine.GetState(ctx, threadID)
	if err != nil {
		return Outcome{}, err
	}
	node := faultedNode(cp)
	if node == "" {
		return Outcome{ThreadID: cp.ThreadID, RunID: cp.RunID, State: cp.State, Interrupt: cp.Interrupt}, ErrNothingToRetry
	}

	w.logger.Info("retrying run", "thread_id", threadID, "entry", node)
	res, err := w.engine.Invoke(ctx, graph.Config{ThreadID: threadID, Entry: node, Flags: cp.Flags}, nil)
	out := outcomeFrom(res)
	if err != nil {
		return out, err
	}
	w.logOutcome(out)
	return out, nil
}

func faultedNode(cp store.Checkpoint[WorkflowState]) string {
	if cp.Suspended || cp.State.LastActiveNode != NodeRecovery {
		return ""
	}
	if cp.NextNode != "" && cp.NextNode != graph.End {
		return ""
	}
	n := len(cp.State.ErrorLog)
	if n == 0 {
		return ""
	}
	return cp.State.ErrorLog[n-1].Node
}

// GetState returns the latest committed checkpoint of threadID. It never
// writes.
func (w *Workflow) GetState(ctx context.Context, threadID string) (store.Checkpoint[WorkflowState], error) {
	return w.engine.GetState(ctx, threadID)
}

// History returns the committed steps of threadID, oldest first.
func (w *Workflow) History(ctx context.Context, threadID string) ([]store.StepRecord, error) {
	return w.engine.History(ctx, threadID)
}

func (w *Workflow) logOutcome(out Outcome) {
	if out.Suspended() {
		w.logger.Info("run suspended", "thread_id", out.ThreadID, "run_id", out.RunID, "interrupt", out.Interrupt.Type)
		return
	}
	w.logger.Info("run finished", "thread_id", out.ThreadID, "run_id", out.RunID,
		"last_active_node", out.State.LastActiveNode,
		"milestones", len(out.State.ActiveMilestones),
		"errors", len(out.State.ErrorLog))
}

func outcomeFrom(res graph.Result[WorkflowState]) Outcome {
	return Outcome{
		ThreadID:  res.ThreadID,
		RunID:     res.RunID,
		State:     res.State,
		Interrupt: res.Interrupt,
	}
}
