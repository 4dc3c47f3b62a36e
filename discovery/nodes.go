package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/aidgraph/graph"
)

// InterruptSAIConfirmation is the interrupt type raised by SaiConfirm.
const InterruptSAIConfirmation = "sai_confirmation"

const (
	confirmPrompt = "Your search can include the range your Student Aid Index falls in " +
		"(never the exact number). This finds more need-based aid. Include it?"
	emptyResultsMessage = "We could not find verified opportunities that match your profile right now. " +
		"We will keep looking and let you know when new ones appear."
	recoveryMessage = "Something went wrong while building your aid plan. " +
		"Your progress is saved and our team has been notified. Please try again later."
)

// SearchNode anonymizes the profile and queries the search backend. In
// sensitive-band mode it first routes to SaiConfirm until the user has
// answered.
type SearchNode struct {
	client SearchClient
}

// NewSearchNode creates a SearchNode.
func NewSearchNode(client SearchClient) *SearchNode {
	return &SearchNode{client: client}
}

// Run implements graph.Node.
func (n *SearchNode) Run(ctx context.Context, state WorkflowState, cfg graph.Config) graph.NodeResult[Update] {
	if state.UserProfile == nil {
		return graph.Fail[Update](fmt.Errorf("%w: user profile is missing", ErrIncompleteProfile))
	}

	bandMode := cfg.Flag(FlagSensitiveBandMode)
	hasSAI := state.FinancialProfile.HasSAI()

	if bandMode && hasSAI && state.SAIRangeApproved == nil {
		return graph.Command(NodeSaiConfirm, Update{
			LastActiveNode:      ptr(NodeSearch),
			PendingConfirmation: ptr(true),
		})
	}

	includeBand := bandMode && hasSAI && *state.SAIRangeApproved
	q := Anonymize(*state.UserProfile, state.FinancialProfile, includeBand)
	q.RunID = cfg.RunID

	results, err := n.client.Search(ctx, q)
	if err != nil {
		return graph.Fail[Update](fmt.Errorf("search: %w", err))
	}
	if results == nil {
		results = []Result{}
	}

	return graph.Command(NodeVerify, Update{
		DiscoveryResults: &results,
		LastActiveNode:   ptr(NodeSearch),
	})
}

// VerifyNode scores each result and drops those with zero trust.
type VerifyNode struct {
	trust TrustScorer
	need  NeedMatchScorer
	sink  ResultSink
}

// NewVerifyNode creates a VerifyNode. sink may be nil.
func NewVerifyNode(trust TrustScorer, need NeedMatchScorer, sink ResultSink) *VerifyNode {
	return &VerifyNode{trust: trust, need: need, sink: sink}
}

// Run implements graph.Node.
func (n *VerifyNode) Run(ctx context.Context, state WorkflowState, cfg graph.Config) graph.NodeResult[Update] {
	var user UserProfile
	if state.UserProfile != nil {
		user = *state.UserProfile
	}
	var fin FinancialProfile
	if state.FinancialProfile != nil {
		fin = *state.FinancialProfile
	}

	verified := make([]Result, 0, len(state.DiscoveryResults))
	for _, r := range state.DiscoveryResults {
		report, err := n.trust.Score(ctx, r)
		if err != nil {
			return graph.Fail[Update](fmt.Errorf("trust score for %s: %w", r.ID, err))
		}
		if report.Score <= 0 {
			continue
		}

		match, err := n.need.Score(ctx, user, fin, r)
		if err != nil {
			return graph.Fail[Update](fmt.Errorf("need match for %s: %w", r.ID, err))
		}

		r.TrustScore = report.Score
		r.TrustReport = report.Report
		r.NeedMatch = match
		r.Verified = true
		verified = append(verified, r)
	}

	if n.sink != nil && len(verified) > 0 {
		if err := n.sink.SaveVerified(ctx, cfg.ThreadID, cfg.RunID, verified); err != nil {
			return graph.Fail[Update](fmt.Errorf("save verified results: %w", err))
		}
	}

	return graph.Command(NodePrioritize, Update{
		DiscoveryResults: &verified,
		LastActiveNode:   ptr(NodeVerify),
	})
}

// Weights are the composite score weights used by Prioritize.
type Weights struct {
	Trust     float64
	NeedMatch float64
}

// DefaultWeights favour fit over trust once a result has passed Verify.
var DefaultWeights = Weights{Trust: 0.4, NeedMatch: 0.6}

// PrioritizeNode ranks verified results into milestones.
type PrioritizeNode struct {
	weights Weights
	now     func() time.Time
}

// NewPrioritizeNode creates a PrioritizeNode. A zero Weights uses
// DefaultWeights; a nil now uses time.Now.
func NewPrioritizeNode(weights Weights, now func() time.Time) *PrioritizeNode {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	if now == nil {
		now = time.Now
	}
	return &PrioritizeNode{weights: weights, now: now}
}

// Run implements graph.Node. Only results that passed Verify are ranked;
// results whose deadline has passed are left out of the plan.
func (n *PrioritizeNode) Run(_ context.Context, state WorkflowState, _ graph.Config) graph.NodeResult[Update] {
	now := n.now()

	type ranked struct {
		result Result
		score  float64
	}
	candidates := make([]ranked, 0, len(state.DiscoveryResults))
	for _, r := range state.DiscoveryResults {
		// A Verify fault leaves Search's raw output in the state.
		if !r.Verified {
			continue
		}
		if r.ID == "" {
			return graph.Fail[Update](errors.New("result without id cannot be prioritized"))
		}
		if r.Deadline != nil && r.Deadline.Before(now) {
			continue
		}
		candidates = append(candidates, ranked{result: r, score: n.weights.Trust*r.TrustScore + n.weights.NeedMatch*r.NeedMatch})
	}

	if len(candidates) == 0 {
		return graph.Update(Update{
			ActiveMilestones: &[]Milestone{},
			Messages:         []Message{{Role: RoleAssistant, Content: emptyResultsMessage, Node: NodePrioritize}},
			LastActiveNode:   ptr(NodePrioritize),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return deadlineBefore(candidates[i].result.Deadline, candidates[j].result.Deadline)
	})

	milestones := make([]Milestone, len(candidates))
	for i, c := range candidates {
		milestones[i] = Milestone{
			Rank:     i + 1,
			ResultID: c.result.ID,
			Title:    c.result.Title,
			Score:    c.score,
			Deadline: c.result.Deadline,
			Action:   action(c.result, now),
		}
	}

	return graph.Update(Update{
		ActiveMilestones: &milestones,
		Messages: []Message{{
			Role:    RoleAssistant,
			Content: fmt.Sprintf("We ranked %d opportunities for you. Start with %q.", len(milestones), milestones[0].Title),
			Node:    NodePrioritize,
		}},
		LastActiveNode: ptr(NodePrioritize),
	})
}

// deadlineBefore orders known deadlines first, earliest first.
func deadlineBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

func action(r Result, now time.Time) string {
	if r.Deadline == nil {
		return "Apply when ready: " + r.Title
	}
	days := int(r.Deadline.Sub(now).Hours() / 24)
	if days <= 14 {
		return fmt.Sprintf("Apply within %d days: %s", days, r.Title)
	}
	return fmt.Sprintf("Apply by %s: %s", r.Deadline.Format("Jan 2, 2006"), r.Title)
}

// SaiConfirmNode asks the user whether the SAI band may be used. It suspends
// on first entry and records the decision when resumed.
type SaiConfirmNode struct{}

// Run implements graph.Node.
func (SaiConfirmNode) Run(_ context.Context, state WorkflowState, cfg graph.Config) graph.NodeResult[Update] {
	value, resumed := cfg.ResumeValue()
	if !resumed {
		payload := map[string]any{"field": "sai_range"}
		if state.FinancialProfile.HasSAI() {
			payload["sai_band"] = SAIBand(*state.FinancialProfile.SAI)
		}
		return graph.Suspend[Update](graph.Interrupt{
			Type:    InterruptSAIConfirmation,
			Message: confirmPrompt,
			Payload: payload,
		})
	}

	approved, ok := value.(bool)
	if !ok {
		return graph.Fail[Update](fmt.Errorf("%w: got %T", ErrInvalidDecision, value))
	}

	ack := "No problem. We will search without your SAI range."
	answer := "No"
	if approved {
		ack = "Thanks. We will include your SAI range in the search."
		answer = "Yes"
	}

	return graph.Command(NodeSearch, Update{
		Messages: []Message{
			{Role: RoleAssistant, Content: confirmPrompt, Node: NodeSaiConfirm},
			{Role: RoleUser, Content: answer, Node: NodeSaiConfirm},
			{Role: RoleAssistant, Content: ack, Node: NodeSaiConfirm},
		},
		SAIRangeApproved:    ptr(approved),
		PendingConfirmation: ptr(false),
		LastActiveNode:      ptr(NodeSaiConfirm),
	})
}

// RecoveryNode ends a faulted run with a user-facing message. It makes no
// external calls.
type RecoveryNode struct{}

// Run implements graph.Node.
func (RecoveryNode) Run(_ context.Context, _ WorkflowState, _ graph.Config) graph.NodeResult[Update] {
	return graph.NodeResult[Update]{
		Delta: Update{
			Messages:       []Message{{Role: RoleAssistant, Content: recoveryMessage, Node: NodeRecovery}},
			LastActiveNode: ptr(NodeRecovery),
		},
		Route: graph.Stop(),
	}
}

// faultUpdate is the fault handler: one error_log entry tagged with the
// faulting node.
func faultUpdate(nodeID string, err error, at time.Time) Update {
	return Update{ErrorLog: []ErrorEntry{{Node: nodeID, Message: err.Error(), Timestamp: at}}}
}
