package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/store"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(store.NewMemStore[WorkflowState](), Dependencies{Search: &fakeSearch{}}, nil)
	assert.Error(t, err)
}

func TestWorkflow_NormalRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.wf.Start(ctx, "42", RunConfig{})
	require.NoError(t, err)

	assert.False(t, out.Suspended())
	assert.Equal(t, "user_42", out.ThreadID)
	assert.Equal(t, []string{NodeSearch, NodeVerify, NodePrioritize}, f.completedNodes(t, "user_42"))
	assert.Equal(t, 1, f.search.calls())

	state := out.State
	assert.Equal(t, NodePrioritize, state.LastActiveNode)
	assert.Empty(t, state.ErrorLog)
	require.Len(t, state.ActiveMilestones, 2)
	assert.Equal(t, "r1", state.ActiveMilestones[0].ResultID)
	assert.Equal(t, 1, state.ActiveMilestones[0].Rank)
	assert.InDelta(t, 0.86, state.ActiveMilestones[0].Score, 1e-9)
	assert.Equal(t, "r3", state.ActiveMilestones[1].ResultID)

	for _, r := range state.DiscoveryResults {
		assert.NotEqual(t, "r2", r.ID, "zero-trust result must be dropped")
		assert.True(t, r.Verified)
	}

	require.Len(t, f.sink.saved, 1)
	assert.Len(t, f.sink.saved[0], 2)

	q := f.search.lastQuery()
	assert.Equal(t, "CA", q.State)
	assert.Empty(t, q.SAIBand, "band is never sent without sensitive-band mode")
}

func TestWorkflow_ScheduledRunSkipsSearchAndVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh thread", func(t *testing.T) {
		f := newFixture(t, nil)

		out, err := f.wf.Start(ctx, "42", RunConfig{Scheduled: true})
		require.NoError(t, err)

		assert.Equal(t, []string{NodePrioritize}, f.completedNodes(t, "user_42"))
		assert.Zero(t, f.search.calls())
		assert.Zero(t, f.trust.calls())
		assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
		assert.NotNil(t, out.State.ActiveMilestones)
		assert.Empty(t, out.State.ActiveMilestones)
	})

	t.Run("after a verify fault", func(t *testing.T) {
		f := newFixture(t, nil)
		f.trust.err = errors.New("trust service down")

		out, err := f.wf.Start(ctx, "42", RunConfig{})
		require.NoError(t, err)
		require.Equal(t, NodeRecovery, out.State.LastActiveNode)
		require.Len(t, out.State.DiscoveryResults, 3, "raw search output is still committed")

		f.trust.err = nil
		out, err = f.wf.Start(ctx, "42", RunConfig{Scheduled: true})
		require.NoError(t, err)

		assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
		assert.NotNil(t, out.State.ActiveMilestones)
		assert.Empty(t, out.State.ActiveMilestones, "unverified results are never ranked")
		assert.Equal(t, 1, f.search.calls())
	})

	t.Run("after a normal run", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.wf.Start(ctx, "42", RunConfig{})
		require.NoError(t, err)

		out, err := f.wf.Start(ctx, "42", RunConfig{Scheduled: true})
		require.NoError(t, err)

		assert.Equal(t, 1, f.search.calls())
		assert.Equal(t, 3, f.trust.calls())
		assert.Len(t, out.State.ActiveMilestones, 2)

		history, err := f.wf.History(ctx, "user_42")
		require.NoError(t, err)
		var second []string
		for _, rec := range history {
			if rec.RunID == out.RunID && rec.Source == store.SourceLoop {
				second = append(second, rec.NodeID)
			}
		}
		assert.Equal(t, []string{NodePrioritize}, second)
	})
}

func TestWorkflow_ContinuesAfterCrashWithoutRepeatingSearch(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.trust.onCall = cancel

	_, err := f.wf.Start(ctx, "42", RunConfig{})
	require.ErrorIs(t, err, context.Canceled)

	cp, err := f.wf.GetState(context.Background(), "user_42")
	require.NoError(t, err)
	assert.Equal(t, NodeVerify, cp.NextNode)
	assert.Equal(t, NodeSearch, cp.State.LastActiveNode)
	assert.False(t, cp.Suspended)

	f.trust.onCall = nil
	out, err := f.wf.Invoke(context.Background(), nil, RunConfig{ThreadID: "user_42"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.search.calls(), "search must not run again")
	assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
	assert.Len(t, out.State.ActiveMilestones, 2)
	assert.Equal(t, []string{NodeSearch, NodeVerify, NodePrioritize}, f.completedNodes(t, "user_42"))
}

func TestWorkflow_ContinuesAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidgraph.db")

	st, err := store.NewSQLiteStore[WorkflowState](path)
	require.NoError(t, err)
	first := newFixture(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first.trust.onCall = cancel

	_, err = first.wf.Start(ctx, "42", RunConfig{})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, st.Close())

	reopened, err := store.NewSQLiteStore[WorkflowState](path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	second := newFixture(t, reopened)

	out, err := second.wf.Invoke(context.Background(), nil, RunConfig{ThreadID: "user_42"})
	require.NoError(t, err)

	assert.Equal(t, 1, first.search.calls())
	assert.Zero(t, second.search.calls(), "the restarted process resumes at Verify")
	assert.Equal(t, 3, second.trust.calls())
	assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
}

func TestWorkflow_SAIConfirmationGate(t *testing.T) {
	ctx := context.Background()

	t.Run("approve", func(t *testing.T) {
		f := newFixture(t, nil)

		out, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)

		require.True(t, out.Suspended())
		assert.Equal(t, InterruptSAIConfirmation, out.Interrupt.Type)
		assert.Equal(t, "user_42", out.Interrupt.ThreadID)
		assert.Equal(t, NodeSaiConfirm, out.Interrupt.Node)
		assert.NotEmpty(t, out.Interrupt.Message)
		assert.Zero(t, f.search.calls(), "no external call before the user answers")
		assert.True(t, out.State.PendingConfirmation)
		assert.Nil(t, out.State.SAIRangeApproved)

		cp, err := f.wf.GetState(ctx, "user_42")
		require.NoError(t, err)
		assert.True(t, cp.Suspended)
		assert.Equal(t, NodeSaiConfirm, cp.NextNode)

		out, err = f.wf.Resume(ctx, "user_42", true)
		require.NoError(t, err)

		assert.False(t, out.Suspended())
		require.NotNil(t, out.State.SAIRangeApproved)
		assert.True(t, *out.State.SAIRangeApproved)
		assert.False(t, out.State.PendingConfirmation)
		assert.Equal(t, 1, f.search.calls())
		assert.Equal(t, "0-4999", f.search.lastQuery().SAIBand)
		assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
		assert.Equal(t,
			[]string{NodeSearch, NodeSaiConfirm, NodeSearch, NodeVerify, NodePrioritize},
			f.completedNodes(t, "user_42"))
	})

	t.Run("deny", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)

		out, err := f.wf.Resume(ctx, "user_42", false)
		require.NoError(t, err)

		require.NotNil(t, out.State.SAIRangeApproved)
		assert.False(t, *out.State.SAIRangeApproved)
		assert.Equal(t, 1, f.search.calls())
		assert.Empty(t, f.search.lastQuery().SAIBand)
	})

	t.Run("answer is kept for later runs", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)
		_, err = f.wf.Resume(ctx, "user_42", true)
		require.NoError(t, err)

		out, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)
		assert.False(t, out.Suspended())
		assert.Equal(t, 2, f.search.calls())
	})

	t.Run("no SAI means no gate", func(t *testing.T) {
		f := newFixture(t, nil)

		out, err := f.wf.Start(ctx, "7", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)
		assert.False(t, out.Suspended())
		assert.Equal(t, 1, f.search.calls())
	})

	t.Run("suspended thread ignores new starts", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)

		out, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
		require.NoError(t, err)
		assert.True(t, out.Suspended())
		assert.Zero(t, f.search.calls())
	})
}

func TestWorkflow_ResumeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.wf.Resume(ctx, "user_404", true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.wf.Start(ctx, "42", RunConfig{})
	require.NoError(t, err)
	before, err := f.wf.GetState(ctx, "user_42")
	require.NoError(t, err)

	_, err = f.wf.Resume(ctx, "user_42", true)
	assert.ErrorIs(t, err, graph.ErrNotSuspended)

	after, err := f.wf.GetState(ctx, "user_42")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Nil(t, after.State.SAIRangeApproved)
}

func TestWorkflow_FaultsRouteToRecovery(t *testing.T) {
	boom := errors.New("upstream unavailable")

	tests := []struct {
		name   string
		node   string
		inject func(f *fixture)
	}{
		{name: "search error", node: NodeSearch, inject: func(f *fixture) { f.search.err = boom }},
		{name: "search panic", node: NodeSearch, inject: func(f *fixture) { f.search.panics = true }},
		{name: "trust error", node: NodeVerify, inject: func(f *fixture) { f.trust.err = boom }},
		{name: "need error", node: NodeVerify, inject: func(f *fixture) { f.need.err = boom }},
		{name: "sink error", node: NodeVerify, inject: func(f *fixture) { f.sink.err = boom }},
		{name: "unrankable result", node: NodePrioritize, inject: func(f *fixture) {
			f.search.results = []Result{{Title: "missing id"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tt.inject(f)

			out, err := f.wf.Start(context.Background(), "42", RunConfig{})
			require.NoError(t, err, "a node fault is contained, not returned")

			state := out.State
			require.Len(t, state.ErrorLog, 1)
			assert.Equal(t, tt.node, state.ErrorLog[0].Node)
			assert.NotEmpty(t, state.ErrorLog[0].Message)
			assert.Equal(t, testNow, state.ErrorLog[0].Timestamp)
			assert.Equal(t, NodeRecovery, state.LastActiveNode)

			require.NotEmpty(t, state.Messages)
			last := state.Messages[len(state.Messages)-1]
			assert.Equal(t, recoveryMessage, last.Content)
			assert.NotContains(t, last.Content, boom.Error())

			nodes := f.completedNodes(t, "user_42")
			assert.Equal(t, NodeRecovery, nodes[len(nodes)-1])
			assert.Equal(t, tt.node, nodes[len(nodes)-2])
		})
	}
}

func TestWorkflow_RetryAfterFaultSkipsCommittedSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.trust.err = errors.New("trust service down")

	out, err := f.wf.Start(ctx, "42", RunConfig{})
	require.NoError(t, err)
	require.Equal(t, NodeRecovery, out.State.LastActiveNode)
	require.Equal(t, 1, f.search.calls())

	f.trust.err = nil
	out, err = f.wf.Retry(ctx, out.ThreadID)
	require.NoError(t, err)

	assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
	assert.NotEmpty(t, out.State.ActiveMilestones)
	assert.Equal(t, 1, f.search.calls(), "committed search results are reused")
	assert.Len(t, out.State.ErrorLog, 1, "the earlier fault stays on record")

	nodes := f.completedNodes(t, "user_42")
	require.GreaterOrEqual(t, len(nodes), 2)
	assert.Equal(t, []string{NodeVerify, NodePrioritize}, nodes[len(nodes)-2:])

	_, err = f.wf.Retry(ctx, out.ThreadID)
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestWorkflow_RetryRequiresFault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.wf.Retry(ctx, "user_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.wf.Start(ctx, "42", RunConfig{})
	require.NoError(t, err)
	_, err = f.wf.Retry(ctx, "user_42")
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestWorkflow_EmptyVerifiedResults(t *testing.T) {
	f := newFixture(t, nil)
	f.trust.zero = map[string]bool{"r1": true, "r2": true, "r3": true}

	out, err := f.wf.Start(context.Background(), "42", RunConfig{})
	require.NoError(t, err)

	state := out.State
	assert.NotNil(t, state.ActiveMilestones)
	assert.Empty(t, state.ActiveMilestones)
	assert.Equal(t, NodePrioritize, state.LastActiveNode)
	assert.Empty(t, state.ErrorLog)
	require.NotEmpty(t, state.Messages)
	assert.Contains(t, state.Messages[len(state.Messages)-1].Content, "could not find")
	assert.Equal(t, []string{NodeSearch, NodeVerify, NodePrioritize}, f.completedNodes(t, "user_42"))
	assert.Empty(t, f.sink.saved, "nothing to persist")
}

func TestWorkflow_GetStateIsReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.wf.Start(ctx, "42", RunConfig{SensitiveBandMode: true})
	require.NoError(t, err)

	first, err := f.wf.GetState(ctx, "user_42")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.wf.GetState(ctx, "user_42")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	history, err := f.wf.History(ctx, "user_42")
	require.NoError(t, err)
	assert.Len(t, history, 3, "run start, Search, suspension")
}

func TestWorkflow_IncompleteProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	profiles := testProfiles()
	profiles.users["9"] = UserProfile{UserID: "9", Level: "graduate"}
	profiles.fins["9"] = FinancialProfile{}
	f.wf.profiles = profiles

	_, err := f.wf.Start(ctx, "9", RunConfig{})
	require.ErrorIs(t, err, ErrIncompleteProfile)
	assert.Contains(t, err.Error(), "state")

	_, err = f.wf.GetState(ctx, "user_9")
	assert.ErrorIs(t, err, store.ErrNotFound, "no checkpoint may be written")

	_, err = f.wf.Start(ctx, "unknown", RunConfig{})
	assert.Error(t, err)
}

func TestWorkflow_InvokeChecksCallerInput(t *testing.T) {
	ctx := context.Background()
	sai := 100
	user := &UserProfile{UserID: "5", State: "WA", Level: "undergraduate"}
	fin := &FinancialProfile{SAI: &sai}

	t.Run("missing user profile", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.wf.Invoke(ctx, &Update{FinancialProfile: fin}, RunConfig{ThreadID: "user_5"})
		require.ErrorIs(t, err, ErrIncompleteProfile)

		_, err = f.wf.GetState(ctx, "user_5")
		assert.ErrorIs(t, err, store.ErrNotFound, "no checkpoint may be written")
		assert.Zero(t, f.search.calls())
	})

	t.Run("approval cannot bypass the gate", func(t *testing.T) {
		f := newFixture(t, nil)
		input := &Update{UserProfile: user, FinancialProfile: fin, SAIRangeApproved: ptr(true)}
		_, err := f.wf.Invoke(ctx, input, RunConfig{ThreadID: "user_5", SensitiveBandMode: true})
		require.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = f.wf.GetState(ctx, "user_5")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Zero(t, f.search.calls())
	})

	t.Run("valid input still reaches the gate", func(t *testing.T) {
		f := newFixture(t, nil)
		out, err := f.wf.Invoke(ctx, &Update{UserProfile: user, FinancialProfile: fin}, RunConfig{ThreadID: "user_5", SensitiveBandMode: true})
		require.NoError(t, err)
		require.True(t, out.Suspended())
		assert.Equal(t, NodeSaiConfirm, out.Interrupt.Node)
		assert.Zero(t, f.search.calls())
	})

	t.Run("later run reuses committed profiles", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.wf.Start(ctx, "42", RunConfig{})
		require.NoError(t, err)

		out, err := f.wf.Invoke(ctx, &Update{Messages: []Message{{Role: RoleUser, Content: "refresh please"}}}, RunConfig{ThreadID: "user_42"})
		require.NoError(t, err)
		assert.Equal(t, NodePrioritize, out.State.LastActiveNode)
		assert.Equal(t, 2, f.search.calls())
	})
}

func TestWorkflow_PendingRunRejectsNewInput(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.trust.onCall = cancel

	_, err := f.wf.Start(ctx, "42", RunConfig{})
	require.ErrorIs(t, err, context.Canceled)

	f.trust.onCall = nil
	_, err = f.wf.Start(context.Background(), "42", RunConfig{})
	assert.ErrorIs(t, err, graph.ErrRunPending)
}
