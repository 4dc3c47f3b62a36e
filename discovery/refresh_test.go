package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresher_RefreshAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.wf.Start(ctx, "42", RunConfig{})
	require.NoError(t, err)
	searches := f.search.calls()

	r := NewRefresher(f.wf, RefreshConfig{Concurrency: 2, BatchDelay: time.Millisecond}, nil)
	results, err := r.RefreshAll(ctx, []string{"42", "missing", "7"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh missing")

	require.Len(t, results, 3)
	assert.Equal(t, "42", results[0].UserID)
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Outcome.State.ActiveMilestones, 2)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, NodePrioritize, results[2].Outcome.State.LastActiveNode)

	assert.Equal(t, searches, f.search.calls(), "scheduled refresh never searches")
	assert.Equal(t, []string{NodePrioritize}, f.completedNodes(t, "user_7"))
}

func TestRefresher_StopsLaunchingWhenCancelled(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRefresher(f.wf, RefreshConfig{}, nil)
	results, err := r.RefreshAll(ctx, []string{"42", "7"})

	require.ErrorIs(t, err, context.Canceled)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	_, err = f.wf.GetState(context.Background(), "user_42")
	assert.Error(t, err, "no run was started")
}
