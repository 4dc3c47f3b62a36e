package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUpdate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		u, err := DecodeUpdate([]byte(`{
			"user_profile": {"user_id": "42", "state": "CA", "level": "undergraduate"},
			"financial_profile": {"sai": 1200, "pell_eligible": true},
			"messages": [{"role": "user", "content": "hi"}],
			"discovery_results": []
		}`))
		require.NoError(t, err)

		require.NotNil(t, u.UserProfile)
		assert.Equal(t, "CA", u.UserProfile.State)
		require.NotNil(t, u.FinancialProfile.SAI)
		assert.Equal(t, 1200, *u.FinancialProfile.SAI)
		require.NotNil(t, u.DiscoveryResults)
		assert.Empty(t, *u.DiscoveryResults)
		assert.Nil(t, u.ActiveMilestones)
		assert.Nil(t, u.SAIRangeApproved)
	})

	rejected := []struct {
		name string
		doc  string
	}{
		{name: "unknown top-level field", doc: `{"last_active_nod": "Search"}`},
		{name: "unknown nested field", doc: `{"user_profile": {"user_id": "1", "ssn": "123"}}`},
		{name: "wrong type", doc: `{"financial_profile": {"sai": "high"}}`},
		{name: "approval set by caller", doc: `{"sai_range_approved": true}`},
		{name: "pending flag set by caller", doc: `{"pending_confirmation": false}`},
		{name: "error log set by caller", doc: `{"error_log": []}`},
		{name: "last node set by caller", doc: `{"last_active_node": "Prioritize"}`},
		{name: "milestones set by caller", doc: `{"active_milestones": []}`},
		{name: "pre-verified result", doc: `{"discovery_results": [{"id": "a", "title": "A", "verified": true}]}`},
		{name: "result without id", doc: `{"discovery_results": [{"title": "x"}]}`},
		{name: "bad role", doc: `{"messages": [{"role": "system", "content": "x"}]}`},
		{name: "not json", doc: `{`},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeUpdate([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidUpdate)
		})
	}
}

func TestCheckCallerInput(t *testing.T) {
	profile := &UserProfile{UserID: "42", State: "CA", Level: "undergraduate"}
	require.NoError(t, checkCallerInput(Update{
		UserProfile:      profile,
		DiscoveryResults: &[]Result{{ID: "a", Title: "A"}},
		Messages:         []Message{{Role: RoleUser, Content: "hi"}},
	}))

	rejected := map[string]Update{
		"approval":    {UserProfile: profile, SAIRangeApproved: ptr(true)},
		"pending":     {PendingConfirmation: ptr(false)},
		"error log":   {ErrorLog: []ErrorEntry{}},
		"last node":   {LastActiveNode: ptr(NodePrioritize)},
		"milestones":  {ActiveMilestones: &[]Milestone{}},
		"trust score": {DiscoveryResults: &[]Result{{ID: "a", TrustScore: 1}}},
	}
	for name, u := range rejected {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, checkCallerInput(u), ErrInvalidUpdate)
		})
	}
}
