package discovery

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReducerTable_CoversEveryField(t *testing.T) {
	require.NoError(t, checkReducerTable())

	state := jsonFields(reflect.TypeOf(WorkflowState{}))
	update := jsonFields(reflect.TypeOf(Update{}))
	assert.Equal(t, state, update, "Update must mirror WorkflowState")
	assert.Len(t, reducers, len(state))
}

func TestReducerTable_DetectsDrift(t *testing.T) {
	saved := reducers["messages"]
	delete(reducers, "messages")
	defer func() { reducers["messages"] = saved }()

	err := checkReducerTable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages")
}

func TestMerge_Overwrite(t *testing.T) {
	prev := WorkflowState{
		UserProfile:      &UserProfile{UserID: "42", State: "CA"},
		DiscoveryResults: []Result{{ID: "a"}, {ID: "b"}},
		LastActiveNode:   NodeSearch,
	}

	next, err := Merge(prev, Update{
		UserProfile:      &UserProfile{UserID: "42", State: "OR"},
		DiscoveryResults: &[]Result{{ID: "c"}},
		LastActiveNode:   ptr(NodeVerify),
	})
	require.NoError(t, err)

	assert.Equal(t, "OR", next.UserProfile.State)
	assert.Equal(t, []Result{{ID: "c"}}, next.DiscoveryResults)
	assert.Equal(t, NodeVerify, next.LastActiveNode)

	assert.Equal(t, "CA", prev.UserProfile.State, "prev must not change")
	assert.Len(t, prev.DiscoveryResults, 2)
}

func TestMerge_UnsetFieldsAreKept(t *testing.T) {
	approved := true
	prev := WorkflowState{
		DiscoveryResults:    []Result{{ID: "a"}},
		ActiveMilestones:    []Milestone{{Rank: 1, ResultID: "a"}},
		PendingConfirmation: true,
		SAIRangeApproved:    &approved,
	}

	next, err := Merge(prev, Update{})
	require.NoError(t, err)
	assert.Equal(t, prev, next)
}

func TestMerge_ExplicitEmptyListClears(t *testing.T) {
	prev := WorkflowState{ActiveMilestones: []Milestone{{Rank: 1}}}

	next, err := Merge(prev, Update{ActiveMilestones: &[]Milestone{}})
	require.NoError(t, err)
	assert.NotNil(t, next.ActiveMilestones)
	assert.Empty(t, next.ActiveMilestones)
}

func TestMerge_AppendOnly(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	prev := WorkflowState{
		Messages: make([]Message, 1, 8),
		ErrorLog: []ErrorEntry{{Node: NodeSearch, Message: "first", Timestamp: at}},
	}
	prev.Messages[0] = Message{Role: RoleAssistant, Content: "hello"}

	next, err := Merge(prev, Update{
		Messages: []Message{{Role: RoleUser, Content: "yes"}},
		ErrorLog: []ErrorEntry{{Node: NodeVerify, Message: "second", Timestamp: at}},
	})
	require.NoError(t, err)

	require.Len(t, next.Messages, 2)
	assert.Equal(t, "hello", next.Messages[0].Content)
	assert.Equal(t, "yes", next.Messages[1].Content)
	require.Len(t, next.ErrorLog, 2)
	assert.Equal(t, NodeSearch, next.ErrorLog[0].Node)
	assert.Equal(t, NodeVerify, next.ErrorLog[1].Node)

	other, err := Merge(prev, Update{Messages: []Message{{Role: RoleUser, Content: "no"}}})
	require.NoError(t, err)
	assert.Equal(t, "yes", next.Messages[1].Content, "merges from the same prev must not share storage")
	assert.Equal(t, "no", other.Messages[1].Content)
}

func TestMerge_ApprovalIsSetOnce(t *testing.T) {
	first, err := Merge(WorkflowState{}, Update{SAIRangeApproved: ptr(false)})
	require.NoError(t, err)
	require.NotNil(t, first.SAIRangeApproved)
	assert.False(t, *first.SAIRangeApproved)

	second, err := Merge(first, Update{
		SAIRangeApproved: ptr(true),
		Messages:         []Message{{Role: RoleUser, Content: "changed my mind"}},
	})
	require.ErrorIs(t, err, ErrApprovalAlreadySet)
	assert.Equal(t, first, second, "a rejected update applies nothing")
}

func TestMerge_CopiesProfiles(t *testing.T) {
	sai := 1000
	fin := &FinancialProfile{SAI: &sai}
	user := &UserProfile{Interests: []string{"music"}}

	next, err := Merge(WorkflowState{}, Update{UserProfile: user, FinancialProfile: fin})
	require.NoError(t, err)

	sai = 9999
	user.Interests[0] = "changed"
	assert.Equal(t, 1000, *next.FinancialProfile.SAI)
	assert.Equal(t, "music", next.UserProfile.Interests[0])
}
