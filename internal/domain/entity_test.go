package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGovernanceState(t *testing.T) {
	s := NewGovernanceState()
	require.NotNil(t, s)
	require.NotNil(t, s.Graph)
	require.NotNil(t, s.Delegations)
	assert.Equal(t, SchemaVersion, s.Graph.Version)
	assert.Equal(t, SchemaVersion, s.Delegations.Version)
	assert.Empty(t, s.Graph.WorkPlans)
	assert.NotNil(t, s.Anchors)
	assert.NotNil(t, s.Sessions)
}

func TestGovernanceState_Session(t *testing.T) {
	s := &GovernanceState{}
	assert.Nil(t, s.PeekSession("a"))

	ss := s.Session("a")
	require.NotNil(t, ss)
	ss.CapturedAgent = "executor"

	assert.Same(t, ss, s.Session("a"))
	assert.Equal(t, "executor", s.PeekSession("a").CapturedAgent)
}

func TestTaskNode_LastActivity(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	node := &TaskNode{}
	assert.True(t, node.LastActivity().IsZero())

	node.StartedAt = &start
	assert.Equal(t, start, node.LastActivity())

	node.Checkpoints = append(node.Checkpoints, Checkpoint{Timestamp: start.Add(10 * time.Minute)})
	assert.Equal(t, start.Add(10*time.Minute), node.LastActivity())
}

func TestWorkPlan_Progress(t *testing.T) {
	p := &WorkPlan{Tasks: []*TaskNode{
		{Status: TaskCompleted},
		{Status: TaskActive},
		{Status: TaskFailed},
	}}
	done, total := p.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)
}

func TestEnums(t *testing.T) {
	assert.True(t, CategorySpecKit.Valid())
	assert.False(t, Category("misc").Valid())
	assert.True(t, AnchorAttention.Valid())
	assert.False(t, AnchorType("note").Valid())
	assert.True(t, PlanArchived.Closed())
	assert.False(t, PlanCompleted.Closed())
	assert.True(t, TaskFailed.Terminal())
	assert.False(t, TaskReview.Terminal())
	assert.True(t, DelegationExpired.Terminal())
	assert.False(t, DelegationAccepted.Terminal())
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, -1, AnchorPriority("urgent").Rank())
}

func TestNewID(t *testing.T) {
	a := NewID(PrefixTask)
	b := NewID(PrefixTask)
	assert.True(t, strings.HasPrefix(a, "tn-"))
	assert.Len(t, a, len("tn-")+12)
	assert.NotEqual(t, a, b)
}
