package govern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/outcome"
)

func (e *testEnv) delegations(t *testing.T) []domain.DelegationRecord {
	t.Helper()
	var out []domain.DelegationRecord
	e.state(t, func(st *domain.GovernanceState) {
		for _, d := range st.Delegations.Delegations {
			out = append(out, *d)
		}
	})
	return out
}

func TestResearchDelegationRouting(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")

	text := env.fail(t, ToolDelegate, map[string]any{
		"action": "assign", "task_id": t1.ID, "to_agent": "executor", "category": "research",
		"context": "find prior art", "agent": "coordinator",
	})
	assert.Equal(t, outcome.KindBlock, outcome.Classify(text))
	assert.Contains(t, text, "investigator")
	assert.Contains(t, text, "rule="+string(delegation.RuleRouting))
	assert.Empty(t, env.delegations(t))

	text = env.ok(t, ToolDelegate, map[string]any{
		"action": "assign", "task_id": t1.ID, "to_agent": "investigator", "category": "research",
		"context": "find prior art", "agent": "coordinator",
	})
	assert.Contains(t, text, "to investigator")

	recs := env.delegations(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.DelegationPending, recs[0].Status)
	assert.Equal(t, 3, recs[0].MaxDepth)
	assert.Equal(t, "coordinator", recs[0].FromAgent)
	assert.Equal(t, t1.ID, recs[0].TaskID)
	assert.Equal(t, "form renders", recs[0].ExpectedOutput)
	assert.Equal(t, "investigator", env.taskByName(t, "Build login").AssignedTo)
}

func TestAssignSuggestsAgentFromRouting(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")

	text := env.ok(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "context": "build it"})
	assert.Contains(t, text, "suggested by routing")

	recs := env.delegations(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "executor", recs[0].ToAgent)
	assert.Equal(t, domain.CategoryDevelopment, recs[0].Category)
}

func TestUpwardDelegationIsBlocked(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")

	text := env.fail(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "coordinator", "context": "x", "agent": "builder"})
	assert.Contains(t, text, "upward")
}

func TestDelegationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	env.ok(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "executor", "context": "build it", "agent": "coordinator"})
	id := env.delegations(t)[0].ID

	// only the delegate may accept
	text := env.fail(t, ToolDelegate, map[string]any{"action": "accept", "delegation_id": id, "agent": "coordinator"})
	assert.Equal(t, outcome.KindBlock, outcome.Classify(text))

	env.ok(t, ToolDelegate, map[string]any{"action": "accept", "delegation_id": id, "agent": "executor"})
	assert.Equal(t, domain.DelegationAccepted, env.delegations(t)[0].Status)

	env.fail(t, ToolDelegate, map[string]any{"action": "accept", "delegation_id": id, "agent": "executor"})

	env.ok(t, ToolDelegate, map[string]any{"action": "complete", "delegation_id": id, "evidence": "form renders", "agent": "executor"})
	rec := env.delegations(t)[0]
	assert.Equal(t, domain.DelegationCompleted, rec.Status)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "form renders", rec.Result.Evidence)
	assert.NotNil(t, rec.CompletedAt)

	text = env.fail(t, ToolDelegate, map[string]any{"action": "reject", "delegation_id": id, "reason": "late", "agent": "executor"})
	assert.Contains(t, text, "already completed")
}

func TestRecallRevertsAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	env.ok(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "executor", "context": "build it", "agent": "coordinator"})
	id := env.delegations(t)[0].ID

	env.fail(t, ToolDelegate, map[string]any{"action": "recall", "delegation_id": id, "agent": "executor"})
	env.ok(t, ToolDelegate, map[string]any{"action": "recall", "delegation_id": id, "agent": "coordinator"})

	rec := env.delegations(t)[0]
	assert.Equal(t, domain.DelegationRejected, rec.Status)
	assert.Equal(t, "recalled by coordinator", rec.RejectReason)
	assert.Equal(t, "coordinator", env.taskByName(t, "Build login").AssignedTo)
}

func TestDelegationDepthLimit(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	for i := 0; i < delegation.MaxDepth; i++ {
		env.ok(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "builder", "context": "again", "agent": "executor"})
	}
	text := env.fail(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "builder", "context": "again", "agent": "executor"})
	assert.Contains(t, text, "rule="+string(delegation.RuleDepth))
}

func TestPendingDelegationExpires(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	env.ok(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "executor", "context": "build it", "agent": "coordinator"})

	env.clock.advance(31 * time.Minute)
	text := env.ok(t, ToolDelegate, map[string]any{"action": "status", "task_id": t1.ID})
	assert.Contains(t, text, "[expired]")
}

func TestDoneClosesOpenDelegations(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	env.ok(t, ToolDelegate, map[string]any{"action": "assign", "task_id": t1.ID, "to_agent": "executor", "context": "build it", "agent": "coordinator"})
	env.ok(t, ToolTask, map[string]any{"action": "start", "task_id": t1.ID})

	text := env.ok(t, ToolTask, map[string]any{"action": "done", "evidence": "form renders"})
	assert.Contains(t, text, "Closed delegations")
	assert.Equal(t, domain.DelegationCompleted, env.delegations(t)[0].Status)
}
