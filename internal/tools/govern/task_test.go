package govern

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/outcome"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

func TestAuthPlanEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)

	t1 := env.taskByName(t, "Build login")
	t2 := env.taskByName(t, "Write tests")
	assert.Equal(t, domain.TaskPlanned, t1.Status)
	assert.Equal(t, domain.TaskBlocked, t2.Status)
	assert.Equal(t, []string{t1.ID}, t2.DependsOn)

	text := env.ok(t, ToolTask, map[string]any{"action": "start"})
	assert.Contains(t, text, "Started "+t1.ID)

	text = env.ok(t, ToolTask, map[string]any{"action": "done", "evidence": "form renders"})
	assert.Contains(t, text, "1/2 tasks completed")
	assert.Contains(t, text, "Unblocked: "+t2.ID)
	assert.Equal(t, domain.TaskPlanned, env.taskByName(t, "Write tests").Status)

	env.ok(t, ToolTask, map[string]any{"action": "start", "task_id": t2.ID})
	text = env.ok(t, ToolTask, map[string]any{"action": "done", "evidence": "12/12 tests pass", "tests_run": []any{"auth_test"}})
	assert.Contains(t, text, "2/2 tasks completed")
	assert.Contains(t, text, "is complete")

	env.state(t, func(st *domain.GovernanceState) {
		require.Len(t, st.Graph.WorkPlans, 1)
		plan := st.Graph.WorkPlans[0]
		assert.Equal(t, domain.PlanCompleted, plan.Status)
		assert.Empty(t, st.Graph.ActiveWorkPlanID)
		done, total := plan.Progress()
		assert.Equal(t, 2, done)
		assert.Equal(t, 2, total)
		assert.Equal(t, []string{"auth_test"}, plan.Tasks[1].Result.TestsRun)
		assert.Nil(t, st.Session("default").ActiveTask)
	})
}

func TestStartBlockedTaskNamesDependencies(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	t2 := env.taskByName(t, "Write tests")

	text := env.fail(t, ToolTask, map[string]any{"action": "start", "task_id": t2.ID})
	assert.Equal(t, outcome.KindBlock, outcome.Classify(text))
	assert.Contains(t, text, t1.ID)
	assert.Contains(t, text, "Build login")
	assert.Contains(t, text, "USE INSTEAD")

	env.state(t, func(st *domain.GovernanceState) {
		require.NotNil(t, st.Session("default").LastBlock)
		assert.Equal(t, ToolTask, st.Session("default").LastBlock.Tool)
	})
}

func TestDoneRequiresEvidence(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.ok(t, ToolTask, map[string]any{"action": "start"})

	text := env.fail(t, ToolTask, map[string]any{"action": "done"})
	assert.Contains(t, text, "ERROR: evidence is required")
	assert.Contains(t, text, "FIX:")
	assert.Equal(t, domain.TaskActive, env.taskByName(t, "Build login").Status)
}

func TestDoneWithoutActiveTask(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	text := env.fail(t, ToolTask, map[string]any{"action": "done", "evidence": "x"})
	assert.Contains(t, text, "no active task")
}

func TestAddWithUnknownDependencyRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.fail(t, ToolTask, map[string]any{"action": "add", "name": "Deploy", "expected_output": "live", "depends_on": []any{"nope"}})

	env.state(t, func(st *domain.GovernanceState) {
		assert.Len(t, taskgraph.ActivePlan(st.Graph).Tasks, 2)
	})
}

func TestDependencyNamesMatchExactly(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	text := env.fail(t, ToolTask, map[string]any{"action": "add", "name": "Deploy", "expected_output": "live", "depends_on": []any{"build login"}})
	assert.Contains(t, text, `"build login"`)

	env.ok(t, ToolTask, map[string]any{"action": "add", "name": "Deploy", "expected_output": "live", "depends_on": []any{"Build login"}})
	assert.Equal(t, domain.TaskBlocked, env.taskByName(t, "Deploy").Status)
}

func TestAddWithoutPlan(t *testing.T) {
	env := newTestEnv(t)
	text := env.fail(t, ToolTask, map[string]any{"action": "add", "name": "x", "expected_output": "y"})
	assert.Contains(t, text, "govern_plan create")
}

func TestTemporalGateBlocksUntilPredecessorCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	t1 := env.taskByName(t, "Build login")
	env.ok(t, ToolTask, map[string]any{"action": "add", "name": "Release", "expected_output": "tagged", "after_task_id": t1.ID, "gate_reason": "ship after login"})

	rel := env.taskByName(t, "Release")
	require.NotNil(t, rel.TemporalGate)
	assert.Equal(t, domain.TaskBlocked, rel.Status)

	text := env.fail(t, ToolTask, map[string]any{"action": "start", "task_id": rel.ID})
	assert.Contains(t, text, "ship after login")
}

func TestFailTaskClearsActiveTaskAndKeepsDependentsBlocked(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.ok(t, ToolTask, map[string]any{"action": "start"})

	text := env.ok(t, ToolTask, map[string]any{"action": "fail", "reason": "design changed"})
	assert.Contains(t, text, "marked failed: design changed")
	assert.Contains(t, text, "Still blocked on it")

	env.state(t, func(st *domain.GovernanceState) {
		assert.Nil(t, st.Session("default").ActiveTask)
	})
	assert.Equal(t, domain.TaskFailed, env.taskByName(t, "Build login").Status)
}

func TestReviewRecordsEvidence(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.ok(t, ToolTask, map[string]any{"action": "start"})
	env.ok(t, ToolTask, map[string]any{"action": "review", "evidence": "ready for a look"})

	node := env.taskByName(t, "Build login")
	assert.Equal(t, domain.TaskReview, node.Status)
	require.NotNil(t, node.Result)
	assert.Equal(t, "ready for a look", node.Result.Evidence)
}

func TestPlanAheadPromotion(t *testing.T) {
	env := newTestEnv(t)
	env.ok(t, ToolPlan, map[string]any{"action": "create", "name": "Search", "category": "research"})
	text := env.ok(t, ToolPlan, map[string]any{"action": "plan_tasks", "tasks": []any{
		map[string]any{"name": "Survey", "expected_output": "notes"},
		map[string]any{"name": "Compare", "expected_output": "table", "depends_on": []any{"Survey"}},
	}})
	assert.Contains(t, text, "Queued 2 task(s)")

	env.ok(t, ToolTask, map[string]any{"action": "add", "from_plan_ahead": true})
	env.state(t, func(st *domain.GovernanceState) {
		plan := taskgraph.ActivePlan(st.Graph)
		require.Len(t, plan.Tasks, 1)
		assert.Equal(t, "Survey", plan.Tasks[0].Name)
		assert.Len(t, plan.PlanAhead, 1)
	})
}

func TestCheckReturnsJSON(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.ok(t, ToolTask, map[string]any{"action": "start"})
	env.clock.advance(31 * time.Minute)

	text := env.ok(t, ToolTask, map[string]any{"action": "check"})
	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.Equal(t, "Build login", report.TaskName)
	assert.True(t, report.Stale)
	assert.Equal(t, 0, report.Completed)
	assert.Equal(t, 2, report.Total)
	assert.False(t, report.Degraded)
	assert.Equal(t, "default", report.SessionID)
}

func TestPlanStatusAndList(t *testing.T) {
	env := newTestEnv(t)
	text := env.ok(t, ToolPlan, map[string]any{"action": "status"})
	assert.Contains(t, text, "No active plan.")

	env.createAuthPlan(t)
	text = env.ok(t, ToolPlan, map[string]any{"action": "status"})
	assert.Contains(t, text, "Auth")
	assert.Contains(t, text, "0/2 tasks completed")

	text = env.ok(t, ToolPlan, map[string]any{"action": "create", "name": "Docs", "category": "maintenance"})
	assert.Contains(t, text, "Status: draft")

	text = env.ok(t, ToolPlan, map[string]any{"action": "list"})
	assert.Contains(t, text, "* ")
	assert.Contains(t, text, "Docs [draft, maintenance]")
}

func TestActivateWhileAnotherPlanIsActiveIsBlocked(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.ok(t, ToolPlan, map[string]any{"action": "create", "name": "Docs", "category": "maintenance"})

	var docsID string
	env.state(t, func(st *domain.GovernanceState) { docsID = st.Graph.WorkPlans[1].ID })

	text := env.fail(t, ToolPlan, map[string]any{"action": "activate", "plan_id": docsID})
	assert.Equal(t, outcome.KindBlock, outcome.Classify(text))

	env.ok(t, ToolPlan, map[string]any{"action": "abandon", "reason": "descoped"})
	env.ok(t, ToolPlan, map[string]any{"action": "activate", "plan_id": docsID})
	env.state(t, func(st *domain.GovernanceState) {
		assert.Equal(t, docsID, st.Graph.ActiveWorkPlanID)
		assert.Equal(t, "descoped", st.Graph.WorkPlans[0].CloseReason)
	})
}

func TestAbandonClearsActiveTask(t *testing.T) {
	env := newTestEnv(t)
	env.createAuthPlan(t)
	env.ok(t, ToolTask, map[string]any{"action": "start"})
	env.ok(t, ToolPlan, map[string]any{"action": "abandon", "reason": "wrong approach"})

	env.state(t, func(st *domain.GovernanceState) {
		assert.Nil(t, st.Session("default").ActiveTask)
	})
}

func TestUnknownActionIsAnError(t *testing.T) {
	env := newTestEnv(t)
	text := env.fail(t, ToolTask, map[string]any{"action": "explode"})
	assert.Contains(t, text, `unknown action "explode"`)
}
