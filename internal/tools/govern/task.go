package govern

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/outcome"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

// registerTask registers the govern_task tool.
func registerTask(s *server.MCPServer, t *toolset) {
	s.AddTool(
		mcp.NewTool(ToolTask, withAgentArg(
			mcp.WithDescription("Task lifecycle: add tasks, start the next one, submit for review, finish with evidence, fail, or check status as JSON. task_id defaults to this session's active task."),
			mcp.WithString("action", mcp.Required(), mcp.Description(describeActions(taskActions)), mcp.Enum(taskActions...)),
			mcp.WithString("task_id", mcp.Description("Target task. Defaults to the session's active task (start: the next planned task).")),
			mcp.WithString("plan_id", mcp.Description("Target plan for add. Defaults to the active plan.")),
			mcp.WithString("name", mcp.Description("Task name (add)")),
			mcp.WithString("expected_output", mcp.Description("What done looks like (add). Required.")),
			mcp.WithArray("depends_on", mcp.Description("Task ids or names that must complete first (add)")),
			mcp.WithString("after_task_id", mcp.Description("Temporal gate: task that must complete first (add)")),
			mcp.WithString("gate_reason", mcp.Description("Why the temporal gate exists (add)")),
			mcp.WithString("assigned_to", mcp.Description("Agent the task is assigned to (add)")),
			mcp.WithArray("allowed_tools", mcp.Description("Tools allowed while this task is active; empty means unrestricted (add)")),
			mcp.WithBoolean("plan_ahead", mcp.Description("Queue in the plan-ahead lane instead of the active lane (add)")),
			mcp.WithBoolean("from_plan_ahead", mcp.Description("Promote a plan-ahead task (task_id, or the first one) instead of creating (add)")),
			mcp.WithString("evidence", mcp.Description("What was produced and how it was verified (review, done). Required.")),
			mcp.WithArray("files_modified", mcp.Description("Files changed (done)")),
			mcp.WithArray("tests_run", mcp.Description("Tests executed (done)")),
			mcp.WithString("reason", mcp.Description("Why the task failed (fail)")),
		)...),
		t.handle(ToolTask, t.taskHandler),
	)
}

func (t *toolset) taskHandler(_ context.Context, c call) outcome.Outcome {
	req, err := parseTaskRequest(c.args)
	if err != nil {
		return argFailure(err)
	}
	switch r := req.(type) {
	case taskAdd:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.addTask(st, c, r, now) })
	case taskPromote:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return promoteTask(st, r, now) })
	case taskStart:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.startTask(st, c, r, now) })
	case taskReview:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return reviewTask(st, c, r, now) })
	case taskDone:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return completeTask(st, c, r, now) })
	case taskFail:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return failTask(st, c, r, now) })
	case taskCheck:
		// JSON output: the degraded flag goes in the report, not as a trailing notice.
		degraded, reason := t.svc.Degraded()
		var out outcome.Outcome
		_ = t.svc.Query(func(st *domain.GovernanceState) error {
			out = t.checkTask(st, c, r, t.svc.Now(), degraded, reason)
			return nil
		})
		return out
	}
	return outcome.Errorf("", "unhandled govern_task action %q", req.taskAction())
}

func (t *toolset) addTask(st *domain.GovernanceState, c call, r taskAdd, now time.Time) outcome.Outcome {
	plan, err := taskgraph.ResolvePlan(st.Graph, r.PlanID)
	if err != nil {
		return graphFailure(err)
	}
	deps, out, ok := resolveTaskRefs(plan, r.DependsOn)
	if !ok {
		return out
	}
	spec := taskgraph.TaskSpec{
		Name:           r.Name,
		ExpectedOutput: r.ExpectedOutput,
		DelegatedBy:    t.agentFor(st, c),
		AssignedTo:     r.AssignedTo,
		DependsOn:      deps,
		AllowedTools:   r.AllowedTools,
	}
	if r.AfterTaskID != "" {
		after, out, ok := resolveTaskRefs(plan, []string{r.AfterTaskID})
		if !ok {
			return out
		}
		spec.Gate = &domain.TemporalGate{AfterTaskID: after[0], Reason: r.GateReason}
	}
	node, err := taskgraph.CreateTaskNode(plan, spec, now)
	if err != nil {
		return graphFailure(err)
	}
	lane := "tasks"
	if r.PlanAhead {
		lane = "plan-ahead"
		err = taskgraph.AddPlanAhead(plan, node, now)
	} else {
		err = taskgraph.AddTask(plan, node, now)
	}
	if err != nil {
		return graphFailure(err)
	}
	text := fmt.Sprintf("Added task %s %q to %s %q (%s lane). Status: %s.", node.ID, node.Name, plan.ID, plan.Name, lane, node.Status)
	if node.Status == domain.TaskBlocked {
		text += " Waiting on " + strings.Join(taskgraph.UnmetDependencies(plan, node), ", ") + "."
	}
	return outcome.OK("%s", text)
}

func promoteTask(st *domain.GovernanceState, r taskPromote, now time.Time) outcome.Outcome {
	plan, err := taskgraph.ResolvePlan(st.Graph, r.PlanID)
	if err != nil {
		return graphFailure(err)
	}
	id := r.TaskID
	if id != "" {
		ids, out, ok := resolveTaskRefs(plan, []string{id})
		if !ok {
			return out
		}
		id = ids[0]
	}
	node, err := taskgraph.PromotePlanAhead(plan, id, now)
	if err != nil {
		return graphFailure(err)
	}
	return outcome.OK("Promoted %s %q into the tasks of %q. Status: %s.", node.ID, node.Name, plan.Name, node.Status)
}

func (t *toolset) startTask(st *domain.GovernanceState, c call, r taskStart, now time.Time) outcome.Outcome {
	var (
		plan *domain.WorkPlan
		node *domain.TaskNode
	)
	if r.TaskID == "" {
		p, err := taskgraph.ResolvePlan(st.Graph, "")
		if err != nil {
			return graphFailure(err)
		}
		plan, node = p, taskgraph.NextPlannedTask(p)
		if node == nil {
			return outcome.Errorf("add a task with govern_task add, promote one with from_plan_ahead=true, or pass task_id",
				"plan %q has no planned task to start", p.Name)
		}
	} else {
		var out outcome.Outcome
		var ok bool
		plan, node, out, ok = findTask(st, r.TaskID)
		if !ok {
			return out
		}
	}

	if node.Status == domain.TaskActive {
		app.SetActiveTask(st, c.sessionID, node)
		return outcome.OK("Task %s %q is already active; it is now this session's active task.", node.ID, node.Name)
	}
	if err := taskgraph.StartTask(plan, node, t.agentFor(st, c), now); err != nil {
		if unmet, isUnmet := taskgraph.IsUnmet(err); isUnmet {
			return blockedTask(plan, node, unmet)
		}
		return graphFailure(err)
	}
	app.SetActiveTask(st, c.sessionID, node)
	return outcome.OK("Started %s %q, assigned to %s. Expected output: %s\nIt is now this session's active task; finish with govern_task done evidence=\"...\".",
		node.ID, node.Name, node.AssignedTo, node.ExpectedOutput)
}

func blockedTask(plan *domain.WorkPlan, node *domain.TaskNode, unmet []string) outcome.Outcome {
	waiting := make([]string, len(unmet))
	for i, id := range unmet {
		waiting[i] = id
		for _, lane := range [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead} {
			for _, dep := range lane {
				if dep.ID == id {
					waiting[i] = fmt.Sprintf("%s %q [%s]", dep.ID, dep.Name, dep.Status)
				}
			}
		}
	}
	b := &outcome.Block{
		What:       fmt.Sprintf("task %s %q is blocked", node.ID, node.Name),
		Why:        "it waits on " + strings.Join(waiting, ", "),
		UseInstead: "finish the dependencies first",
		Evidence:   "dependsOn=[" + strings.Join(node.DependsOn, ", ") + "]",
	}
	if node.TemporalGate != nil {
		b.Evidence += fmt.Sprintf(" temporalGate=%s", node.TemporalGate.AfterTaskID)
		if node.TemporalGate.Reason != "" {
			b.Why += " (gate: " + node.TemporalGate.Reason + ")"
		}
	}
	if next := taskgraph.NextPlannedTask(plan); next != nil && next.ID != node.ID {
		b.UseInstead += fmt.Sprintf(", or start %s %q which is ready", next.ID, next.Name)
	}
	return outcome.Blocked(b)
}

func reviewTask(st *domain.GovernanceState, c call, r taskReview, now time.Time) outcome.Outcome {
	plan, node, out, ok := targetTask(st, c, r.TaskID)
	if !ok {
		return out
	}
	if err := taskgraph.SubmitForReview(plan, node, domain.TaskResult{Evidence: r.Evidence}, now); err != nil {
		if unmet, isUnmet := taskgraph.IsUnmet(err); isUnmet {
			return blockedTask(plan, node, unmet)
		}
		return graphFailure(err)
	}
	return outcome.OK("Task %s %q submitted for review with evidence: %s", node.ID, node.Name, r.Evidence)
}

func completeTask(st *domain.GovernanceState, c call, r taskDone, now time.Time) outcome.Outcome {
	plan, node, out, ok := targetTask(st, c, r.TaskID)
	if !ok {
		return out
	}
	promoted, err := taskgraph.CompleteTask(plan, node, domain.TaskResult{
		Evidence:      r.Evidence,
		FilesModified: r.FilesModified,
		TestsRun:      r.TestsRun,
	}, now)
	if err != nil {
		if unmet, isUnmet := taskgraph.IsUnmet(err); isUnmet {
			return blockedTask(plan, node, unmet)
		}
		return graphFailure(err)
	}

	var closed []string
	for _, d := range delegation.ForTask(st.Delegations, node.ID) {
		if d.Status.Terminal() {
			continue
		}
		if err := delegation.Complete(d, domain.DelegationResult{Evidence: r.Evidence, FilesModified: r.FilesModified, TestsRun: r.TestsRun}, now); err == nil {
			closed = append(closed, d.ID)
		}
	}
	clearTaskFromSessions(st, node.ID)
	planDone := taskgraph.MaybeCompletePlan(st.Graph, plan, now)

	var sb strings.Builder
	done, total := plan.Progress()
	fmt.Fprintf(&sb, "Completed %s %q. Plan %q: %d/%d tasks completed.", node.ID, node.Name, plan.Name, done, total)
	if len(promoted) > 0 {
		sb.WriteString("\nUnblocked: ")
		sb.WriteString(joinTasks(promoted))
	}
	if len(closed) > 0 {
		sb.WriteString("\nClosed delegations: " + strings.Join(closed, ", "))
	}
	if planDone {
		fmt.Fprintf(&sb, "\nPlan %s %q is complete.", plan.ID, plan.Name)
	} else if next := taskgraph.NextPlannedTask(plan); next != nil {
		fmt.Fprintf(&sb, "\nNext: %s %q (govern_task start).", next.ID, next.Name)
	}
	return outcome.OK("%s", sb.String())
}

func failTask(st *domain.GovernanceState, c call, r taskFail, now time.Time) outcome.Outcome {
	plan, node, out, ok := targetTask(st, c, r.TaskID)
	if !ok {
		return out
	}
	promoted, err := taskgraph.FailTask(plan, node, r.Reason, now)
	if err != nil {
		return graphFailure(err)
	}
	for _, d := range delegation.ForTask(st.Delegations, node.ID) {
		if !d.Status.Terminal() {
			_ = delegation.Reject(d, "task failed: "+r.Reason, now)
		}
	}
	clearTaskFromSessions(st, node.ID)
	text := fmt.Sprintf("Task %s %q marked failed: %s", node.ID, node.Name, r.Reason)
	if len(promoted) > 0 {
		text += "\nUnblocked: " + joinTasks(promoted)
	}
	if blocked := dependents(plan, node.ID); len(blocked) > 0 {
		text += "\nStill blocked on it: " + joinTasks(blocked)
	}
	return outcome.OK("%s", text)
}

// checkReport is the machine-readable task status.
type checkReport struct {
	taskgraph.TaskReport
	SessionID       string   `json:"session_id"`
	DegradedReason  string   `json:"degraded_reason,omitempty"`
	PendingForAgent []string `json:"pending_for_agent,omitempty"`
}

func (t *toolset) checkTask(st *domain.GovernanceState, c call, r taskCheck, now time.Time, degraded bool, reason string) outcome.Outcome {
	var node *domain.TaskNode
	if r.TaskID != "" {
		_, n, out, ok := findTask(st, r.TaskID)
		if !ok {
			return out
		}
		node = n
	} else {
		_, node = app.ActiveTask(st, c.sessionID)
	}
	report := checkReport{
		TaskReport: taskgraph.BuildReport(st.Graph, node, now, t.svc.Policy().TaskStaleAfter()),
		SessionID:  c.sessionID,
	}
	if node != nil {
		for _, d := range delegation.ForTask(st.Delegations, node.ID) {
			if !d.Status.Terminal() {
				report.Delegations = append(report.Delegations, fmt.Sprintf("%s:%s->%s:%s", d.ID, d.FromAgent, d.ToAgent, d.Status))
			}
		}
	}
	for _, d := range delegation.OpenFor(st.Delegations, t.agentFor(st, c)) {
		report.PendingForAgent = append(report.PendingForAgent, d.ID)
	}
	report.Degraded, report.DegradedReason = degraded, reason

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return outcome.Errorf("", "encode status: %v", err)
	}
	return outcome.OK("%s", data)
}

// targetTask resolves taskID, or the session's active task when it is empty.
func targetTask(st *domain.GovernanceState, c call, taskID string) (*domain.WorkPlan, *domain.TaskNode, outcome.Outcome, bool) {
	if taskID != "" {
		return findTask(st, taskID)
	}
	plan, node := app.ActiveTask(st, c.sessionID)
	if node == nil {
		return nil, nil, outcome.Errorf("pass task_id, or start a task with govern_task start", "no active task in this session"), false
	}
	return plan, node, outcome.Outcome{}, true
}

func findTask(st *domain.GovernanceState, taskID string) (*domain.WorkPlan, *domain.TaskNode, outcome.Outcome, bool) {
	node := taskgraph.FindTaskNode(st.Graph, taskID)
	if node == nil {
		return nil, nil, graphFailure(fmt.Errorf("%w: %s", taskgraph.ErrTaskNotFound, taskID)), false
	}
	return taskgraph.FindParentPlan(st.Graph, taskID), node, outcome.Outcome{}, true
}

// resolveTaskRefs maps ids or names to task ids within plan.
func resolveTaskRefs(plan *domain.WorkPlan, refs []string) ([]string, outcome.Outcome, bool) {
	if len(refs) == 0 {
		return nil, outcome.Outcome{}, true
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		id := findTaskRef(plan, ref)
		if id == "" {
			return nil, graphFailure(fmt.Errorf("%w: %q is not a task of plan %s", taskgraph.ErrUnknownDependency, ref, plan.Name)), false
		}
		out = append(out, id)
	}
	return out, outcome.Outcome{}, true
}

func findTaskRef(plan *domain.WorkPlan, ref string) string {
	lanes := [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead}
	for _, lane := range lanes {
		for _, n := range lane {
			if n.ID == ref {
				return n.ID
			}
		}
	}
	for _, lane := range lanes {
		for _, n := range lane {
			if n.Name == ref {
				return n.ID
			}
		}
	}
	return ""
}

func dependents(plan *domain.WorkPlan, taskID string) []*domain.TaskNode {
	var out []*domain.TaskNode
	for _, lane := range [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead} {
		for _, n := range lane {
			if n.Status != domain.TaskBlocked {
				continue
			}
			for _, id := range taskgraph.UnmetDependencies(plan, n) {
				if id == taskID {
					out = append(out, n)
					break
				}
			}
		}
	}
	return out
}

func clearTaskFromSessions(st *domain.GovernanceState, taskID string) {
	app.ClearActiveTaskEverywhere(st, taskID)
}

func joinTasks(nodes []*domain.TaskNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprintf("%s %q", n.ID, n.Name)
	}
	return strings.Join(parts, ", ")
}
