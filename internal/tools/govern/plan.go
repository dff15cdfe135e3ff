package govern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/outcome"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

func categoryNames() []string {
	out := make([]string, len(domain.Categories))
	for i, c := range domain.Categories {
		out[i] = string(c)
	}
	return out
}

// registerPlan registers the govern_plan tool.
func registerPlan(s *server.MCPServer, t *toolset) {
	s.AddTool(
		mcp.NewTool(ToolPlan, withAgentArg(
			mcp.WithDescription("Manage work plans: create a plan with acceptance criteria, queue future tasks, inspect progress, and close plans. Only one plan is active at a time."),
			mcp.WithString("action", mcp.Required(), mcp.Description(describeActions(planActions)), mcp.Enum(planActions...)),
			mcp.WithString("name", mcp.Description("Plan name (create)")),
			mcp.WithArray("acceptance", mcp.Description("Acceptance criteria strings (create)")),
			mcp.WithString("category", mcp.Description("Work category; sets the governance level (create)"), mcp.Enum(categoryNames()...)),
			mcp.WithString("owner", mcp.Description("Owning agent (create). Defaults to the acting agent.")),
			mcp.WithArray("tasks", mcp.Description(`Future tasks for the plan-ahead lane (plan_tasks): [{"name", "expected_output", "depends_on": [ids or names]}]`)),
			mcp.WithString("plan_id", mcp.Description("Target plan. Defaults to the active plan.")),
			mcp.WithString("reason", mcp.Description("Why the plan is closed (archive, abandon)")),
		)...),
		t.handle(ToolPlan, t.planHandler),
	)
}

func (t *toolset) planHandler(_ context.Context, c call) outcome.Outcome {
	req, err := parsePlanRequest(c.args)
	if err != nil {
		return argFailure(err)
	}
	switch r := req.(type) {
	case planCreate:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.createPlan(st, c, r, now) })
	case planTasks:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.planAhead(st, c, r, now) })
	case planStatus:
		return t.query(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.planStatus(st, r, now) })
	case planList:
		return t.query(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return listPlans(st, now) })
	case planActivate:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome {
			return transitionPlan(st, r.PlanID, domain.PlanActive, "", now)
		})
	case planArchive:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome {
			return transitionPlan(st, r.PlanID, domain.PlanArchived, r.Reason, now)
		})
	case planAbandon:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome {
			return transitionPlan(st, r.PlanID, domain.PlanAbandoned, r.Reason, now)
		})
	}
	return outcome.Errorf("", "unhandled govern_plan action %q", req.planAction())
}

func (t *toolset) createPlan(st *domain.GovernanceState, c call, r planCreate, now time.Time) outcome.Outcome {
	owner := r.Owner
	if owner == "" {
		owner = t.agentFor(st, c)
	}
	plan, err := taskgraph.CreateWorkPlan(r.Name, r.Acceptance, r.Category, owner, now)
	if err != nil {
		return graphFailure(err)
	}
	current := taskgraph.ActivePlan(st.Graph)
	activated := taskgraph.AppendWorkPlan(st.Graph, plan)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Created plan %s %q [%s, governance %s], owner %s.", plan.ID, plan.Name, plan.Category, plan.GovernanceLevel, plan.Owner)
	if activated {
		sb.WriteString(" Status: active.")
	} else {
		fmt.Fprintf(&sb, " Status: draft; plan %s %q is still active. Activate this one with govern_plan activate once it closes.", current.ID, current.Name)
	}
	sb.WriteString("\nNext: add tasks with govern_task add, or queue them with govern_plan plan_tasks.")
	return outcome.OK("%s", sb.String())
}

func (t *toolset) planAhead(st *domain.GovernanceState, c call, r planTasks, now time.Time) outcome.Outcome {
	plan, err := taskgraph.ResolvePlan(st.Graph, r.PlanID)
	if err != nil {
		return graphFailure(err)
	}
	agent := t.agentFor(st, c)
	lines := make([]string, 0, len(r.Tasks))
	for _, d := range r.Tasks {
		deps, out, ok := resolveTaskRefs(plan, d.DependsOn)
		if !ok {
			return out
		}
		node, err := taskgraph.CreateTaskNode(plan, taskgraph.TaskSpec{
			Name:           d.Name,
			ExpectedOutput: d.ExpectedOutput,
			DelegatedBy:    agent,
			DependsOn:      deps,
		}, now)
		if err != nil {
			return graphFailure(err)
		}
		if err := taskgraph.AddPlanAhead(plan, node, now); err != nil {
			return graphFailure(err)
		}
		lines = append(lines, fmt.Sprintf("  - %s %s [%s]", node.ID, node.Name, node.Status))
	}
	return outcome.OK("Queued %d task(s) in the plan-ahead lane of %s %q:\n%s\nPromote one with govern_task add from_plan_ahead=true.",
		len(lines), plan.ID, plan.Name, strings.Join(lines, "\n"))
}

func (t *toolset) planStatus(st *domain.GovernanceState, r planStatus, now time.Time) outcome.Outcome {
	plan, err := taskgraph.ResolvePlan(st.Graph, r.PlanID)
	if errors.Is(err, taskgraph.ErrNoActivePlan) {
		out := listPlans(st, now)
		out.Text = "No active plan.\n" + out.Text
		return out
	}
	if err != nil {
		return graphFailure(err)
	}
	pol := t.svc.Policy()
	var sb strings.Builder
	sb.WriteString(taskgraph.FormatPlan(plan, now, pol.TaskStaleAfter()))

	var open []string
	for _, lane := range [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead} {
		for _, node := range lane {
			for _, d := range delegation.ForTask(st.Delegations, node.ID) {
				if !d.Status.Terminal() {
					open = append(open, "  "+delegation.Format(d, now))
				}
			}
		}
	}
	if len(open) > 0 {
		sb.WriteString("\nOpen delegations:\n")
		sb.WriteString(strings.Join(open, "\n"))
	}
	if !taskgraph.InActiveContext(plan, now, pol.PlanGrace()) {
		sb.WriteString("\nThis plan is closed and no longer injected into context.")
	}
	return outcome.OK("%s", sb.String())
}

func listPlans(st *domain.GovernanceState, now time.Time) outcome.Outcome {
	if len(st.Graph.WorkPlans) == 0 {
		return outcome.OK("No plans yet. Create one with govern_plan create.")
	}
	var sb strings.Builder
	sb.WriteString("Plans:")
	for _, p := range st.Graph.WorkPlans {
		done, total := p.Progress()
		marker := " "
		if p.ID == st.Graph.ActiveWorkPlanID {
			marker = "*"
		}
		fmt.Fprintf(&sb, "\n%s %s %s [%s, %s] %d/%d done", marker, p.ID, p.Name, p.Status, p.Category, done, total)
		if p.PurgedAt != nil {
			sb.WriteString(" (purged)")
		}
	}
	return outcome.OK("%s", sb.String())
}

func transitionPlan(st *domain.GovernanceState, planID string, to domain.PlanStatus, reason string, now time.Time) outcome.Outcome {
	plan, err := taskgraph.ResolvePlan(st.Graph, planID)
	if err != nil {
		return graphFailure(err)
	}
	from := plan.Status
	if err := taskgraph.TransitionPlan(st.Graph, plan, to, reason, now); err != nil {
		if errors.Is(err, taskgraph.ErrAnotherPlanActive) {
			active := taskgraph.ActivePlan(st.Graph)
			return outcome.Blocked(&outcome.Block{
				What:       fmt.Sprintf("cannot activate plan %s %q", plan.ID, plan.Name),
				Why:        fmt.Sprintf("plan %s %q is active and only one plan may be active at a time", active.ID, active.Name),
				UseInstead: fmt.Sprintf("finish, archive or abandon %s first (govern_plan archive/abandon plan_id=%s)", active.ID, active.ID),
				Evidence:   "activeWorkPlanId=" + active.ID,
			})
		}
		return graphFailure(err)
	}
	if to.Closed() {
		for _, lane := range [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead} {
			for _, node := range lane {
				clearTaskFromSessions(st, node.ID)
			}
		}
	}
	text := fmt.Sprintf("Plan %s %q: %s -> %s.", plan.ID, plan.Name, from, to)
	if reason != "" && to.Closed() {
		text += " Reason: " + reason
	}
	return outcome.OK("%s", text)
}

// graphFailure maps task graph errors to tool outcomes.
func graphFailure(err error) outcome.Outcome {
	if unmet, ok := taskgraph.IsUnmet(err); ok {
		return outcome.Blocked(&outcome.Block{
			What:       "dependencies are not completed",
			Why:        "waiting on " + strings.Join(unmet, ", "),
			UseInstead: "complete the dependencies first (govern_plan status shows them)",
			Evidence:   err.Error(),
		})
	}
	switch {
	case errors.Is(err, taskgraph.ErrPlanNotFound):
		return outcome.Errorf("govern_plan list shows plan ids", "%v", err)
	case errors.Is(err, taskgraph.ErrNoActivePlan):
		return outcome.Errorf("create a plan with govern_plan create, or pass plan_id", "%v", err)
	case errors.Is(err, taskgraph.ErrTaskNotFound), errors.Is(err, taskgraph.ErrUnknownDependency):
		return outcome.Errorf("govern_plan status lists task ids", "%v", err)
	case errors.Is(err, taskgraph.ErrInvalidTransition), errors.Is(err, taskgraph.ErrPlanClosed):
		return outcome.Errorf("check the current status with govern_task check or govern_plan status", "%v", err)
	case errors.Is(err, taskgraph.ErrInvalidCategory):
		return outcome.Errorf("use one of: "+strings.Join(categoryNames(), ", "), "%v", err)
	}
	return outcome.Errorf("", "%v", err)
}
