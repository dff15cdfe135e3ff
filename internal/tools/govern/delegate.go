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

// registerDelegate registers the govern_delegate tool.
func registerDelegate(s *server.MCPServer, t *toolset) {
	s.AddTool(
		mcp.NewTool(ToolDelegate, withAgentArg(
			mcp.WithDescription("Hand a task to another agent and track the handoff. Delegation flows down the hierarchy (coordinator > governor > planner/executor/investigator > builder/verifier), at most "+fmt.Sprint(delegation.MaxDepth)+" deep per task, and is routed by category."),
			mcp.WithString("action", mcp.Required(), mcp.Description(describeActions(delegateActions)), mcp.Enum(delegateActions...)),
			mcp.WithString("task_id", mcp.Description("Task to delegate (assign) or inspect (status). Defaults to the session's active task.")),
			mcp.WithString("to_agent", mcp.Description("Receiving agent (assign). Suggested from the routing table when omitted."), mcp.Enum(delegation.KnownAgents()...)),
			mcp.WithString("category", mcp.Description("Work category for routing (assign). Defaults to the plan's category."), mcp.Enum(categoryNames()...)),
			mcp.WithString("context", mcp.Description("What the delegate needs to know (assign). Required.")),
			mcp.WithString("expected_output", mcp.Description("What the delegate must deliver (assign). Defaults to the task's expected output.")),
			mcp.WithArray("allowed_tools", mcp.Description("Tools the delegate may use (assign)")),
			mcp.WithArray("allowed_actions", mcp.Description("Actions the delegate may take (assign)")),
			mcp.WithString("delegation_id", mcp.Description("Delegation to act on (accept, complete, reject, recall)")),
			mcp.WithString("evidence", mcp.Description("What was delivered (complete)")),
			mcp.WithArray("files_modified", mcp.Description("Files changed (complete)")),
			mcp.WithArray("tests_run", mcp.Description("Tests executed (complete)")),
			mcp.WithArray("brain_entries", mcp.Description("Knowledge entries created (complete)")),
			mcp.WithString("reason", mcp.Description("Why the delegation is refused or withdrawn (reject, recall)")),
		)...),
		t.handle(ToolDelegate, t.delegateHandler),
	)
}

func (t *toolset) delegateHandler(_ context.Context, c call) outcome.Outcome {
	req, err := parseDelegateRequest(c.args)
	if err != nil {
		return argFailure(err)
	}
	switch r := req.(type) {
	case delegateAssign:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.assign(st, c, r, now) })
	case delegateAccept:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.accept(st, c, r, now) })
	case delegateComplete:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.completeDelegation(st, c, r, now) })
	case delegateReject:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.reject(st, c, r, now) })
	case delegateRecall:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.recall(st, c, r, now) })
	case delegateStatus:
		return t.query(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.delegationStatus(st, c, r, now) })
	}
	return outcome.Errorf("", "unhandled govern_delegate action %q", req.delegateAction())
}

func (t *toolset) assign(st *domain.GovernanceState, c call, r delegateAssign, now time.Time) outcome.Outcome {
	plan, node, out, ok := targetTask(st, c, r.TaskID)
	if !ok {
		return out
	}
	if node.Status.Terminal() {
		return outcome.Errorf("delegate an open task", "task %s %q is already %s", node.ID, node.Name, node.Status)
	}
	category := r.Category
	if category == "" && plan != nil {
		category = plan.Category
	}
	from := t.agentFor(st, c)
	depth := delegation.Depth(st.Delegations, node.ID)

	to := r.ToAgent
	if to == "" {
		suggested, err := delegation.Suggest(from, category, depth)
		if err != nil {
			return rejectionBlock(from, "", node, depth, category, err)
		}
		to = suggested
	}
	if err := delegation.Validate(from, to, depth, category); err != nil {
		return rejectionBlock(from, to, node, depth, category, err)
	}

	expected := r.ExpectedOutput
	if expected == "" {
		expected = node.ExpectedOutput
	}
	rec := delegation.Create(st.Delegations, delegation.Request{
		From:           from,
		To:             to,
		TaskID:         node.ID,
		Context:        r.Context,
		ExpectedOutput: expected,
		Category:       category,
		AllowedTools:   r.AllowedTools,
		AllowedActions: r.AllowedActions,
		CurrentDepth:   depth,
	}, now, t.svc.Policy().DelegationTTL())
	node.DelegatedBy = from
	node.AssignedTo = to
	node.ModifiedAt = now

	suggested := ""
	if r.ToAgent == "" {
		suggested = " (suggested by routing)"
	}
	return outcome.OK("Delegated %s %q from %s to %s%s as %s. Status: %s, expires %s, remaining depth %d.\nThe delegate accepts with govern_delegate accept delegation_id=%s.",
		node.ID, node.Name, from, to, suggested, rec.ID, rec.Status, rec.ExpiresAt.UTC().Format(time.RFC3339), rec.MaxDepth, rec.ID)
}

func rejectionBlock(from, to string, node *domain.TaskNode, depth int, category domain.Category, err error) outcome.Outcome {
	var rej *delegation.Rejection
	if !errors.As(err, &rej) {
		return outcome.Errorf("", "%v", err)
	}
	target := to
	if target == "" {
		target = "any agent"
	}
	b := &outcome.Block{
		What:     fmt.Sprintf("%s cannot delegate %s to %s", from, node.ID, target),
		Why:      rej.Reason,
		Evidence: fmt.Sprintf("rule=%s depth=%d/%d category=%s", rej.Rule, depth, delegation.MaxDepth, category),
	}
	switch rej.Rule {
	case delegation.RuleRouting:
		if routed := delegation.RoutedAgents(category); len(routed) > 0 {
			b.UseInstead = "delegate to one of: " + strings.Join(routed, ", ")
		} else {
			b.UseInstead = "pick a category with govern_delegate category=..."
		}
	case delegation.RuleUpward, delegation.RuleSelf:
		b.UseInstead = "delegate to a peer or a more junior agent, or do the work yourself"
	case delegation.RuleDepth:
		b.UseInstead = "do the work at the current level or split the task with govern_task add"
	case delegation.RuleUnknownAgent:
		b.UseInstead = "use one of: " + strings.Join(delegation.KnownAgents(), ", ")
	}
	return outcome.Blocked(b)
}

// openDelegation finds id and checks that it is still open.
func openDelegation(st *domain.GovernanceState, id string) (*domain.DelegationRecord, outcome.Outcome, bool) {
	rec := delegation.Find(st.Delegations, id)
	if rec == nil {
		return nil, outcome.Errorf("govern_delegate status lists delegation ids", "%v: %s", delegation.ErrNotFound, id), false
	}
	if rec.Status.Terminal() {
		return nil, outcome.Errorf("create a new delegation with govern_delegate assign", "delegation %s is already %s", rec.ID, rec.Status), false
	}
	return rec, outcome.Outcome{}, true
}

func wrongParty(rec *domain.DelegationRecord, agent, role, who string) outcome.Outcome {
	return outcome.Blocked(&outcome.Block{
		What:       fmt.Sprintf("%s cannot %s delegation %s", agent, role, rec.ID),
		Why:        fmt.Sprintf("only %s (%s) may %s it", who, rec.ToAgent, role),
		UseInstead: "act as the right agent, or ask it to act",
		Evidence:   fmt.Sprintf("from=%s to=%s status=%s", rec.FromAgent, rec.ToAgent, rec.Status),
	})
}

func (t *toolset) accept(st *domain.GovernanceState, c call, r delegateAccept, _ time.Time) outcome.Outcome {
	rec, out, ok := openDelegation(st, r.ID)
	if !ok {
		return out
	}
	if agent := t.agentFor(st, c); agent != rec.ToAgent {
		return wrongParty(rec, agent, "accept", "the delegate")
	}
	if err := delegation.Accept(rec); err != nil {
		return outcome.Errorf("only pending delegations can be accepted", "%v", err)
	}
	if node := findNode(st, rec.TaskID); node != nil {
		node.AssignedTo = rec.ToAgent
	}
	return outcome.OK("Accepted %s: %s.\nContext: %s\nExpected output: %s\nFinish with govern_delegate complete delegation_id=%s evidence=\"...\".",
		rec.ID, rec.TaskID, rec.Context, rec.ExpectedOutput, rec.ID)
}

func (t *toolset) completeDelegation(st *domain.GovernanceState, c call, r delegateComplete, now time.Time) outcome.Outcome {
	rec, out, ok := openDelegation(st, r.ID)
	if !ok {
		return out
	}
	if agent := t.agentFor(st, c); agent != rec.ToAgent {
		return wrongParty(rec, agent, "complete", "the delegate")
	}
	err := delegation.Complete(rec, domain.DelegationResult{
		Evidence:      r.Evidence,
		FilesModified: r.FilesModified,
		TestsRun:      r.TestsRun,
		BrainEntries:  r.BrainEntries,
	}, now)
	if err != nil {
		return outcome.Errorf("", "%v", err)
	}
	return outcome.OK("Completed %s. %s can now verify and finish task %s with govern_task done.", rec.ID, rec.FromAgent, rec.TaskID)
}

func (t *toolset) reject(st *domain.GovernanceState, c call, r delegateReject, now time.Time) outcome.Outcome {
	rec, out, ok := openDelegation(st, r.ID)
	if !ok {
		return out
	}
	if agent := t.agentFor(st, c); agent != rec.ToAgent {
		return wrongParty(rec, agent, "reject", "the delegate")
	}
	if err := delegation.Reject(rec, r.Reason, now); err != nil {
		return outcome.Errorf("", "%v", err)
	}
	revertAssignment(st, rec, now)
	return outcome.OK("Rejected %s: %s. Task %s is back with %s.", rec.ID, r.Reason, rec.TaskID, rec.FromAgent)
}

func (t *toolset) recall(st *domain.GovernanceState, c call, r delegateRecall, now time.Time) outcome.Outcome {
	rec, out, ok := openDelegation(st, r.ID)
	if !ok {
		return out
	}
	if agent := t.agentFor(st, c); agent != rec.FromAgent {
		return outcome.Blocked(&outcome.Block{
			What:       fmt.Sprintf("%s cannot recall delegation %s", agent, rec.ID),
			Why:        fmt.Sprintf("only the delegator (%s) may recall it", rec.FromAgent),
			UseInstead: "the delegate can reject it with govern_delegate reject",
			Evidence:   fmt.Sprintf("from=%s to=%s status=%s", rec.FromAgent, rec.ToAgent, rec.Status),
		})
	}
	reason := r.Reason
	if reason == "" {
		reason = "recalled by " + rec.FromAgent
	}
	if err := delegation.Reject(rec, reason, now); err != nil {
		return outcome.Errorf("", "%v", err)
	}
	revertAssignment(st, rec, now)
	return outcome.OK("Recalled %s. Task %s is back with %s.", rec.ID, rec.TaskID, rec.FromAgent)
}

func findNode(st *domain.GovernanceState, taskID string) *domain.TaskNode {
	return taskgraph.FindTaskNode(st.Graph, taskID)
}

func revertAssignment(st *domain.GovernanceState, rec *domain.DelegationRecord, now time.Time) {
	node := findNode(st, rec.TaskID)
	if node == nil || node.AssignedTo != rec.ToAgent {
		return
	}
	node.AssignedTo = rec.FromAgent
	node.ModifiedAt = now
}

func (t *toolset) delegationStatus(st *domain.GovernanceState, c call, r delegateStatus, now time.Time) outcome.Outcome {
	var (
		records []*domain.DelegationRecord
		title   string
	)
	switch {
	case r.TaskID != "":
		records = delegation.ForTask(st.Delegations, r.TaskID)
		title = "Delegations for task " + r.TaskID
	default:
		agent := t.agentFor(st, c)
		for _, d := range delegation.Open(st.Delegations) {
			if d.ToAgent == agent || d.FromAgent == agent {
				records = append(records, d)
			}
		}
		title = "Open delegations involving " + agent
	}
	if len(records) == 0 {
		return outcome.OK("%s: none.", title)
	}
	var sb strings.Builder
	sb.WriteString(title + ":")
	for _, d := range records {
		sb.WriteString("\n- ")
		sb.WriteString(delegation.Format(d, now))
	}
	return outcome.OK("%s", sb.String())
}
