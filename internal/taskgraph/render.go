package taskgraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

var statusMarks = map[domain.TaskStatus]string{
	domain.TaskPlanned:   "[ ]",
	domain.TaskBlocked:   "[B]",
	domain.TaskActive:    "[>]",
	domain.TaskReview:    "[R]",
	domain.TaskCompleted: "[x]",
	domain.TaskFailed:    "[!]",
}

// FormatPlan renders a plan with its progress and task list.
func FormatPlan(plan *domain.WorkPlan, now time.Time, staleAfter time.Duration) string {
	var sb strings.Builder
	done, total := plan.Progress()
	fmt.Fprintf(&sb, "Plan %s: %s [%s, %s/%s]\n", plan.ID, plan.Name, plan.Status, plan.Category, plan.GovernanceLevel)
	fmt.Fprintf(&sb, "Progress: %d/%d tasks completed\n", done, total)
	if len(plan.Acceptance) > 0 {
		sb.WriteString("Acceptance:\n")
		for _, a := range plan.Acceptance {
			fmt.Fprintf(&sb, "  - %s\n", a)
		}
	}
	if plan.CloseReason != "" {
		fmt.Fprintf(&sb, "Closed: %s\n", plan.CloseReason)
	}
	if len(plan.Tasks) == 0 {
		sb.WriteString("Tasks: none\n")
	} else {
		sb.WriteString("Tasks:\n")
		for _, t := range plan.Tasks {
			sb.WriteString("  ")
			sb.WriteString(FormatTaskLine(plan, t, now, staleAfter))
			sb.WriteString("\n")
		}
	}
	if len(plan.PlanAhead) > 0 {
		sb.WriteString("Plan ahead:\n")
		for _, t := range plan.PlanAhead {
			fmt.Fprintf(&sb, "  - %s %s\n", t.ID, t.Name)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatTaskLine renders one task as a single line.
func FormatTaskLine(plan *domain.WorkPlan, t *domain.TaskNode, now time.Time, staleAfter time.Duration) string {
	line := fmt.Sprintf("%s %s %s", statusMarks[t.Status], t.ID, t.Name)
	if t.AssignedTo != "" {
		line += " @" + t.AssignedTo
	}
	if t.Status == domain.TaskBlocked {
		if unmet := UnmetDependencies(plan, t); len(unmet) > 0 {
			line += " (waiting on " + strings.Join(unmet, ", ") + ")"
		}
		if t.TemporalGate != nil && t.TemporalGate.Reason != "" {
			line += " gate: " + t.TemporalGate.Reason
		}
	}
	if IsStale(t, now, staleAfter) {
		line += fmt.Sprintf(" STALE (no checkpoint for %s)", now.Sub(lastSeen(t)).Round(time.Minute))
	}
	if t.Status == domain.TaskFailed && t.FailReason != "" {
		line += " failed: " + t.FailReason
	}
	return line
}

// FormatTask renders the detail view of one task.
func FormatTask(plan *domain.WorkPlan, t *domain.TaskNode, now time.Time, staleAfter time.Duration) string {
	var sb strings.Builder
	sb.WriteString(FormatTaskLine(plan, t, now, staleAfter))
	fmt.Fprintf(&sb, "\nExpected output: %s", t.ExpectedOutput)
	if len(t.DependsOn) > 0 {
		fmt.Fprintf(&sb, "\nDepends on: %s", strings.Join(t.DependsOn, ", "))
	}
	if len(t.AllowedTools) > 0 {
		fmt.Fprintf(&sb, "\nAllowed tools: %s", strings.Join(t.AllowedTools, ", "))
	}
	if n := len(t.Checkpoints); n > 0 {
		fmt.Fprintf(&sb, "\nCheckpoints: %d (latest: %s)", n, t.Checkpoints[n-1].Summary)
	}
	if t.Result != nil {
		fmt.Fprintf(&sb, "\nEvidence: %s", t.Result.Evidence)
	}
	return sb.String()
}

// SummaryLine is the one-line active task/plan summary placed at the top of
// injected context.
func SummaryLine(g *domain.TaskGraph, active *domain.ActiveTaskRef, now time.Time, staleAfter time.Duration) string {
	plan := ActivePlan(g)
	var parts []string
	if active != nil && active.ID != "" {
		task := FindTaskNode(g, active.ID)
		switch {
		case task == nil:
			parts = append(parts, fmt.Sprintf("ACTIVE TASK: %s (missing from graph)", active.Name))
		case IsStale(task, now, staleAfter):
			parts = append(parts, fmt.Sprintf("ACTIVE TASK: %s [%s] STALE, record progress or finish it", task.Name, task.ID))
		default:
			parts = append(parts, fmt.Sprintf("ACTIVE TASK: %s [%s] -> %s", task.Name, task.ID, task.ExpectedOutput))
		}
		if p := FindParentPlan(g, active.ID); p != nil {
			plan = p
		}
	} else {
		parts = append(parts, "No active task.")
	}
	if plan != nil {
		done, total := plan.Progress()
		parts = append(parts, fmt.Sprintf("PLAN: %s (%d/%d done, %s)", plan.Name, done, total, plan.GovernanceLevel))
	} else {
		parts = append(parts, "No active plan.")
	}
	return strings.Join(parts, " | ")
}

// TaskReport is the machine-readable status returned by the check action.
type TaskReport struct {
	TaskID       string            `json:"task_id,omitempty"`
	TaskName     string            `json:"task_name,omitempty"`
	Status       domain.TaskStatus `json:"status,omitempty"`
	AssignedTo   string            `json:"assigned_to,omitempty"`
	Stale        bool              `json:"stale"`
	BlockedBy    []string          `json:"blocked_by,omitempty"`
	Checkpoints  int               `json:"checkpoints"`
	PlanID       string            `json:"plan_id,omitempty"`
	PlanName     string            `json:"plan_name,omitempty"`
	PlanStatus   domain.PlanStatus `json:"plan_status,omitempty"`
	Completed    int               `json:"completed"`
	Total        int               `json:"total"`
	Delegations  []string          `json:"open_delegations,omitempty"`
	Degraded     bool              `json:"degraded"`
	NextPlanned  string            `json:"next_planned,omitempty"`
	ActivePlanID string            `json:"active_plan_id,omitempty"`
}

// BuildReport fills a TaskReport for task (which may be nil) and its plan.
func BuildReport(g *domain.TaskGraph, task *domain.TaskNode, now time.Time, staleAfter time.Duration) TaskReport {
	r := TaskReport{ActivePlanID: g.ActiveWorkPlanID}
	plan := ActivePlan(g)
	if task != nil {
		r.TaskID = task.ID
		r.TaskName = task.Name
		r.Status = task.Status
		r.AssignedTo = task.AssignedTo
		r.Stale = IsStale(task, now, staleAfter)
		r.Checkpoints = len(task.Checkpoints)
		plan = FindParentPlan(g, task.ID)
		if plan != nil {
			r.BlockedBy = UnmetDependencies(plan, task)
		}
	}
	if plan != nil {
		r.PlanID = plan.ID
		r.PlanName = plan.Name
		r.PlanStatus = plan.Status
		r.Completed, r.Total = plan.Progress()
		if next := NextPlannedTask(plan); next != nil {
			r.NextPlanned = next.ID
		}
	}
	return r
}
