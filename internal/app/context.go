package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/anchor"
	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

const recentCheckpoints = 3

// SystemPromptBlock renders the block appended to the host system prompt.
func SystemPromptBlock(st *domain.GovernanceState, sessionID string, pol Policy, now time.Time) anchor.Result {
	return anchor.Render(anchor.Request{
		Tag:        anchor.TagSystem,
		Budget:     pol.SystemPromptBudget(),
		Summary:    summaryLines(st, sessionID, pol, now, false),
		Anchors:    st.Anchors[sessionID],
		Now:        now,
		StaleAfter: pol.AnchorStaleAfter(),
	})
}

// CompactionBlock renders the recovery context added when the host compacts
// the conversation. It carries more task detail than the prompt block.
func CompactionBlock(st *domain.GovernanceState, sessionID string, pol Policy, now time.Time) anchor.Result {
	return anchor.Render(anchor.Request{
		Tag:        anchor.TagCompaction,
		Budget:     pol.CompactionBudget(),
		Summary:    summaryLines(st, sessionID, pol, now, true),
		Anchors:    st.Anchors[sessionID],
		Now:        now,
		StaleAfter: pol.AnchorStaleAfter(),
	})
}

// StaleReminder returns a one-line nudge when the session's active task is
// stale, or "".
func StaleReminder(st *domain.GovernanceState, sessionID string, pol Policy, now time.Time) string {
	_, node := ActiveTask(st, sessionID)
	if node == nil || !taskgraph.IsStale(node, now, pol.TaskStaleAfter()) {
		return ""
	}
	return fmt.Sprintf("GOVERNANCE REMINDER: active task %s %q has had no checkpoint for over %s. Record progress, or finish it with govern_task done/fail.",
		node.ID, node.Name, pol.TaskStaleAfter())
}

func summaryLines(st *domain.GovernanceState, sessionID string, pol Policy, now time.Time, detailed bool) []string {
	ss := st.PeekSession(sessionID)
	var active *domain.ActiveTaskRef
	if ss != nil {
		active = ss.ActiveTask
	}
	lines := []string{taskgraph.SummaryLine(st.Graph, active, now, pol.TaskStaleAfter())}

	if ss != nil && ss.CapturedAgent != "" {
		if open := delegation.OpenFor(st.Delegations, ss.CapturedAgent); len(open) > 0 {
			ids := make([]string, len(open))
			for i, d := range open {
				ids[i] = fmt.Sprintf("%s from %s (%s)", d.ID, d.FromAgent, d.Status)
			}
			lines = append(lines, fmt.Sprintf("DELEGATIONS for %s: %s", ss.CapturedAgent, strings.Join(ids, "; ")))
		}
	}
	if !detailed {
		return lines
	}

	if _, node := ActiveTask(st, sessionID); node != nil {
		lines = append(lines, "EXPECTED OUTPUT: "+node.ExpectedOutput)
		for _, cp := range taskgraph.LatestCheckpoints(node, recentCheckpoints) {
			lines = append(lines, fmt.Sprintf("CHECKPOINT %s: %s", cp.Timestamp.UTC().Format("15:04"), cp.Summary))
		}
	}
	if plan := taskgraph.ActivePlan(st.Graph); plan != nil && taskgraph.InActiveContext(plan, now, pol.PlanGrace()) {
		if len(plan.Acceptance) > 0 {
			lines = append(lines, "ACCEPTANCE: "+strings.Join(plan.Acceptance, "; "))
		}
		if next := taskgraph.NextPlannedTask(plan); next != nil {
			lines = append(lines, fmt.Sprintf("NEXT: %s %s", next.ID, next.Name))
		}
	}
	if ss != nil && ss.LastBlock != nil {
		lines = append(lines, fmt.Sprintf("LAST BLOCK: %s at %s", ss.LastBlock.Tool, ss.LastBlock.Timestamp.UTC().Format(time.RFC3339)))
	}
	return lines
}
