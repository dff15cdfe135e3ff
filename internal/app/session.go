package app

import (
	"strings"

	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

// DefaultSessionID is used when the transport carries no session.
const DefaultSessionID = "default"

// ResolveAgent picks the acting agent: the explicit argument, then the
// session's captured agent, then fallback.
func ResolveAgent(explicit string, ss *domain.SessionState, fallback string) string {
	if a := strings.TrimSpace(explicit); a != "" {
		return a
	}
	if ss != nil && ss.CapturedAgent != "" {
		return ss.CapturedAgent
	}
	return fallback
}

// ActiveTask returns the session's active task and its plan. A reference to a
// task that no longer exists or has finished yields nil.
func ActiveTask(st *domain.GovernanceState, sessionID string) (*domain.WorkPlan, *domain.TaskNode) {
	ss := st.PeekSession(sessionID)
	if ss == nil || ss.ActiveTask == nil {
		return nil, nil
	}
	node := taskgraph.FindTaskNode(st.Graph, ss.ActiveTask.ID)
	if node == nil || node.Status.Terminal() {
		return nil, nil
	}
	return taskgraph.FindParentPlan(st.Graph, node.ID), node
}

// SetActiveTask points the session at node.
func SetActiveTask(st *domain.GovernanceState, sessionID string, node *domain.TaskNode) {
	ss := st.Session(sessionID)
	if node == nil {
		ss.ActiveTask = nil
		return
	}
	ss.ActiveTask = &domain.ActiveTaskRef{ID: node.ID, Name: node.Name}
}

// ClearActiveTaskEverywhere drops references to taskID from every session.
func ClearActiveTaskEverywhere(st *domain.GovernanceState, taskID string) {
	for _, ss := range st.Sessions {
		if ss != nil && ss.ActiveTask != nil && ss.ActiveTask.ID == taskID {
			ss.ActiveTask = nil
		}
	}
}

// Truncate truncates s to max runes (Unicode-safe).
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
