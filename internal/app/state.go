package app

import (
	"encoding/json"

	"github.com/jaakkos/idumb/internal/domain"
)

// EnsureStateMaps fills nil documents and collections so handlers can append
// without nil checks, and drops nil entries left by hand-edited files.
func EnsureStateMaps(state *domain.GovernanceState) {
	if state == nil {
		return
	}
	if state.Graph == nil {
		state.Graph = domain.NewTaskGraph()
	}
	if state.Graph.Version == "" {
		state.Graph.Version = domain.SchemaVersion
	}
	plans := state.Graph.WorkPlans[:0]
	for _, p := range state.Graph.WorkPlans {
		if p == nil {
			continue
		}
		p.Tasks = compactNodes(p.Tasks)
		p.PlanAhead = compactNodes(p.PlanAhead)
		plans = append(plans, p)
	}
	if plans == nil {
		plans = []*domain.WorkPlan{}
	}
	state.Graph.WorkPlans = plans

	if state.Delegations == nil {
		state.Delegations = domain.NewDelegationStore()
	}
	if state.Delegations.Version == "" {
		state.Delegations.Version = domain.SchemaVersion
	}
	recs := state.Delegations.Delegations[:0]
	for _, d := range state.Delegations.Delegations {
		if d != nil {
			recs = append(recs, d)
		}
	}
	if recs == nil {
		recs = []*domain.DelegationRecord{}
	}
	state.Delegations.Delegations = recs

	if state.Anchors == nil {
		state.Anchors = make(map[string][]domain.Anchor)
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]*domain.SessionState)
	}
	for id, ss := range state.Sessions {
		if ss == nil {
			delete(state.Sessions, id)
		}
	}
}

func compactNodes(nodes []*domain.TaskNode) []*domain.TaskNode {
	out := make([]*domain.TaskNode, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// snapshot is the serializable shape of GovernanceState.
type snapshot struct {
	Graph       *domain.TaskGraph               `json:"graph"`
	Delegations *domain.DelegationStore         `json:"delegations"`
	Anchors     map[string][]domain.Anchor      `json:"anchors"`
	Sessions    map[string]*domain.SessionState `json:"sessions"`
}

// CloneState returns a deep copy of state.
func CloneState(state *domain.GovernanceState) (*domain.GovernanceState, error) {
	b, err := json.Marshal(snapshot{state.Graph, state.Delegations, state.Anchors, state.Sessions})
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	out := &domain.GovernanceState{Graph: snap.Graph, Delegations: snap.Delegations, Anchors: snap.Anchors, Sessions: snap.Sessions}
	EnsureStateMaps(out)
	return out, nil
}
