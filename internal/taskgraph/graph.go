// Package taskgraph implements the WorkPlan -> TaskNode -> Checkpoint model:
// creation, traversal, dependency and temporal gating, completion validation,
// staleness and rendering. Functions here mutate the domain values they are
// given and never touch storage.
package taskgraph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

var (
	ErrPlanNotFound        = errors.New("work plan not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrNoActivePlan        = errors.New("no active work plan")
	ErrAnotherPlanActive   = errors.New("another work plan is already active")
	ErrEmptyName           = errors.New("name is required")
	ErrEmptyExpectedOutput = errors.New("expected output is required")
	ErrInvalidCategory     = errors.New("invalid category")
	ErrUnknownDependency   = errors.New("unknown dependency")
	ErrEmptyEvidence       = errors.New("evidence is required")
	ErrDependenciesUnmet   = errors.New("dependencies not completed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPlanClosed          = errors.New("work plan is closed")
)

// levelByCategory is the fixed category -> governance level table.
var levelByCategory = map[domain.Category]domain.GovernanceLevel{
	domain.CategoryDevelopment: domain.LevelStrict,
	domain.CategoryGovernance:  domain.LevelStrict,
	domain.CategoryMaintenance: domain.LevelBalanced,
	domain.CategorySpecKit:     domain.LevelBalanced,
	domain.CategoryResearch:    domain.LevelMinimal,
	domain.CategoryAdHoc:       domain.LevelMinimal,
}

// GovernanceLevelFor returns the level derived from a category.
func GovernanceLevelFor(c domain.Category) domain.GovernanceLevel {
	if lvl, ok := levelByCategory[c]; ok {
		return lvl
	}
	return domain.LevelBalanced
}

// CreateWorkPlan returns a draft plan. The graph is not touched.
func CreateWorkPlan(name string, acceptance []string, category domain.Category, owner string, now time.Time) (*domain.WorkPlan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	criteria := make([]string, 0, len(acceptance))
	for _, a := range acceptance {
		if a = strings.TrimSpace(a); a != "" {
			criteria = append(criteria, a)
		}
	}
	return &domain.WorkPlan{
		ID:              domain.NewID(domain.PrefixPlan),
		Name:            name,
		Acceptance:      criteria,
		Category:        category,
		GovernanceLevel: GovernanceLevelFor(category),
		Status:          domain.PlanDraft,
		Owner:           owner,
		Tasks:           []*domain.TaskNode{},
		PlanAhead:       []*domain.TaskNode{},
		CreatedAt:       now,
		ModifiedAt:      now,
	}, nil
}

// AppendWorkPlan adds plan to the graph and activates it when nothing else is active.
// Returns true if the plan was activated.
func AppendWorkPlan(g *domain.TaskGraph, plan *domain.WorkPlan) bool {
	g.WorkPlans = append(g.WorkPlans, plan)
	if ActivePlan(g) == nil && plan.Status == domain.PlanDraft {
		plan.Status = domain.PlanActive
		g.ActiveWorkPlanID = plan.ID
		return true
	}
	return false
}

// FindWorkPlan returns the plan with id, or nil.
func FindWorkPlan(g *domain.TaskGraph, id string) *domain.WorkPlan {
	if g == nil {
		return nil
	}
	for _, p := range g.WorkPlans {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ActivePlan returns the plan referenced by activeWorkPlanId, or nil.
func ActivePlan(g *domain.TaskGraph) *domain.WorkPlan {
	if g == nil || g.ActiveWorkPlanID == "" {
		return nil
	}
	p := FindWorkPlan(g, g.ActiveWorkPlanID)
	if p == nil || p.Status != domain.PlanActive {
		return nil
	}
	return p
}

// FindTaskNode searches both lanes of every plan.
func FindTaskNode(g *domain.TaskGraph, id string) *domain.TaskNode {
	if g == nil {
		return nil
	}
	for _, p := range g.WorkPlans {
		if t := findInPlan(p, id); t != nil {
			return t
		}
	}
	return nil
}

// FindParentPlan returns the plan owning taskID, or nil.
func FindParentPlan(g *domain.TaskGraph, taskID string) *domain.WorkPlan {
	if g == nil {
		return nil
	}
	for _, p := range g.WorkPlans {
		if findInPlan(p, taskID) != nil {
			return p
		}
	}
	return nil
}

func findInPlan(p *domain.WorkPlan, id string) *domain.TaskNode {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	for _, t := range p.PlanAhead {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ResolvePlan returns the plan named by id, or the active plan when id is empty.
func ResolvePlan(g *domain.TaskGraph, id string) (*domain.WorkPlan, error) {
	if id == "" {
		if p := ActivePlan(g); p != nil {
			return p, nil
		}
		return nil, ErrNoActivePlan
	}
	if p := FindWorkPlan(g, id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
}

// planTransitions is forward-only.
var planTransitions = map[domain.PlanStatus][]domain.PlanStatus{
	domain.PlanDraft:     {domain.PlanActive, domain.PlanAbandoned},
	domain.PlanActive:    {domain.PlanCompleted, domain.PlanArchived, domain.PlanAbandoned},
	domain.PlanCompleted: {domain.PlanArchived, domain.PlanAbandoned},
}

// TransitionPlan moves plan to status to, keeping the active pointer consistent.
func TransitionPlan(g *domain.TaskGraph, plan *domain.WorkPlan, to domain.PlanStatus, reason string, now time.Time) error {
	allowed := false
	for _, s := range planTransitions[plan.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: plan %s -> %s", ErrInvalidTransition, plan.Status, to)
	}
	if to == domain.PlanActive {
		if cur := ActivePlan(g); cur != nil && cur.ID != plan.ID {
			return fmt.Errorf("%w: %s", ErrAnotherPlanActive, cur.Name)
		}
		g.ActiveWorkPlanID = plan.ID
	}
	if plan.Status == domain.PlanActive && g.ActiveWorkPlanID == plan.ID {
		g.ActiveWorkPlanID = ""
	}
	plan.Status = to
	plan.ModifiedAt = now
	if to == domain.PlanCompleted {
		plan.CompletedAt = timePtr(now)
	}
	if to.Closed() && reason != "" {
		plan.CloseReason = reason
	}
	return nil
}

// MaybeCompletePlan completes an active plan whose tasks are all completed and
// whose planAhead lane is empty. Returns true if it transitioned.
func MaybeCompletePlan(g *domain.TaskGraph, plan *domain.WorkPlan, now time.Time) bool {
	if plan.Status != domain.PlanActive || len(plan.Tasks) == 0 || len(plan.PlanAhead) > 0 {
		return false
	}
	for _, t := range plan.Tasks {
		if t.Status != domain.TaskCompleted {
			return false
		}
	}
	return TransitionPlan(g, plan, domain.PlanCompleted, "", now) == nil
}

// InActiveContext reports whether a plan may appear in injected context.
// Closed plans drop out once the grace period has passed or they were purged.
func InActiveContext(plan *domain.WorkPlan, now time.Time, grace time.Duration) bool {
	if !plan.Status.Closed() {
		return true
	}
	if plan.PurgedAt != nil {
		return false
	}
	return now.Sub(plan.ModifiedAt) <= grace
}

// PurgeClosedPlans stamps purgedAt on closed plans past the grace period.
// Plans stay in the graph. Returns the number stamped.
func PurgeClosedPlans(g *domain.TaskGraph, now time.Time, grace time.Duration) int {
	n := 0
	for _, p := range g.WorkPlans {
		if p.Status.Closed() && p.PurgedAt == nil && now.Sub(p.ModifiedAt) > grace {
			p.PurgedAt = timePtr(now)
			n++
		}
	}
	return n
}

func timePtr(t time.Time) *time.Time { return &t }
