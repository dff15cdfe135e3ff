package taskgraph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

// TaskSpec carries the inputs for CreateTaskNode.
type TaskSpec struct {
	Name           string
	ExpectedOutput string
	DelegatedBy    string
	AssignedTo     string
	DependsOn      []string
	Gate           *domain.TemporalGate
	AllowedTools   []string
}

// UnmetError lists dependencies that block a transition.
type UnmetError struct {
	TaskID string
	Unmet  []string
}

func (e *UnmetError) Error() string {
	return fmt.Sprintf("task %s: %s: %s", e.TaskID, ErrDependenciesUnmet, strings.Join(e.Unmet, ", "))
}

func (e *UnmetError) Unwrap() error { return ErrDependenciesUnmet }

// CreateTaskNode builds a node for plan. The node starts planned, or blocked when
// any dependency or the temporal gate references a task not yet completed.
// The plan is not modified; call AddTask or AddPlanAhead.
func CreateTaskNode(plan *domain.WorkPlan, spec TaskSpec, now time.Time) (*domain.TaskNode, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	expected := strings.TrimSpace(spec.ExpectedOutput)
	if expected == "" {
		return nil, ErrEmptyExpectedOutput
	}
	deps := dedupe(spec.DependsOn)
	for _, d := range deps {
		if findInPlan(plan, d) == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDependency, d)
		}
	}
	var gate *domain.TemporalGate
	if spec.Gate != nil && spec.Gate.AfterTaskID != "" {
		if findInPlan(plan, spec.Gate.AfterTaskID) == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDependency, spec.Gate.AfterTaskID)
		}
		g := *spec.Gate
		gate = &g
	}
	node := &domain.TaskNode{
		ID:             domain.NewID(domain.PrefixTask),
		WorkPlanID:     plan.ID,
		Name:           name,
		ExpectedOutput: expected,
		Status:         domain.TaskPlanned,
		DelegatedBy:    spec.DelegatedBy,
		AssignedTo:     spec.AssignedTo,
		AllowedTools:   dedupe(spec.AllowedTools),
		DependsOn:      deps,
		TemporalGate:   gate,
		Checkpoints:    []domain.Checkpoint{},
		CreatedAt:      now,
		ModifiedAt:     now,
	}
	if len(UnmetDependencies(plan, node)) > 0 {
		node.Status = domain.TaskBlocked
	}
	return node, nil
}

// AddTask appends node to the plan's in-scope lane.
func AddTask(plan *domain.WorkPlan, node *domain.TaskNode, now time.Time) error {
	if plan.Status.Closed() || plan.Status == domain.PlanCompleted {
		return fmt.Errorf("%w: %s is %s", ErrPlanClosed, plan.Name, plan.Status)
	}
	plan.Tasks = append(plan.Tasks, node)
	plan.ModifiedAt = now
	return nil
}

// AddPlanAhead appends node to the plan's future lane.
func AddPlanAhead(plan *domain.WorkPlan, node *domain.TaskNode, now time.Time) error {
	if plan.Status.Closed() {
		return fmt.Errorf("%w: %s is %s", ErrPlanClosed, plan.Name, plan.Status)
	}
	plan.PlanAhead = append(plan.PlanAhead, node)
	plan.ModifiedAt = now
	return nil
}

// PromotePlanAhead moves a planAhead node (the first one when id is empty)
// into the in-scope lane and re-evaluates its gating.
func PromotePlanAhead(plan *domain.WorkPlan, id string, now time.Time) (*domain.TaskNode, error) {
	if plan.Status.Closed() || plan.Status == domain.PlanCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrPlanClosed, plan.Name, plan.Status)
	}
	idx := -1
	for i, t := range plan.PlanAhead {
		if id == "" || t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		if id == "" {
			return nil, fmt.Errorf("%w: plan ahead lane is empty", ErrTaskNotFound)
		}
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	node := plan.PlanAhead[idx]
	plan.PlanAhead = append(plan.PlanAhead[:idx], plan.PlanAhead[idx+1:]...)
	plan.Tasks = append(plan.Tasks, node)
	node.ModifiedAt = now
	plan.ModifiedAt = now
	reevaluateNode(plan, node)
	return node, nil
}

// UnmetDependencies returns the ids in dependsOn and the temporal gate that are
// not completed. A reference to a missing node counts as unmet.
func UnmetDependencies(plan *domain.WorkPlan, node *domain.TaskNode) []string {
	var unmet []string
	check := func(id string) {
		dep := findInPlan(plan, id)
		if dep == nil || dep.Status != domain.TaskCompleted {
			unmet = append(unmet, id)
		}
	}
	for _, id := range node.DependsOn {
		check(id)
	}
	if node.TemporalGate != nil && node.TemporalGate.AfterTaskID != "" && !contains(node.DependsOn, node.TemporalGate.AfterTaskID) {
		check(node.TemporalGate.AfterTaskID)
	}
	return unmet
}

// ValidateTaskCompletion checks evidence and dependencies without mutating anything.
func ValidateTaskCompletion(plan *domain.WorkPlan, node *domain.TaskNode, evidence string) error {
	if strings.TrimSpace(evidence) == "" {
		return ErrEmptyEvidence
	}
	if unmet := UnmetDependencies(plan, node); len(unmet) > 0 {
		return &UnmetError{TaskID: node.ID, Unmet: unmet}
	}
	return nil
}

// StartTask moves a planned node to active.
func StartTask(plan *domain.WorkPlan, node *domain.TaskNode, agent string, now time.Time) error {
	if plan.Status != domain.PlanActive {
		return fmt.Errorf("%w: plan %s is %s", ErrInvalidTransition, plan.Name, plan.Status)
	}
	if unmet := UnmetDependencies(plan, node); len(unmet) > 0 {
		if node.Status == domain.TaskPlanned {
			node.Status = domain.TaskBlocked
		}
		return &UnmetError{TaskID: node.ID, Unmet: unmet}
	}
	if node.Status == domain.TaskBlocked {
		node.Status = domain.TaskPlanned
	}
	if err := ensureTaskTransition(node.Status, domain.TaskActive); err != nil {
		return err
	}
	if !inTasks(plan, node.ID) {
		return fmt.Errorf("%w: %s is in plan ahead; promote it first", ErrInvalidTransition, node.ID)
	}
	node.Status = domain.TaskActive
	node.StartedAt = timePtr(now)
	node.ModifiedAt = now
	if node.AssignedTo == "" {
		node.AssignedTo = agent
	}
	return nil
}

// SubmitForReview moves an active node to review with its evidence.
func SubmitForReview(plan *domain.WorkPlan, node *domain.TaskNode, result domain.TaskResult, now time.Time) error {
	if err := ValidateTaskCompletion(plan, node, result.Evidence); err != nil {
		return err
	}
	if err := ensureTaskTransition(node.Status, domain.TaskReview); err != nil {
		return err
	}
	r := result
	node.Result = &r
	node.Status = domain.TaskReview
	node.ModifiedAt = now
	return nil
}

// CompleteTask validates, completes node, and runs the unblock sweep.
// Returns the siblings promoted from blocked to planned.
func CompleteTask(plan *domain.WorkPlan, node *domain.TaskNode, result domain.TaskResult, now time.Time) ([]*domain.TaskNode, error) {
	if err := ValidateTaskCompletion(plan, node, result.Evidence); err != nil {
		return nil, err
	}
	if err := ensureTaskTransition(node.Status, domain.TaskCompleted); err != nil {
		return nil, err
	}
	r := result
	r.FilesModified = dedupe(append(append([]string{}, r.FilesModified...), node.Artifacts...))
	node.Result = &r
	node.Status = domain.TaskCompleted
	node.CompletedAt = timePtr(now)
	node.ModifiedAt = now
	plan.ModifiedAt = now
	return Reevaluate(plan), nil
}

// FailTask marks node failed and runs the unblock sweep.
func FailTask(plan *domain.WorkPlan, node *domain.TaskNode, reason string, now time.Time) ([]*domain.TaskNode, error) {
	if err := ensureTaskTransition(node.Status, domain.TaskFailed); err != nil {
		return nil, err
	}
	node.Status = domain.TaskFailed
	node.FailReason = strings.TrimSpace(reason)
	node.CompletedAt = timePtr(now)
	node.ModifiedAt = now
	plan.ModifiedAt = now
	return Reevaluate(plan), nil
}

// Reevaluate recomputes blocked/planned for every not-yet-started node in the
// plan and returns the nodes promoted to planned. Safe to call repeatedly.
func Reevaluate(plan *domain.WorkPlan) []*domain.TaskNode {
	var promoted []*domain.TaskNode
	for _, lane := range [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead} {
		for _, t := range lane {
			if reevaluateNode(plan, t) {
				promoted = append(promoted, t)
			}
		}
	}
	return promoted
}

// reevaluateNode returns true when node moved from blocked to planned.
func reevaluateNode(plan *domain.WorkPlan, node *domain.TaskNode) bool {
	if node.Status != domain.TaskBlocked && node.Status != domain.TaskPlanned {
		return false
	}
	unmet := len(UnmetDependencies(plan, node)) > 0
	switch {
	case node.Status == domain.TaskBlocked && !unmet:
		node.Status = domain.TaskPlanned
		return true
	case node.Status == domain.TaskPlanned && unmet:
		node.Status = domain.TaskBlocked
	}
	return false
}

// NextPlannedTask returns the first planned node in the in-scope lane.
func NextPlannedTask(plan *domain.WorkPlan) *domain.TaskNode {
	for _, t := range plan.Tasks {
		if t.Status == domain.TaskPlanned {
			return t
		}
	}
	return nil
}

var taskTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskPlanned: {domain.TaskActive, domain.TaskBlocked, domain.TaskFailed},
	domain.TaskBlocked: {domain.TaskPlanned, domain.TaskFailed},
	domain.TaskActive:  {domain.TaskCompleted, domain.TaskFailed, domain.TaskReview},
	domain.TaskReview:  {domain.TaskCompleted, domain.TaskFailed},
}

func ensureTaskTransition(from, to domain.TaskStatus) error {
	for _, s := range taskTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: task %s -> %s", ErrInvalidTransition, from, to)
}

// IsUnmet reports whether err carries unmet dependencies, returning them.
func IsUnmet(err error) ([]string, bool) {
	var ue *UnmetError
	if errors.As(err, &ue) {
		return ue.Unmet, true
	}
	return nil, false
}

func inTasks(plan *domain.WorkPlan, id string) bool {
	for _, t := range plan.Tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
