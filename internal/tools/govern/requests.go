package govern

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

// Each tool decodes its arguments into one request variant per action.
// Handlers type-switch on the variant; a variant carries exactly the fields
// its action needs, already validated.

var (
	planActions     = []string{"create", "plan_tasks", "status", "list", "activate", "archive", "abandon"}
	taskActions     = []string{"add", "start", "review", "done", "fail", "check"}
	delegateActions = []string{"assign", "accept", "complete", "reject", "recall", "status"}
	anchorActions   = []string{"add", "list", "learn"}
)

func actionOf(args map[string]any, valid []string) (string, error) {
	fix := "action must be one of: " + strings.Join(valid, ", ")
	action, err := requireString(args, "action", fix)
	if err != nil {
		return "", err
	}
	action = strings.ToLower(action)
	for _, a := range valid {
		if a == action {
			return action, nil
		}
	}
	return "", &argError{msg: fmt.Sprintf("unknown action %q", action), fix: fix}
}

func categoryArg(args map[string]any, key string) (domain.Category, error) {
	raw := optionalString(args, key)
	if raw == "" {
		return "", nil
	}
	c := domain.Category(strings.ToLower(raw))
	if !c.Valid() {
		names := make([]string, len(domain.Categories))
		for i, k := range domain.Categories {
			names[i] = string(k)
		}
		return "", &argError{msg: fmt.Sprintf("invalid %s %q", key, raw), fix: "use one of: " + strings.Join(names, ", ")}
	}
	return c, nil
}

// govern_plan

type planRequest interface{ planAction() string }

type planCreate struct {
	Name       string
	Acceptance []string
	Category   domain.Category
	Owner      string
}

type taskDraft struct {
	Name           string
	ExpectedOutput string
	DependsOn      []string
}

type planTasks struct {
	PlanID string
	Tasks  []taskDraft
}

type planStatus struct{ PlanID string }

type planList struct{}

type planActivate struct{ PlanID string }

type planArchive struct {
	PlanID string
	Reason string
}

type planAbandon struct {
	PlanID string
	Reason string
}

func (planCreate) planAction() string   { return "create" }
func (planTasks) planAction() string    { return "plan_tasks" }
func (planStatus) planAction() string   { return "status" }
func (planList) planAction() string     { return "list" }
func (planActivate) planAction() string { return "activate" }
func (planArchive) planAction() string  { return "archive" }
func (planAbandon) planAction() string  { return "abandon" }

func parsePlanRequest(args map[string]any) (planRequest, error) {
	action, err := actionOf(args, planActions)
	if err != nil {
		return nil, err
	}
	switch action {
	case "create":
		name, err := requireString(args, "name", "give the plan a short name, e.g. name=\"Auth\"")
		if err != nil {
			return nil, err
		}
		cat, err := categoryArg(args, "category")
		if err != nil {
			return nil, err
		}
		if cat == "" {
			cat = domain.CategoryDevelopment
		}
		return planCreate{Name: name, Acceptance: stringSlice(args, "acceptance"), Category: cat, Owner: optionalString(args, "owner")}, nil
	case "plan_tasks":
		objs := objectSlice(args, "tasks")
		if len(objs) == 0 {
			return nil, missing("tasks", `pass tasks=[{"name": "...", "expected_output": "..."}]`)
		}
		drafts := make([]taskDraft, 0, len(objs))
		for i, o := range objs {
			name, err := requireString(o, "name", fmt.Sprintf("tasks[%d] needs a name", i))
			if err != nil {
				return nil, err
			}
			expected, err := requireString(o, "expected_output", fmt.Sprintf("tasks[%d] needs expected_output describing what done means", i))
			if err != nil {
				return nil, err
			}
			drafts = append(drafts, taskDraft{Name: name, ExpectedOutput: expected, DependsOn: stringSlice(o, "depends_on")})
		}
		return planTasks{PlanID: optionalString(args, "plan_id"), Tasks: drafts}, nil
	case "status":
		return planStatus{PlanID: optionalString(args, "plan_id")}, nil
	case "list":
		return planList{}, nil
	case "activate":
		id, err := requireString(args, "plan_id", "pass the id of a draft plan (govern_plan list)")
		if err != nil {
			return nil, err
		}
		return planActivate{PlanID: id}, nil
	case "archive":
		return planArchive{PlanID: optionalString(args, "plan_id"), Reason: optionalString(args, "reason")}, nil
	default: // abandon
		reason, err := requireString(args, "reason", "say why the plan is being abandoned")
		if err != nil {
			return nil, err
		}
		return planAbandon{PlanID: optionalString(args, "plan_id"), Reason: reason}, nil
	}
}

// govern_task

type taskRequest interface{ taskAction() string }

type taskAdd struct {
	PlanID         string
	Name           string
	ExpectedOutput string
	DependsOn      []string
	AfterTaskID    string
	GateReason     string
	AssignedTo     string
	AllowedTools   []string
	PlanAhead      bool
}

// taskPromote moves a planAhead entry into the plan's tasks.
type taskPromote struct {
	PlanID string
	TaskID string
}

type taskStart struct{ TaskID string }

type taskReview struct {
	TaskID   string
	Evidence string
}

type taskDone struct {
	TaskID        string
	Evidence      string
	FilesModified []string
	TestsRun      []string
}

type taskFail struct {
	TaskID string
	Reason string
}

type taskCheck struct{ TaskID string }

func (taskAdd) taskAction() string     { return "add" }
func (taskPromote) taskAction() string { return "add" }
func (taskStart) taskAction() string   { return "start" }
func (taskReview) taskAction() string  { return "review" }
func (taskDone) taskAction() string    { return "done" }
func (taskFail) taskAction() string    { return "fail" }
func (taskCheck) taskAction() string   { return "check" }

func parseTaskRequest(args map[string]any) (taskRequest, error) {
	action, err := actionOf(args, taskActions)
	if err != nil {
		return nil, err
	}
	taskID := optionalString(args, "task_id")
	switch action {
	case "add":
		if optionalBool(args, "from_plan_ahead") {
			return taskPromote{PlanID: optionalString(args, "plan_id"), TaskID: taskID}, nil
		}
		name, err := requireString(args, "name", "give the task a short name")
		if err != nil {
			return nil, err
		}
		expected, err := requireString(args, "expected_output", "state what done looks like, e.g. expected_output=\"login form renders\"")
		if err != nil {
			return nil, err
		}
		after := optionalString(args, "after_task_id")
		reason := optionalString(args, "gate_reason")
		if reason != "" && after == "" {
			return nil, &argError{msg: "gate_reason needs after_task_id", fix: "pass after_task_id with the task that must finish first"}
		}
		return taskAdd{
			PlanID:         optionalString(args, "plan_id"),
			Name:           name,
			ExpectedOutput: expected,
			DependsOn:      stringSlice(args, "depends_on"),
			AfterTaskID:    after,
			GateReason:     reason,
			AssignedTo:     optionalString(args, "assigned_to"),
			AllowedTools:   stringSlice(args, "allowed_tools"),
			PlanAhead:      optionalBool(args, "plan_ahead"),
		}, nil
	case "start":
		return taskStart{TaskID: taskID}, nil
	case "review":
		evidence, err := requireString(args, "evidence", "describe what was produced and how it was verified")
		if err != nil {
			return nil, err
		}
		return taskReview{TaskID: taskID, Evidence: evidence}, nil
	case "done":
		evidence, err := requireString(args, "evidence", "describe what was produced and how it was verified, e.g. evidence=\"12/12 tests pass\"")
		if err != nil {
			return nil, err
		}
		return taskDone{TaskID: taskID, Evidence: evidence, FilesModified: stringSlice(args, "files_modified"), TestsRun: stringSlice(args, "tests_run")}, nil
	case "fail":
		reason, err := requireString(args, "reason", "say why the task failed")
		if err != nil {
			return nil, err
		}
		return taskFail{TaskID: taskID, Reason: reason}, nil
	default: // check
		return taskCheck{TaskID: taskID}, nil
	}
}

// govern_delegate

type delegateRequest interface{ delegateAction() string }

type delegateAssign struct {
	TaskID         string
	ToAgent        string
	Category       domain.Category
	Context        string
	ExpectedOutput string
	AllowedTools   []string
	AllowedActions []string
}

type delegateAccept struct{ ID string }

type delegateComplete struct {
	ID            string
	Evidence      string
	FilesModified []string
	TestsRun      []string
	BrainEntries  []string
}

type delegateReject struct {
	ID     string
	Reason string
}

type delegateRecall struct {
	ID     string
	Reason string
}

type delegateStatus struct{ TaskID string }

func (delegateAssign) delegateAction() string   { return "assign" }
func (delegateAccept) delegateAction() string   { return "accept" }
func (delegateComplete) delegateAction() string { return "complete" }
func (delegateReject) delegateAction() string   { return "reject" }
func (delegateRecall) delegateAction() string   { return "recall" }
func (delegateStatus) delegateAction() string   { return "status" }

func parseDelegateRequest(args map[string]any) (delegateRequest, error) {
	action, err := actionOf(args, delegateActions)
	if err != nil {
		return nil, err
	}
	idFix := "pass delegation_id (govern_delegate status lists them)"
	switch action {
	case "assign":
		ctxText, err := requireString(args, "context", "tell the delegate what it needs to know")
		if err != nil {
			return nil, err
		}
		cat, err := categoryArg(args, "category")
		if err != nil {
			return nil, err
		}
		return delegateAssign{
			TaskID:         optionalString(args, "task_id"),
			ToAgent:        optionalString(args, "to_agent"),
			Category:       cat,
			Context:        ctxText,
			ExpectedOutput: optionalString(args, "expected_output"),
			AllowedTools:   stringSlice(args, "allowed_tools"),
			AllowedActions: stringSlice(args, "allowed_actions"),
		}, nil
	case "accept":
		id, err := requireString(args, "delegation_id", idFix)
		if err != nil {
			return nil, err
		}
		return delegateAccept{ID: id}, nil
	case "complete":
		id, err := requireString(args, "delegation_id", idFix)
		if err != nil {
			return nil, err
		}
		evidence, err := requireString(args, "evidence", "describe what was delivered")
		if err != nil {
			return nil, err
		}
		return delegateComplete{
			ID:            id,
			Evidence:      evidence,
			FilesModified: stringSlice(args, "files_modified"),
			TestsRun:      stringSlice(args, "tests_run"),
			BrainEntries:  stringSlice(args, "brain_entries"),
		}, nil
	case "reject":
		id, err := requireString(args, "delegation_id", idFix)
		if err != nil {
			return nil, err
		}
		reason, err := requireString(args, "reason", "say why the delegation is refused")
		if err != nil {
			return nil, err
		}
		return delegateReject{ID: id, Reason: reason}, nil
	case "recall":
		id, err := requireString(args, "delegation_id", idFix)
		if err != nil {
			return nil, err
		}
		return delegateRecall{ID: id, Reason: optionalString(args, "reason")}, nil
	default: // status
		return delegateStatus{TaskID: optionalString(args, "task_id")}, nil
	}
}

// govern_shell

type shellRun struct {
	Command string
	Timeout time.Duration
	Cwd     string
}

func parseShellRequest(args map[string]any) (shellRun, error) {
	if a := optionalString(args, "action"); a != "" && a != "run" {
		return shellRun{}, &argError{msg: fmt.Sprintf("unknown action %q", a), fix: "govern_shell only supports action=run"}
	}
	cmd, err := requireString(args, "command", "pass the shell command to run")
	if err != nil {
		return shellRun{}, err
	}
	secs := optionalFloat64(args, "timeout_seconds", 0)
	if secs < 0 {
		return shellRun{}, &argError{msg: "timeout_seconds must not be negative", fix: "omit it for the default"}
	}
	return shellRun{Command: cmd, Timeout: time.Duration(secs * float64(time.Second)), Cwd: optionalString(args, "cwd")}, nil
}

// idumb_anchor

type anchorRequest interface{ anchorAction() string }

type anchorAdd struct {
	Type     domain.AnchorType
	Priority domain.AnchorPriority
	Content  string
}

type anchorList struct{}

type anchorLearn struct{ Content string }

func (anchorAdd) anchorAction() string   { return "add" }
func (anchorList) anchorAction() string  { return "list" }
func (anchorLearn) anchorAction() string { return "learn" }

func parseAnchorRequest(args map[string]any) (anchorRequest, error) {
	action, err := actionOf(args, anchorActions)
	if err != nil {
		return nil, err
	}
	switch action {
	case "add":
		typ, err := requireString(args, "type", "type is one of: decision, context, checkpoint, error, attention")
		if err != nil {
			return nil, err
		}
		content, err := requireString(args, "content", "state the fact to remember")
		if err != nil {
			return nil, err
		}
		prio := optionalString(args, "priority")
		if prio == "" {
			prio = string(domain.PriorityMedium)
		}
		return anchorAdd{Type: domain.AnchorType(strings.ToLower(typ)), Priority: domain.AnchorPriority(strings.ToLower(prio)), Content: content}, nil
	case "learn":
		content, err := requireString(args, "content", "state the lesson learned")
		if err != nil {
			return nil, err
		}
		return anchorLearn{Content: content}, nil
	default:
		return anchorList{}, nil
	}
}
