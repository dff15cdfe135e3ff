// Package domain holds governance entities and the aggregate state.
// It has no dependencies on other internal packages.
package domain

import "time"

// SchemaVersion is written into every persisted document.
const SchemaVersion = "1.0.0"

// Category is the closed set of work categories a plan can belong to.
type Category string

const (
	CategoryDevelopment Category = "development"
	CategoryResearch    Category = "research"
	CategoryGovernance  Category = "governance"
	CategoryMaintenance Category = "maintenance"
	CategorySpecKit     Category = "spec-kit"
	CategoryAdHoc       Category = "ad-hoc"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryDevelopment, CategoryResearch, CategoryGovernance,
	CategoryMaintenance, CategorySpecKit, CategoryAdHoc,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// GovernanceLevel is derived from a plan's category.
type GovernanceLevel string

const (
	LevelMinimal  GovernanceLevel = "minimal"
	LevelBalanced GovernanceLevel = "balanced"
	LevelStrict   GovernanceLevel = "strict"
)

// PlanStatus is the lifecycle state of a WorkPlan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanArchived  PlanStatus = "archived"
	PlanAbandoned PlanStatus = "abandoned"
)

// Closed reports whether the plan no longer accepts work.
func (s PlanStatus) Closed() bool {
	return s == PlanArchived || s == PlanAbandoned
}

// TaskStatus is the lifecycle state of a TaskNode.
type TaskStatus string

const (
	TaskPlanned   TaskStatus = "planned"
	TaskBlocked   TaskStatus = "blocked"
	TaskActive    TaskStatus = "active"
	TaskReview    TaskStatus = "review"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the task has finished, successfully or not.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TemporalGate blocks a task until another task completes.
type TemporalGate struct {
	AfterTaskID string `json:"afterTaskId"`
	Reason      string `json:"reason"`
}

// TaskResult is populated only when a task completes (or enters review).
type TaskResult struct {
	Evidence       string   `json:"evidence"`
	FilesModified  []string `json:"filesModified,omitempty"`
	TestsRun       []string `json:"testsRun,omitempty"`
	AnchorsCreated []string `json:"anchorsCreated,omitempty"`
}

// Checkpoint is an immutable evidence record created by the tool gate.
type Checkpoint struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Files     []string  `json:"files,omitempty"`
}

// TaskNode is an atomic unit of work inside a WorkPlan.
type TaskNode struct {
	ID             string        `json:"id"`
	WorkPlanID     string        `json:"workPlanId"`
	Name           string        `json:"name"`
	ExpectedOutput string        `json:"expectedOutput"`
	Status         TaskStatus    `json:"status"`
	DelegatedBy    string        `json:"delegatedBy"`
	AssignedTo     string        `json:"assignedTo"`
	AllowedTools   []string      `json:"allowedTools,omitempty"`
	DependsOn      []string      `json:"dependsOn,omitempty"`
	TemporalGate   *TemporalGate `json:"temporalGate,omitempty"`
	Checkpoints    []Checkpoint  `json:"checkpoints"`
	Artifacts      []string      `json:"artifacts,omitempty"`
	FailReason     string        `json:"failReason,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	ModifiedAt     time.Time     `json:"modifiedAt"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	Result         *TaskResult   `json:"result,omitempty"`
}

// LastActivity returns the most recent of start time and last checkpoint.
func (t *TaskNode) LastActivity() time.Time {
	var last time.Time
	if t.StartedAt != nil {
		last = *t.StartedAt
	}
	if n := len(t.Checkpoints); n > 0 && t.Checkpoints[n-1].Timestamp.After(last) {
		last = t.Checkpoints[n-1].Timestamp
	}
	return last
}

// WorkPlan is a top-level unit of governed work.
type WorkPlan struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Acceptance      []string        `json:"acceptance"`
	Category        Category        `json:"category"`
	GovernanceLevel GovernanceLevel `json:"governanceLevel"`
	Status          PlanStatus      `json:"status"`
	Owner           string          `json:"owner"`
	DependsOn       []string        `json:"dependsOn,omitempty"`
	Tasks           []*TaskNode     `json:"tasks"`
	PlanAhead       []*TaskNode     `json:"planAhead"`
	CloseReason     string          `json:"closeReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ModifiedAt      time.Time       `json:"modifiedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	PurgedAt        *time.Time      `json:"purgedAt,omitempty"`
}

// Progress returns completed and total counts over the in-scope tasks.
func (p *WorkPlan) Progress() (completed, total int) {
	for _, t := range p.Tasks {
		if t.Status == TaskCompleted {
			completed++
		}
	}
	return completed, len(p.Tasks)
}

// TaskGraph is the root persisted aggregate for plans and tasks.
type TaskGraph struct {
	Version          string      `json:"version"`
	ActiveWorkPlanID string      `json:"activeWorkPlanId,omitempty"`
	WorkPlans        []*WorkPlan `json:"workPlans"`
}

// NewTaskGraph returns an empty graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{Version: SchemaVersion, WorkPlans: []*WorkPlan{}}
}

// DelegationStatus is the lifecycle state of a DelegationRecord.
type DelegationStatus string

const (
	DelegationPending   DelegationStatus = "pending"
	DelegationAccepted  DelegationStatus = "accepted"
	DelegationCompleted DelegationStatus = "completed"
	DelegationRejected  DelegationStatus = "rejected"
	DelegationExpired   DelegationStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s DelegationStatus) Terminal() bool {
	return s == DelegationCompleted || s == DelegationRejected || s == DelegationExpired
}

// DelegationResult is attached when a delegation completes.
type DelegationResult struct {
	Evidence      string   `json:"evidence"`
	FilesModified []string `json:"filesModified,omitempty"`
	TestsRun      []string `json:"testsRun,omitempty"`
	BrainEntries  []string `json:"brainEntriesCreated,omitempty"`
}

// DelegationRecord is a structured handoff of a task between agents.
type DelegationRecord struct {
	ID             string            `json:"id"`
	FromAgent      string            `json:"fromAgent"`
	ToAgent        string            `json:"toAgent"`
	TaskID         string            `json:"taskId"`
	Context        string            `json:"context"`
	ExpectedOutput string            `json:"expectedOutput"`
	Category       Category          `json:"category,omitempty"`
	AllowedTools   []string          `json:"allowedTools,omitempty"`
	AllowedActions []string          `json:"allowedActions,omitempty"`
	MaxDepth       int               `json:"maxDepth"`
	Status         DelegationStatus  `json:"status"`
	RejectReason   string            `json:"rejectReason,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Result         *DelegationResult `json:"result,omitempty"`
}

// DelegationStore is the persisted collection of delegation records.
type DelegationStore struct {
	Version     string              `json:"version"`
	Delegations []*DelegationRecord `json:"delegations"`
}

// NewDelegationStore returns an empty store.
func NewDelegationStore() *DelegationStore {
	return &DelegationStore{Version: SchemaVersion, Delegations: []*DelegationRecord{}}
}

// AnchorType is the closed set of anchor kinds.
type AnchorType string

const (
	AnchorDecision   AnchorType = "decision"
	AnchorContext    AnchorType = "context"
	AnchorCheckpoint AnchorType = "checkpoint"
	AnchorError      AnchorType = "error"
	AnchorAttention  AnchorType = "attention"
)

// Valid reports whether t is a known anchor type.
func (t AnchorType) Valid() bool {
	switch t {
	case AnchorDecision, AnchorContext, AnchorCheckpoint, AnchorError, AnchorAttention:
		return true
	}
	return false
}

// AnchorPriority is a four-level total ordering.
type AnchorPriority string

const (
	PriorityCritical AnchorPriority = "critical"
	PriorityHigh     AnchorPriority = "high"
	PriorityMedium   AnchorPriority = "medium"
	PriorityLow      AnchorPriority = "low"
)

// Rank returns 3 for critical down to 0 for low, -1 if unknown.
func (p AnchorPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// Anchor is a small prioritized fact that survives context compaction.
type Anchor struct {
	ID         string         `json:"id"`
	Type       AnchorType     `json:"type"`
	Priority   AnchorPriority `json:"priority"`
	Content    string         `json:"content"`
	CreatedAt  time.Time      `json:"createdAt"`
	ModifiedAt time.Time      `json:"modifiedAt"`
}

// AgeHours returns hours since the anchor was last modified.
func (a Anchor) AgeHours(now time.Time) float64 {
	return now.Sub(a.ModifiedAt).Hours()
}

// ActiveTaskRef points at the task a session is working on.
type ActiveTaskRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BlockRef records the last governance block seen in a session.
type BlockRef struct {
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the lightweight per-session record.
type SessionState struct {
	ActiveTask    *ActiveTaskRef `json:"activeTask"`
	LastBlock     *BlockRef      `json:"lastBlock"`
	CapturedAgent string         `json:"capturedAgent,omitempty"`
}

// GovernanceState bundles every persisted document the service owns.
type GovernanceState struct {
	Graph       *TaskGraph
	Delegations *DelegationStore
	Anchors     map[string][]Anchor      // sessionID -> anchors
	Sessions    map[string]*SessionState // sessionID -> session record
}

// NewGovernanceState returns an empty state with all maps initialized.
func NewGovernanceState() *GovernanceState {
	return &GovernanceState{
		Graph:       NewTaskGraph(),
		Delegations: NewDelegationStore(),
		Anchors:     make(map[string][]Anchor),
		Sessions:    make(map[string]*SessionState),
	}
}

// Session returns the session record for id, creating it if needed.
func (s *GovernanceState) Session(id string) *SessionState {
	if s.Sessions == nil {
		s.Sessions = make(map[string]*SessionState)
	}
	ss, ok := s.Sessions[id]
	if !ok || ss == nil {
		ss = &SessionState{}
		s.Sessions[id] = ss
	}
	return ss
}

// PeekSession returns the session record for id without creating it.
func (s *GovernanceState) PeekSession(id string) *SessionState {
	if s.Sessions == nil {
		return nil
	}
	return s.Sessions[id]
}
