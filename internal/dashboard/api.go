// Package dashboard provides a read-only JSON API for monitoring governance
// state: plans, tasks, delegations and sessions.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/metrics"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

// StateSnapshot is the JSON response from /api/state.
type StateSnapshot struct {
	Timestamp       string               `json:"timestamp"`
	Workspace       string               `json:"workspace"`
	Degraded        bool                 `json:"degraded"`
	DegradedReason  string               `json:"degraded_reason,omitempty"`
	ActivePlanID    string               `json:"active_plan_id,omitempty"`
	Plans           []PlanSnapshot       `json:"plans"`
	Delegations     []DelegationSnapshot `json:"delegations"`
	Sessions        []SessionSnapshot    `json:"sessions,omitempty"`
	ConnectedAgents []string             `json:"connected_agents,omitempty"`
}

// PlanSnapshot is a per-plan summary. Tasks is filled by /api/plans/{id}.
type PlanSnapshot struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Category        string         `json:"category"`
	GovernanceLevel string         `json:"governance_level"`
	Status          string         `json:"status"`
	Owner           string         `json:"owner,omitempty"`
	Completed       int            `json:"completed"`
	Total           int            `json:"total"`
	PlanAhead       int            `json:"plan_ahead"`
	Purged          bool           `json:"purged,omitempty"`
	Age             string         `json:"age"`
	Acceptance      []string       `json:"acceptance,omitempty"`
	Tasks           []TaskSnapshot `json:"tasks,omitempty"`
}

// TaskSnapshot is a per-task summary.
type TaskSnapshot struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	AssignedTo   string   `json:"assigned_to,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Stale        bool     `json:"stale"`
	Checkpoints  int      `json:"checkpoints"`
	LastActivity string   `json:"last_activity"`
	Lane         string   `json:"lane"`
}

// DelegationSnapshot is a per-delegation summary.
type DelegationSnapshot struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	TaskID    string `json:"task_id"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	Depth     int    `json:"depth_budget"`
	Context   string `json:"context"`
	Age       string `json:"age"`
	ExpiresIn string `json:"expires_in,omitempty"`
}

// SessionSnapshot is a per-session summary.
type SessionSnapshot struct {
	ID            string `json:"id"`
	CapturedAgent string `json:"captured_agent,omitempty"`
	ActiveTask    string `json:"active_task,omitempty"`
	LastBlock     string `json:"last_block,omitempty"`
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	svc      *app.GovernanceService
	registry *app.SessionRegistry
	metrics  *metrics.Metrics
}

// HandlerOption configures optional dependencies for the dashboard handler.
type HandlerOption func(*Handler)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a dashboard handler. registry may be nil.
func NewHandler(svc *app.GovernanceService, registry *app.SessionRegistry, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, registry: registry}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/api/state", h.handleAPIState)
	r.Get("/api/plans/{id}", h.handleAPIPlan)
	r.Get("/api/delegations", h.handleAPIDelegations)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
}

// Router returns a standalone router serving the API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	degraded, reason := h.svc.Degraded()
	status := "ok"
	if degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "degraded": degraded, "reason": reason})
}

func (h *Handler) handleAPIState(w http.ResponseWriter, r *http.Request) {
	now := h.svc.Now()
	pol := h.svc.Policy()
	degraded, reason := h.svc.Degraded()
	snap := StateSnapshot{
		Timestamp:      now.Format(time.RFC3339),
		Workspace:      pol.WorkspaceRoot(),
		Degraded:       degraded,
		DegradedReason: reason,
		Plans:          []PlanSnapshot{},
		Delegations:    []DelegationSnapshot{},
	}
	if h.registry != nil {
		snap.ConnectedAgents = h.registry.ConnectedAgents()
	}

	err := h.svc.Query(func(st *domain.GovernanceState) error {
		snap.ActivePlanID = st.Graph.ActiveWorkPlanID
		for _, p := range st.Graph.WorkPlans {
			snap.Plans = append(snap.Plans, planSnapshot(p, now))
		}
		// most recent first, limit 50
		recs := st.Delegations.Delegations
		for i := len(recs) - 1; i >= 0 && len(snap.Delegations) < 50; i-- {
			snap.Delegations = append(snap.Delegations, delegationSnapshot(recs[i], now))
		}
		for id, ss := range st.Sessions {
			if ss == nil {
				continue
			}
			s := SessionSnapshot{ID: id, CapturedAgent: ss.CapturedAgent}
			if ss.ActiveTask != nil {
				s.ActiveTask = fmt.Sprintf("%s %s", ss.ActiveTask.ID, ss.ActiveTask.Name)
			}
			if ss.LastBlock != nil {
				s.LastBlock = fmt.Sprintf("%s %s", ss.LastBlock.Tool, relTime(ss.LastBlock.Timestamp, now))
			}
			snap.Sessions = append(snap.Sessions, s)
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].ID < snap.Sessions[j].ID })
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleAPIPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := h.svc.Now()
	stale := h.svc.Policy().TaskStaleAfter()

	var (
		snap  PlanSnapshot
		found bool
	)
	_ = h.svc.Query(func(st *domain.GovernanceState) error {
		p := taskgraph.FindWorkPlan(st.Graph, id)
		if p == nil {
			return nil
		}
		found = true
		snap = planSnapshot(p, now)
		snap.Acceptance = p.Acceptance
		for _, t := range p.Tasks {
			snap.Tasks = append(snap.Tasks, taskSnapshot(t, "tasks", now, stale))
		}
		for _, t := range p.PlanAhead {
			snap.Tasks = append(snap.Tasks, taskSnapshot(t, "plan_ahead", now, stale))
		}
		return nil
	})
	if !found {
		writeError(w, http.StatusNotFound, "plan not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAPIDelegations lists delegations, optionally filtered by
// ?status=pending|accepted|open|... and ?agent= (either side).
func (h *Handler) handleAPIDelegations(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	now := h.svc.Now()

	out := []DelegationSnapshot{}
	_ = h.svc.Query(func(st *domain.GovernanceState) error {
		recs := st.Delegations.Delegations
		if status == "open" {
			recs = delegation.Open(st.Delegations)
		}
		for _, d := range recs {
			if status != "" && status != "open" && string(d.Status) != status {
				continue
			}
			if agent != "" && d.FromAgent != agent && d.ToAgent != agent {
				continue
			}
			out = append(out, delegationSnapshot(d, now))
		}
		return nil
	})
	writeJSON(w, http.StatusOK, out)
}

func planSnapshot(p *domain.WorkPlan, now time.Time) PlanSnapshot {
	done, total := p.Progress()
	return PlanSnapshot{
		ID:              p.ID,
		Name:            truncate(p.Name, 80),
		Category:        string(p.Category),
		GovernanceLevel: string(p.GovernanceLevel),
		Status:          string(p.Status),
		Owner:           p.Owner,
		Completed:       done,
		Total:           total,
		PlanAhead:       len(p.PlanAhead),
		Purged:          p.PurgedAt != nil,
		Age:             relTime(p.CreatedAt, now),
	}
}

func taskSnapshot(t *domain.TaskNode, lane string, now time.Time, stale time.Duration) TaskSnapshot {
	return TaskSnapshot{
		ID:           t.ID,
		Name:         truncate(t.Name, 80),
		Status:       string(t.Status),
		AssignedTo:   t.AssignedTo,
		DependsOn:    t.DependsOn,
		Stale:        taskgraph.IsStale(t, now, stale),
		Checkpoints:  len(t.Checkpoints),
		LastActivity: relTime(t.LastActivity(), now),
		Lane:         lane,
	}
}

func delegationSnapshot(d *domain.DelegationRecord, now time.Time) DelegationSnapshot {
	s := DelegationSnapshot{
		ID:       d.ID,
		From:     d.FromAgent,
		To:       d.ToAgent,
		TaskID:   d.TaskID,
		Category: string(d.Category),
		Status:   string(d.Status),
		Depth:    d.MaxDepth,
		Context:  truncate(d.Context, 120),
		Age:      relTime(d.CreatedAt, now),
	}
	if d.Status == domain.DelegationPending && d.ExpiresAt.After(now) {
		s.ExpiresIn = d.ExpiresAt.Sub(now).Round(time.Second).String()
	}
	return s
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
