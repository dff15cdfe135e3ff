// Package sqlite persists governance documents in an embedded SQLite database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/idumb/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	acceptance TEXT NOT NULL DEFAULT '[]',
	category TEXT NOT NULL,
	governance_level TEXT NOT NULL,
	status TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	depends_on TEXT NOT NULL DEFAULT '[]',
	close_reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	completed_at TEXT,
	purged_at TEXT
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	lane TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	expected_output TEXT NOT NULL,
	status TEXT NOT NULL,
	delegated_by TEXT NOT NULL DEFAULT '',
	assigned_to TEXT NOT NULL DEFAULT '',
	allowed_tools TEXT NOT NULL DEFAULT '[]',
	depends_on TEXT NOT NULL DEFAULT '[]',
	temporal_gate TEXT,
	artifacts TEXT NOT NULL DEFAULT '[]',
	fail_reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	result TEXT,
	FOREIGN KEY (plan_id) REFERENCES plans(id)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	tool TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	summary TEXT NOT NULL,
	files TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS delegations (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	task_id TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	expected_output TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	allowed_tools TEXT NOT NULL DEFAULT '[]',
	allowed_actions TEXT NOT NULL DEFAULT '[]',
	max_depth INTEGER NOT NULL,
	status TEXT NOT NULL,
	reject_reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	completed_at TEXT,
	result TEXT
);
CREATE TABLE IF NOT EXISTS anchors (
	session_id TEXT NOT NULL,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	type TEXT NOT NULL,
	priority TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	PRIMARY KEY (session_id, id)
);
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	active_task_id TEXT NOT NULL DEFAULT '',
	active_task_name TEXT NOT NULL DEFAULT '',
	last_block_tool TEXT NOT NULL DEFAULT '',
	last_block_at TEXT,
	captured_agent TEXT NOT NULL DEFAULT ''
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id, lane, position);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id, position);
CREATE INDEX IF NOT EXISTS idx_delegations_task ON delegations(task_id, status);
`

const (
	laneTasks     = "tasks"
	lanePlanAhead = "plan_ahead"
)

// Store implements the document adapter using SQLite.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at path (creating parent dirs and schema).
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime parses RFC3339Nano or returns zero time and error.
func parseTime(s, context string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString, context string) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String, context)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func encodeNullableJSON(v any, present bool) sql.NullString {
	if !present {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// parseJSON unmarshals s into v or returns error with context.
func parseJSON(s string, v any, context string) error {
	if s == "" || s == "[]" || s == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	return nil
}

func (s *Store) meta(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func setMeta(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec("INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

// LoadGraph reads plans, both task lanes and checkpoints.
func (s *Store) LoadGraph() (*domain.TaskGraph, error) {
	g := domain.NewTaskGraph()
	if v, err := s.meta("graph_version"); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	} else if v != "" {
		g.Version = v
	}
	active, err := s.meta("active_work_plan_id")
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	g.ActiveWorkPlanID = active

	checkpoints, err := s.loadCheckpoints()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT id, name, acceptance, category, governance_level, status, owner, depends_on,
		close_reason, created_at, modified_at, completed_at, purged_at FROM plans ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}
	byID := make(map[string]*domain.WorkPlan)
	for rows.Next() {
		p := &domain.WorkPlan{Tasks: []*domain.TaskNode{}, PlanAhead: []*domain.TaskNode{}}
		var acc, deps, ca, ma string
		var completed, purged sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &acc, &p.Category, &p.GovernanceLevel, &p.Status, &p.Owner, &deps,
			&p.CloseReason, &ca, &ma, &completed, &purged); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := s.fillPlan(p, acc, deps, ca, ma, completed, purged); err != nil {
			_ = rows.Close()
			return nil, err
		}
		g.WorkPlans = append(g.WorkPlans, p)
		byID[p.ID] = p
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plans iteration: %w", err)
	}

	rows, err = s.db.Query(`SELECT id, plan_id, lane, name, expected_output, status, delegated_by, assigned_to,
		allowed_tools, depends_on, temporal_gate, artifacts, fail_reason, created_at, modified_at, started_at,
		completed_at, result FROM tasks ORDER BY plan_id, lane, position`)
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	for rows.Next() {
		t := &domain.TaskNode{Checkpoints: []domain.Checkpoint{}}
		var lane, tools, deps, artifacts, ca, ma string
		var gate, started, completed, result sql.NullString
		if err := rows.Scan(&t.ID, &t.WorkPlanID, &lane, &t.Name, &t.ExpectedOutput, &t.Status, &t.DelegatedBy,
			&t.AssignedTo, &tools, &deps, &gate, &artifacts, &t.FailReason, &ca, &ma, &started, &completed, &result); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := fillTask(t, tools, deps, artifacts, ca, ma, gate, started, completed, result); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if cps, ok := checkpoints[t.ID]; ok {
			t.Checkpoints = cps
		}
		p, ok := byID[t.WorkPlanID]
		if !ok {
			continue
		}
		if lane == lanePlanAhead {
			p.PlanAhead = append(p.PlanAhead, t)
		} else {
			p.Tasks = append(p.Tasks, t)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tasks iteration: %w", err)
	}
	return g, nil
}

func (s *Store) fillPlan(p *domain.WorkPlan, acc, deps, ca, ma string, completed, purged sql.NullString) error {
	var err error
	if err = parseJSON(acc, &p.Acceptance, "plans acceptance"); err != nil {
		return err
	}
	if err = parseJSON(deps, &p.DependsOn, "plans depends_on"); err != nil {
		return err
	}
	if p.CreatedAt, err = parseTime(ca, "plans"); err != nil {
		return err
	}
	if p.ModifiedAt, err = parseTime(ma, "plans"); err != nil {
		return err
	}
	if p.CompletedAt, err = parseTimePtr(completed, "plans completed_at"); err != nil {
		return err
	}
	if p.PurgedAt, err = parseTimePtr(purged, "plans purged_at"); err != nil {
		return err
	}
	return nil
}

func fillTask(t *domain.TaskNode, tools, deps, artifacts, ca, ma string, gate, started, completed, result sql.NullString) error {
	var err error
	if err = parseJSON(tools, &t.AllowedTools, "tasks allowed_tools"); err != nil {
		return err
	}
	if err = parseJSON(deps, &t.DependsOn, "tasks depends_on"); err != nil {
		return err
	}
	if err = parseJSON(artifacts, &t.Artifacts, "tasks artifacts"); err != nil {
		return err
	}
	if gate.Valid {
		t.TemporalGate = &domain.TemporalGate{}
		if err = parseJSON(gate.String, t.TemporalGate, "tasks temporal_gate"); err != nil {
			return err
		}
	}
	if result.Valid {
		t.Result = &domain.TaskResult{}
		if err = parseJSON(result.String, t.Result, "tasks result"); err != nil {
			return err
		}
	}
	if t.CreatedAt, err = parseTime(ca, "tasks"); err != nil {
		return err
	}
	if t.ModifiedAt, err = parseTime(ma, "tasks"); err != nil {
		return err
	}
	if t.StartedAt, err = parseTimePtr(started, "tasks started_at"); err != nil {
		return err
	}
	if t.CompletedAt, err = parseTimePtr(completed, "tasks completed_at"); err != nil {
		return err
	}
	return nil
}

func (s *Store) loadCheckpoints() (map[string][]domain.Checkpoint, error) {
	rows, err := s.db.Query("SELECT id, task_id, tool, timestamp, summary, files FROM checkpoints ORDER BY task_id, position")
	if err != nil {
		return nil, fmt.Errorf("checkpoints: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]domain.Checkpoint)
	for rows.Next() {
		var cp domain.Checkpoint
		var ts, files string
		if err := rows.Scan(&cp.ID, &cp.TaskID, &cp.Tool, &ts, &cp.Summary, &files); err != nil {
			return nil, err
		}
		if cp.Timestamp, err = parseTime(ts, "checkpoints"); err != nil {
			return nil, err
		}
		if err := parseJSON(files, &cp.Files, "checkpoints files"); err != nil {
			return nil, err
		}
		out[cp.TaskID] = append(out[cp.TaskID], cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoints iteration: %w", err)
	}
	return out, nil
}

// SaveGraph replaces the graph document in one transaction.
func (s *Store) SaveGraph(g *domain.TaskGraph) error {
	if g == nil {
		return errors.New("graph is nil")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range []string{"checkpoints", "tasks", "plans"} {
		if _, err := tx.Exec("DELETE FROM " + t); err != nil {
			return err
		}
	}
	if err := setMeta(tx, "graph_version", g.Version); err != nil {
		return err
	}
	if err := setMeta(tx, "active_work_plan_id", g.ActiveWorkPlanID); err != nil {
		return err
	}

	for i, p := range g.WorkPlans {
		if p == nil {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO plans (id, position, name, acceptance, category, governance_level, status, owner,
			depends_on, close_reason, created_at, modified_at, completed_at, purged_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, i, p.Name, encodeJSON(p.Acceptance), string(p.Category), string(p.GovernanceLevel), string(p.Status), p.Owner,
			encodeJSON(p.DependsOn), p.CloseReason, formatTime(p.CreatedAt), formatTime(p.ModifiedAt),
			formatTimePtr(p.CompletedAt), formatTimePtr(p.PurgedAt)); err != nil {
			return fmt.Errorf("insert plan %s: %w", p.ID, err)
		}
		for lane, nodes := range map[string][]*domain.TaskNode{laneTasks: p.Tasks, lanePlanAhead: p.PlanAhead} {
			for j, t := range nodes {
				if t == nil {
					continue
				}
				if err := insertTask(tx, p.ID, lane, j, t); err != nil {
					return err
				}
			}
		}
	}
	return tx.Commit()
}

func insertTask(tx *sql.Tx, planID, lane string, pos int, t *domain.TaskNode) error {
	if _, err := tx.Exec(`INSERT INTO tasks (id, plan_id, lane, position, name, expected_output, status, delegated_by,
		assigned_to, allowed_tools, depends_on, temporal_gate, artifacts, fail_reason, created_at, modified_at, started_at,
		completed_at, result) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, planID, lane, pos, t.Name, t.ExpectedOutput, string(t.Status), t.DelegatedBy, t.AssignedTo,
		encodeJSON(t.AllowedTools), encodeJSON(t.DependsOn), encodeNullableJSON(t.TemporalGate, t.TemporalGate != nil),
		encodeJSON(t.Artifacts), t.FailReason, formatTime(t.CreatedAt), formatTime(t.ModifiedAt),
		formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt), encodeNullableJSON(t.Result, t.Result != nil)); err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	for k, cp := range t.Checkpoints {
		if _, err := tx.Exec("INSERT INTO checkpoints (id, task_id, position, tool, timestamp, summary, files) VALUES (?, ?, ?, ?, ?, ?, ?)",
			cp.ID, t.ID, k, cp.Tool, formatTime(cp.Timestamp), cp.Summary, encodeJSON(cp.Files)); err != nil {
			return fmt.Errorf("insert checkpoint %s: %w", cp.ID, err)
		}
	}
	return nil
}

// LoadDelegations reads every delegation record in creation order.
func (s *Store) LoadDelegations() (*domain.DelegationStore, error) {
	store := domain.NewDelegationStore()
	if v, err := s.meta("delegations_version"); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	} else if v != "" {
		store.Version = v
	}
	rows, err := s.db.Query(`SELECT id, from_agent, to_agent, task_id, context, expected_output, category, allowed_tools,
		allowed_actions, max_depth, status, reject_reason, created_at, expires_at, completed_at, result
		FROM delegations ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("delegations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		d := &domain.DelegationRecord{}
		var tools, actions, ca, ea string
		var completed, result sql.NullString
		if err := rows.Scan(&d.ID, &d.FromAgent, &d.ToAgent, &d.TaskID, &d.Context, &d.ExpectedOutput, &d.Category,
			&tools, &actions, &d.MaxDepth, &d.Status, &d.RejectReason, &ca, &ea, &completed, &result); err != nil {
			return nil, err
		}
		if err := parseJSON(tools, &d.AllowedTools, "delegations allowed_tools"); err != nil {
			return nil, err
		}
		if err := parseJSON(actions, &d.AllowedActions, "delegations allowed_actions"); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(ca, "delegations"); err != nil {
			return nil, err
		}
		if d.ExpiresAt, err = parseTime(ea, "delegations"); err != nil {
			return nil, err
		}
		if d.CompletedAt, err = parseTimePtr(completed, "delegations completed_at"); err != nil {
			return nil, err
		}
		if result.Valid {
			d.Result = &domain.DelegationResult{}
			if err := parseJSON(result.String, d.Result, "delegations result"); err != nil {
				return nil, err
			}
		}
		store.Delegations = append(store.Delegations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delegations iteration: %w", err)
	}
	return store, nil
}

// SaveDelegations replaces the delegation document in one transaction.
func (s *Store) SaveDelegations(store *domain.DelegationStore) error {
	if store == nil {
		return errors.New("delegation store is nil")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM delegations"); err != nil {
		return err
	}
	if err := setMeta(tx, "delegations_version", store.Version); err != nil {
		return err
	}
	for i, d := range store.Delegations {
		if d == nil {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO delegations (id, position, from_agent, to_agent, task_id, context, expected_output,
			category, allowed_tools, allowed_actions, max_depth, status, reject_reason, created_at, expires_at, completed_at, result)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, i, d.FromAgent, d.ToAgent, d.TaskID, d.Context, d.ExpectedOutput, string(d.Category),
			encodeJSON(d.AllowedTools), encodeJSON(d.AllowedActions), d.MaxDepth, string(d.Status), d.RejectReason,
			formatTime(d.CreatedAt), formatTime(d.ExpiresAt), formatTimePtr(d.CompletedAt),
			encodeNullableJSON(d.Result, d.Result != nil)); err != nil {
			return fmt.Errorf("insert delegation %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// SessionIDs lists sessions with anchors or a session record.
func (s *Store) SessionIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT session_id FROM sessions UNION SELECT DISTINCT session_id FROM anchors ORDER BY 1")
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadAnchors reads one session's anchors in insertion order.
func (s *Store) LoadAnchors(sessionID string) ([]domain.Anchor, error) {
	rows, err := s.db.Query("SELECT id, type, priority, content, created_at, modified_at FROM anchors WHERE session_id = ? ORDER BY position", sessionID)
	if err != nil {
		return nil, fmt.Errorf("anchors: %w", err)
	}
	defer rows.Close()
	var out []domain.Anchor
	for rows.Next() {
		var a domain.Anchor
		var ca, ma string
		if err := rows.Scan(&a.ID, &a.Type, &a.Priority, &a.Content, &ca, &ma); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(ca, "anchors"); err != nil {
			return nil, err
		}
		if a.ModifiedAt, err = parseTime(ma, "anchors"); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAnchors replaces one session's anchors.
func (s *Store) SaveAnchors(sessionID string, anchors []domain.Anchor) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is empty")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM anchors WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	for i, a := range anchors {
		if _, err := tx.Exec("INSERT INTO anchors (session_id, id, position, type, priority, content, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			sessionID, a.ID, i, string(a.Type), string(a.Priority), a.Content, formatTime(a.CreatedAt), formatTime(a.ModifiedAt)); err != nil {
			return fmt.Errorf("insert anchor %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// LoadSession reads one session record; nil when absent.
func (s *Store) LoadSession(sessionID string) (*domain.SessionState, error) {
	var taskID, taskName, blockTool, agent string
	var blockAt sql.NullString
	err := s.db.QueryRow("SELECT active_task_id, active_task_name, last_block_tool, last_block_at, captured_agent FROM sessions WHERE session_id = ?", sessionID).
		Scan(&taskID, &taskName, &blockTool, &blockAt, &agent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	ss := &domain.SessionState{CapturedAgent: agent}
	if taskID != "" {
		ss.ActiveTask = &domain.ActiveTaskRef{ID: taskID, Name: taskName}
	}
	if blockTool != "" {
		ts, err := parseTimePtr(blockAt, "sessions last_block_at")
		if err != nil {
			return nil, err
		}
		ss.LastBlock = &domain.BlockRef{Tool: blockTool}
		if ts != nil {
			ss.LastBlock.Timestamp = *ts
		}
	}
	return ss, nil
}

// SaveSession upserts one session record.
func (s *Store) SaveSession(sessionID string, ss *domain.SessionState) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is empty")
	}
	if ss == nil {
		ss = &domain.SessionState{}
	}
	var taskID, taskName, blockTool string
	var blockAt sql.NullString
	if ss.ActiveTask != nil {
		taskID, taskName = ss.ActiveTask.ID, ss.ActiveTask.Name
	}
	if ss.LastBlock != nil {
		blockTool = ss.LastBlock.Tool
		blockAt = sql.NullString{String: formatTime(ss.LastBlock.Timestamp), Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO sessions (session_id, active_task_id, active_task_name, last_block_tool, last_block_at, captured_agent)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET active_task_id = excluded.active_task_id, active_task_name = excluded.active_task_name,
		last_block_tool = excluded.last_block_tool, last_block_at = excluded.last_block_at, captured_agent = excluded.captured_agent`,
		sessionID, taskID, taskName, blockTool, blockAt, ss.CapturedAgent)
	return err
}
