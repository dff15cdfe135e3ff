// Package hooks implements the host lifecycle hook bodies: the tool gate
// before and after execution, system prompt and compaction injection, the
// stale-task message reminder and agent capture.
//
// Every entry point contains its own panics and errors. A hook that fails
// lets the host continue as if governance were absent.
package hooks

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/metrics"
	"github.com/jaakkos/idumb/internal/outcome"
	"github.com/jaakkos/idumb/internal/shell"
	"github.com/jaakkos/idumb/internal/taskgraph"
	"github.com/jaakkos/idumb/internal/tools/govern"
)

// Event names a hook slot.
type Event string

const (
	EventToolBefore        Event = "tool-before"
	EventToolAfter         Event = "tool-after"
	EventCompacting        Event = "compacting"
	EventSystemTransform   Event = "system-transform"
	EventMessagesTransform Event = "messages-transform"
	EventChatParams        Event = "chat-params"
)

// Events lists every supported event.
var Events = []Event{
	EventToolBefore, EventToolAfter, EventCompacting,
	EventSystemTransform, EventMessagesTransform, EventChatParams,
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records blocks, checkpoints and contained failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler holds the hook bodies. It is safe for concurrent use.
type Handler struct {
	svc     *app.GovernanceService
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a Handler over svc.
func New(svc *app.GovernanceService, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, logger: logger.Named("hooks")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// contain recovers a panic in hook, logs it and counts it.
func (h *Handler) contain(hook Event, sessionID string) {
	if r := recover(); r != nil {
		h.logger.Error("hook panic contained",
			zap.String("hook", string(hook)),
			zap.String("session", sessionID),
			zap.Any("panic", r),
			zap.Stack("stack"))
		h.metrics.ObserveHookFailure(string(hook))
	}
}

func (h *Handler) failed(hook Event, sessionID string, err error) {
	h.logger.Error("hook failed",
		zap.String("hook", string(hook)),
		zap.String("session", sessionID),
		zap.Error(err))
	h.metrics.ObserveHookFailure(string(hook))
}

// ToolBefore gates a tool call. It returns the (possibly rewritten) args and
// a non-nil Block when the call must not run. Checks run in order: the
// destructive blacklist, the captured agent's shell permissions, the active
// task's tool scope, then unscoped writes under a strict plan.
func (h *Handler) ToolBefore(sessionID, tool string, args map[string]any) (out map[string]any, block *outcome.Block) {
	out = args
	defer h.contain(EventToolBefore, sessionID)

	var (
		agent    string
		scope    []string
		taskName string
		strict   bool
		hasTask  bool
	)
	err := h.svc.Query(func(st *domain.GovernanceState) error {
		if ss := st.PeekSession(sessionID); ss != nil {
			agent = ss.CapturedAgent
		}
		if _, node := app.ActiveTask(st, sessionID); node != nil {
			hasTask = true
			scope = node.AllowedTools
			taskName = node.Name
		}
		if plan := taskgraph.ActivePlan(st.Graph); plan != nil {
			strict = plan.GovernanceLevel == domain.LevelStrict
		}
		return nil
	})
	if err != nil {
		h.failed(EventToolBefore, sessionID, err)
		return out, nil
	}

	if shell.IsShellTool(tool) {
		if cmd := commandArg(args); cmd != "" {
			role := agent
			if role == "" {
				role = h.svc.Policy().DefaultAgent()
			}
			if err := shell.Authorize(role, cmd); err != nil {
				if d, ok := err.(*shell.Denial); ok {
					return out, h.block(sessionID, tool, d.Block())
				}
			}
		}
	}

	if hasTask && len(scope) > 0 && !govern.IsGovernanceTool(tool) && !containsFold(scope, tool) {
		return out, h.block(sessionID, tool, &outcome.Block{
			What:       fmt.Sprintf("tool %s is outside the scope of task %q", tool, taskName),
			Why:        "the active task allows only: " + strings.Join(scope, ", "),
			UseInstead: "one of the allowed tools, or finish the task and start one that allows " + tool,
			Evidence:   "allowedTools=[" + strings.Join(scope, ", ") + "]",
		})
	}

	if shell.IsWriteTool(tool) && !hasTask && strict {
		return out, h.block(sessionID, tool, &outcome.Block{
			What:       fmt.Sprintf("%s without an active task", tool),
			Why:        "the active plan is governed strictly; every write needs a task to attach evidence to",
			UseInstead: "start a task first (govern_task start), or add one (govern_task add)",
			Evidence:   "governanceLevel=strict activeTask=none",
		})
	}

	if govern.IsGovernanceTool(tool) {
		out = injectContext(args, sessionID, agent)
	}
	return out, nil
}

// injectContext fills in the host session and captured agent on a governance
// tool call so the tool acts for the same session the hooks see. Arguments
// the caller set are kept. args is never modified.
func injectContext(args map[string]any, sessionID, agent string) map[string]any {
	add := map[string]string{}
	if _, set := args[govern.SessionArg]; !set {
		add[govern.SessionArg] = sessionID
	}
	if _, set := args["agent"]; !set && agent != "" {
		add["agent"] = agent
	}
	if len(add) == 0 {
		return args
	}
	out := make(map[string]any, len(args)+len(add))
	for k, v := range args {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

func (h *Handler) block(sessionID, tool string, b *outcome.Block) *outcome.Block {
	h.metrics.ObserveBlock("hook")
	err := h.svc.Run(func(st *domain.GovernanceState) error {
		st.Session(sessionID).LastBlock = &domain.BlockRef{Tool: tool, Timestamp: h.svc.Now()}
		return nil
	})
	if err != nil {
		h.failed(EventToolBefore, sessionID, err)
	}
	h.logger.Info("tool blocked", zap.String("session", sessionID), zap.String("tool", tool), zap.String("what", b.What))
	return b
}

// ToolAfter inspects a finished tool call. A destructive shell command that
// got past the gate has its output replaced by a block notice. Otherwise
// evidence is recorded against the active task and output is returned as is.
func (h *Handler) ToolAfter(sessionID, tool string, args map[string]any, output string) (result string) {
	result = output
	defer h.contain(EventToolAfter, sessionID)

	cmd := commandArg(args)
	if shell.IsShellTool(tool) && cmd != "" {
		if name := shell.MatchDestructive(cmd); name != "" {
			b := &outcome.Block{
				What:       "destructive command reached execution: " + cmd,
				Why:        fmt.Sprintf("matches the %q blacklist entry", name),
				UseInstead: "inspect the workspace and report the damage to a human operator",
				Evidence:   "pattern=" + name,
			}
			return h.block(sessionID, tool, b).String()
		}
	}

	// Governance tools record their own evidence.
	if govern.IsGovernanceTool(tool) {
		return output
	}

	var cp *domain.Checkpoint
	err := h.svc.Run(func(st *domain.GovernanceState) error {
		cp = app.RecordEvidence(st, app.ToolCall{
			SessionID: sessionID,
			Tool:      tool,
			Command:   cmd,
			Files:     fileArgs(args),
		}, h.svc.Now())
		return nil
	})
	if err != nil {
		h.failed(EventToolAfter, sessionID, err)
		return output
	}
	if cp != nil {
		h.metrics.ObserveCheckpoint(tool)
		h.logger.Debug("checkpoint recorded", zap.String("session", sessionID), zap.String("task", cp.TaskID), zap.String("tool", tool))
	}
	return output
}

// Compacting returns the recovery block for a compacting session, or "".
func (h *Handler) Compacting(sessionID string) (block string) {
	defer h.contain(EventCompacting, sessionID)
	_ = h.svc.Query(func(st *domain.GovernanceState) error {
		block = app.CompactionBlock(st, sessionID, h.svc.Policy(), h.svc.Now()).Text
		return nil
	})
	return block
}

// SystemTransform appends the governance block to the system fragments.
// Existing fragments are never replaced.
func (h *Handler) SystemTransform(sessionID string, fragments []string) (out []string) {
	out = fragments
	defer h.contain(EventSystemTransform, sessionID)
	var block string
	_ = h.svc.Query(func(st *domain.GovernanceState) error {
		block = app.SystemPromptBlock(st, sessionID, h.svc.Policy(), h.svc.Now()).Text
		return nil
	})
	if block == "" {
		return fragments
	}
	return append(append([]string{}, fragments...), block)
}

// MessagesTransform appends a reminder part when the active task is stale.
func (h *Handler) MessagesTransform(sessionID string, parts []string) (out []string) {
	out = parts
	defer h.contain(EventMessagesTransform, sessionID)
	var reminder string
	_ = h.svc.Query(func(st *domain.GovernanceState) error {
		reminder = app.StaleReminder(st, sessionID, h.svc.Policy(), h.svc.Now())
		return nil
	})
	if reminder == "" {
		return parts
	}
	return append(append([]string{}, parts...), reminder)
}

// ChatParams records the agent declared for the turn as the session's captured agent.
func (h *Handler) ChatParams(sessionID, agent string) {
	defer h.contain(EventChatParams, sessionID)
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return
	}
	err := h.svc.Run(func(st *domain.GovernanceState) error {
		ss := st.Session(sessionID)
		if ss.CapturedAgent == agent {
			return errUnchanged
		}
		ss.CapturedAgent = agent
		return nil
	})
	if err != nil && err != errUnchanged {
		h.failed(EventChatParams, sessionID, err)
	}
}

var errUnchanged = errors.New("unchanged")

func commandArg(args map[string]any) string {
	for _, k := range []string{"command", "cmd"} {
		if s, ok := args[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// fileArgs collects the file paths a tool call names.
func fileArgs(args map[string]any) []string {
	var out []string
	for _, k := range []string{"file_path", "filePath", "path", "target_file"} {
		if s, ok := args[k].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if list, ok := args["files"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
