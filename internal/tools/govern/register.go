// Package govern exposes the governance tools over MCP: govern_plan,
// govern_task, govern_delegate, govern_shell and idumb_anchor.
package govern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/metrics"
	"github.com/jaakkos/idumb/internal/outcome"
	"github.com/jaakkos/idumb/internal/shell"
)

// Tool names.
const (
	ToolPlan     = "govern_plan"
	ToolTask     = "govern_task"
	ToolDelegate = "govern_delegate"
	ToolShell    = "govern_shell"
	ToolAnchor   = "idumb_anchor"
)

// ToolNames lists every governance tool.
var ToolNames = []string{ToolPlan, ToolTask, ToolDelegate, ToolShell, ToolAnchor}

// IsGovernanceTool reports whether name is one of ours.
func IsGovernanceTool(name string) bool {
	for _, t := range ToolNames {
		if t == name {
			return true
		}
	}
	return false
}

// RegisterOption configures optional dependencies for tool registration.
type RegisterOption func(*toolset)

// WithMetrics records tool outcomes.
func WithMetrics(m *metrics.Metrics) RegisterOption {
	return func(t *toolset) { t.metrics = m }
}

// WithExecutor overrides the shell executor built from policy.
func WithExecutor(e *shell.Executor) RegisterOption {
	return func(t *toolset) { t.executor = e }
}

// toolset is shared by every handler.
type toolset struct {
	svc      *app.GovernanceService
	registry *app.SessionRegistry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	executor *shell.Executor
}

// Register registers the governance tools and resources with the mcp-go server.
func Register(s *server.MCPServer, svc *app.GovernanceService, registry *app.SessionRegistry, logger *zap.Logger, opts ...RegisterOption) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = app.NewSessionRegistry()
	}
	pol := svc.Policy()
	t := &toolset{svc: svc, registry: registry, logger: logger.Named("tools")}
	for _, o := range opts {
		o(t)
	}
	if t.executor == nil {
		t.executor = shell.NewExecutor(pol.ShellDefaultTimeout(), pol.ShellMaxTimeout(), pol.ShellMaxOutput())
	}

	for _, reg := range []struct {
		name string
		fn   func(*server.MCPServer, *toolset)
	}{
		{ToolPlan, registerPlan},
		{ToolTask, registerTask},
		{ToolDelegate, registerDelegate},
		{ToolShell, registerShell},
		{ToolAnchor, registerAnchor},
	} {
		if !pol.IsToolEnabled(reg.name) {
			t.logger.Info("tool disabled by policy", zap.String("tool", reg.name))
			continue
		}
		reg.fn(s, t)
	}

	registerResources(s, t)
}

// call is what every handler receives.
type call struct {
	sessionID string
	agent     string // explicit agent argument, may be empty
	args      map[string]any
}

// SessionArg carries the host session id. The tool-before hook injects it so
// tools and hooks key session state the same way.
const SessionArg = "session_id"

// sessionIDFrom returns the MCP session id, or the default session.
func sessionIDFrom(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
		return session.SessionID()
	}
	return app.DefaultSessionID
}

// sessionFor prefers the host session named in args over the transport
// session. Every stdio conversation shares one transport session.
func sessionFor(ctx context.Context, args map[string]any) string {
	if id, ok := args[SessionArg].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return sessionIDFrom(ctx)
}

// handle wraps fn with panic containment, outcome rendering and metrics.
// Handlers never return Go errors: failures are tool results with IsError set.
func (t *toolset) handle(name string, fn func(ctx context.Context, c call) outcome.Outcome) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("tool handler panic", zap.String("tool", name), zap.Any("panic", r), zap.Stack("stack"))
				out := outcome.Errorf("retry the call; if it keeps failing, report it to the operator", "%s failed unexpectedly", name)
				t.metrics.ObserveTool(name, out.Kind)
				res, err = toResult(out), nil
			}
		}()

		c := call{args: req.GetArguments()}
		if c.args == nil {
			c.args = map[string]any{}
		}
		c.sessionID = sessionFor(ctx, c.args)
		c.agent = optionalString(c.args, "agent")
		if c.agent != "" {
			t.registry.SetAgent(c.sessionID, c.agent)
		}

		out := fn(ctx, c)
		t.metrics.ObserveTool(name, out.Kind)
		if out.Kind == outcome.KindBlock {
			t.recordBlock(c.sessionID, name)
		}
		t.logger.Debug("tool call", zap.String("tool", name), zap.String("session", c.sessionID), zap.Stringer("kind", out.Kind))
		return toResult(out), nil
	}
}

func toResult(out outcome.Outcome) *mcp.CallToolResult {
	if out.IsFailure() {
		return mcp.NewToolResultError(out.Text)
	}
	return mcp.NewToolResultText(out.Text)
}

func argFailure(err error) outcome.Outcome {
	var ae *argError
	if errors.As(err, &ae) {
		return outcome.Errorf(ae.fix, "%s", ae.msg)
	}
	return outcome.Errorf("", "%v", err)
}

// errRolledBack tells Run to discard the mutation of a failed action.
var errRolledBack = errors.New("action failed")

// mutate runs fn under the service lock and persists the result when fn
// succeeds. A failing outcome rolls the state back.
func (t *toolset) mutate(fn func(st *domain.GovernanceState, now time.Time) outcome.Outcome) outcome.Outcome {
	var out outcome.Outcome
	err := t.svc.Run(func(st *domain.GovernanceState) error {
		out = fn(st, t.svc.Now())
		if out.IsFailure() {
			return errRolledBack
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRolledBack) {
		t.logger.Error("governance state unavailable", zap.Error(err))
		return outcome.Errorf("retry the call", "governance state unavailable: %v", err)
	}
	return t.withDegradedNotice(out)
}

// query runs fn read-only.
func (t *toolset) query(fn func(st *domain.GovernanceState, now time.Time) outcome.Outcome) outcome.Outcome {
	var out outcome.Outcome
	_ = t.svc.Query(func(st *domain.GovernanceState) error {
		out = fn(st, t.svc.Now())
		return nil
	})
	return t.withDegradedNotice(out)
}

func (t *toolset) withDegradedNotice(out outcome.Outcome) outcome.Outcome {
	if out.Kind != outcome.KindOK {
		return out
	}
	if degraded, reason := t.svc.Degraded(); degraded {
		out.Text += "\nWARNING: governance state is in degraded mode: " + reason
	}
	return out
}

// agentFor resolves the acting agent: explicit argument, captured session
// agent, registry, then the configured default.
func (t *toolset) agentFor(st *domain.GovernanceState, c call) string {
	fallback := t.registry.GetAgent(c.sessionID)
	if fallback == "" {
		fallback = t.svc.Policy().DefaultAgent()
	}
	return app.ResolveAgent(c.agent, st.PeekSession(c.sessionID), fallback)
}

func (t *toolset) recordBlock(sessionID, tool string) {
	err := t.svc.Run(func(st *domain.GovernanceState) error {
		st.Session(sessionID).LastBlock = &domain.BlockRef{Tool: tool, Timestamp: t.svc.Now()}
		return nil
	})
	if err != nil {
		t.logger.Warn("record block failed", zap.Error(err))
	}
}

func withAgentArg(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append(opts,
		mcp.WithString("agent", mcp.Description("Acting agent role. Inferred from the session when omitted.")),
		mcp.WithString(SessionArg, mcp.Description("Host session id. Filled in by the idumb tool-before hook; omit it otherwise.")),
	)
}

func describeActions(actions []string) string {
	return fmt.Sprintf("Action to perform: %v", actions)
}
