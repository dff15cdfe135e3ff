package govern

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/metrics"
	"github.com/jaakkos/idumb/internal/outcome"
	"github.com/jaakkos/idumb/internal/shell"
)

// registerShell registers the govern_shell tool.
func registerShell(s *server.MCPServer, t *toolset) {
	s.AddTool(
		mcp.NewTool(ToolShell, withAgentArg(
			mcp.WithDescription("Run a shell command under governance: destructive commands are refused for every role, other commands are checked against the acting role's allowed categories, and runs are bounded in time and output."),
			mcp.WithString("action", mcp.Description("Always run"), mcp.Enum("run")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Command line passed to sh -c")),
			mcp.WithNumber("timeout_seconds", mcp.Description(fmt.Sprintf("Timeout in seconds (default %s, max %s)", t.executor.DefaultTimeout, t.executor.MaxTimeout))),
			mcp.WithString("cwd", mcp.Description("Working directory inside the workspace. Defaults to the workspace root.")),
		)...),
		t.handle(ToolShell, t.shellHandler),
	)
}

func (t *toolset) shellHandler(ctx context.Context, c call) outcome.Outcome {
	req, err := parseShellRequest(c.args)
	if err != nil {
		return argFailure(err)
	}
	category := string(shell.Classify(req.Command))

	var (
		agent      string
		activeTask string
	)
	_ = t.svc.Query(func(st *domain.GovernanceState) error {
		agent = t.agentFor(st, c)
		if _, node := app.ActiveTask(st, c.sessionID); node != nil && node.Status == domain.TaskActive {
			activeTask = node.ID
		}
		return nil
	})

	if err := shell.Authorize(agent, req.Command); err != nil {
		var denial *shell.Denial
		if errors.As(err, &denial) {
			t.metrics.ObserveShell(category, metrics.ShellDenied, 0)
			t.logger.Info("shell command refused", zap.String("agent", agent), zap.String("rule", string(denial.Rule)), zap.String("command", req.Command))
			return outcome.Blocked(denial.Block())
		}
		return outcome.Errorf("", "%v", err)
	}

	pol := t.svc.Policy()
	dir := pol.WorkspaceRoot()
	if req.Cwd != "" {
		abs, err := pol.ValidatePath(req.Cwd)
		if err != nil {
			t.metrics.ObserveShell(category, metrics.ShellDenied, 0)
			return outcome.Blocked(&outcome.Block{
				What:       "cwd outside the workspace: " + req.Cwd,
				Why:        "governed commands run inside the workspace root " + pol.WorkspaceRoot(),
				UseInstead: "a directory inside the workspace, or omit cwd",
				Evidence:   err.Error(),
			})
		}
		dir = abs
	}

	res := t.executor.Run(ctx, shell.Command{Line: req.Command, Dir: dir, Timeout: req.Timeout})
	result := metrics.ShellOK
	switch {
	case res.Killed:
		result = metrics.ShellTimedOut
	case res.Err != "" || res.ExitCode != 0:
		result = metrics.ShellFailed
	}
	t.metrics.ObserveShell(category, result, res.Duration)
	t.logger.Debug("shell command finished",
		zap.String("agent", agent),
		zap.String("category", category),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("killed", res.Killed),
		zap.Duration("duration", res.Duration))

	text := res.Format()
	if activeTask != "" && !res.Killed && res.Err == "" {
		if cp := t.recordShellEvidence(c.sessionID, req.Command); cp != nil {
			text += fmt.Sprintf("\nCheckpoint %s recorded on task %s.", cp.ID, cp.TaskID)
		}
	}
	return t.withDegradedNotice(outcome.OK("%s", text))
}

func (t *toolset) recordShellEvidence(sessionID, command string) *domain.Checkpoint {
	var cp *domain.Checkpoint
	err := t.svc.Run(func(st *domain.GovernanceState) error {
		cp = app.RecordEvidence(st, app.ToolCall{SessionID: sessionID, Tool: ToolShell, Command: command}, t.svc.Now())
		return nil
	})
	if err != nil {
		t.logger.Warn("record shell checkpoint failed", zap.Error(err))
		return nil
	}
	if cp != nil {
		t.metrics.ObserveCheckpoint(ToolShell)
	}
	return cp
}
