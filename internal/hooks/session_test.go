package hooks

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/tools/govern"
)

const hostSession = "ses_host"

// stdioSession stands in for mcp-go's stdio session, whose id is the same
// for every conversation the host runs.
type stdioSession struct{}

func (stdioSession) Initialize()       {}
func (stdioSession) Initialized() bool { return true }
func (stdioSession) SessionID() string { return "stdio" }
func (stdioSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return make(chan mcp.JSONRPCNotification, 1)
}

// hostEnv drives governance the way a host does: every tool call passes
// through the before hook, the MCP server and the after hook.
type hostEnv struct {
	*fixture
	server *server.MCPServer
	ctx    context.Context
}

func newHostEnv(t *testing.T) *hostEnv {
	t.Helper()
	f := newFixture(t)
	registry := app.NewSessionRegistry()
	s := server.NewMCPServer("test", "1.0.0",
		server.WithToolHandlerMiddleware(govern.BannerMiddleware(f.svc, registry)),
	)
	govern.Register(s, f.svc, registry, zaptest.NewLogger(t), govern.WithMetrics(f.metrics))
	return &hostEnv{fixture: f, server: s, ctx: s.WithContext(context.Background(), stdioSession{})}
}

// tool runs one governance tool call for the host session and returns its text.
func (e *hostEnv) tool(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	args, block := e.h.ToolBefore(hostSession, name, args)
	require.Nil(t, block)

	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)
	raw, err := json.Marshal(e.server.HandleMessage(e.ctx, req))
	require.NoError(t, err)

	var resp struct {
		Result mcp.CallToolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	var text string
	for _, c := range resp.Result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text = tc.Text
			break
		}
	}
	require.False(t, resp.Result.IsError, text)
	return e.h.ToolAfter(hostSession, name, args, text)
}

func (e *hostEnv) activeTask(t *testing.T) domain.TaskNode {
	t.Helper()
	var out domain.TaskNode
	require.NoError(t, e.svc.Query(func(st *domain.GovernanceState) error {
		_, node := app.ActiveTask(st, hostSession)
		require.NotNil(t, node, "host session has no active task")
		out = *node
		return nil
	}))
	return out
}

func TestToolsAndHooksShareHostSession(t *testing.T) {
	e := newHostEnv(t)
	e.h.ChatParams(hostSession, "executor")

	e.tool(t, govern.ToolAnchor, map[string]any{"action": "add", "type": "decision", "priority": "critical", "content": "USE POSTGRES"})
	e.tool(t, govern.ToolPlan, map[string]any{"action": "create", "name": "Auth", "acceptance": []any{"users can log in"}, "category": "development"})
	e.tool(t, govern.ToolTask, map[string]any{"action": "add", "name": "Build login", "expected_output": "form renders"})

	_, block := e.h.ToolBefore(hostSession, "write", map[string]any{"file_path": "login.go"})
	require.NotNil(t, block, "strict plan refuses writes before a task starts")

	started := e.tool(t, govern.ToolTask, map[string]any{"action": "start"})
	assert.Contains(t, started, "assigned to executor")

	system := e.h.SystemTransform(hostSession, nil)
	require.Len(t, system, 1)
	assert.Contains(t, system[0], "USE POSTGRES")
	assert.Contains(t, system[0], "Build login")

	args := map[string]any{"file_path": "login.go"}
	_, block = e.h.ToolBefore(hostSession, "write", args)
	assert.Nil(t, block)
	e.h.ToolAfter(hostSession, "write", args, "wrote login.go")
	assert.Len(t, e.activeTask(t).Checkpoints, 1)

	require.NoError(t, e.svc.Query(func(st *domain.GovernanceState) error {
		assert.Nil(t, st.PeekSession("stdio"))
		assert.Empty(t, st.Anchors["stdio"])
		return nil
	}))
}

func TestToolBeforeKeepsExplicitSession(t *testing.T) {
	f := newFixture(t)
	out, block := f.h.ToolBefore(hostSession, govern.ToolTask, map[string]any{"action": "check", govern.SessionArg: "other"})
	require.Nil(t, block)
	assert.Equal(t, "other", out[govern.SessionArg])
}

func TestGovernedShellRecordsOneCheckpoint(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	e := newHostEnv(t)
	e.h.ChatParams(hostSession, "executor")
	e.tool(t, govern.ToolPlan, map[string]any{"action": "create", "name": "Auth", "acceptance": []any{"users can log in"}, "category": "development"})
	e.tool(t, govern.ToolTask, map[string]any{"action": "add", "name": "Build login", "expected_output": "form renders"})
	e.tool(t, govern.ToolTask, map[string]any{"action": "start"})

	out := e.tool(t, govern.ToolShell, map[string]any{"action": "run", "command": "make --version"})
	assert.Contains(t, out, "Checkpoint")

	node := e.activeTask(t)
	require.Len(t, node.Checkpoints, 1)
	assert.Equal(t, govern.ToolShell, node.Checkpoints[0].Tool)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Checkpoints.WithLabelValues(govern.ToolShell)))
}
