package govern

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/metrics"
	"github.com/jaakkos/idumb/internal/policy"
	"github.com/jaakkos/idumb/internal/repository"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	server   *server.MCPServer
	svc      *app.GovernanceService
	registry *app.SessionRegistry
	metrics  *metrics.Metrics
	clock    *clock
	root     string
}

// newTestEnv wires the tools over a JSON-file store in a temp dir.
func newTestEnv(t *testing.T, mutate ...func(*policy.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := policy.DefaultConfig()
	cfg.WorkspaceRoot = root
	for _, m := range mutate {
		m(cfg)
	}
	repo, err := repository.NewStateRepository(policy.BackendJSON, t.TempDir())
	require.NoError(t, err)

	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	logger := zaptest.NewLogger(t)
	svc := app.NewGovernanceService(repo, policy.New(cfg), logger, app.WithClock(c.now))
	registry := app.NewSessionRegistry()
	m := metrics.New()

	s := server.NewMCPServer("test", "1.0.0",
		server.WithToolHandlerMiddleware(BannerMiddleware(svc, registry)),
		server.WithResourceCapabilities(false, true),
	)
	Register(s, svc, registry, logger, WithMetrics(m))
	return &testEnv{server: s, svc: svc, registry: registry, metrics: m, clock: c, root: root}
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	require.NoError(t, err)

	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	require.NoError(t, err)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	require.Nil(t, resp.Error, "rpc error")

	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return &result
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// ok calls a tool and requires a successful result.
func (e *testEnv) ok(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	res := callTool(t, e.server, name, args)
	text := resultText(t, res)
	require.False(t, res.IsError, "unexpected failure: %s", text)
	return text
}

// fail calls a tool and requires a failed result.
func (e *testEnv) fail(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	res := callTool(t, e.server, name, args)
	text := resultText(t, res)
	require.True(t, res.IsError, "expected failure, got: %s", text)
	return text
}

func (e *testEnv) state(t *testing.T, fn func(st *domain.GovernanceState)) {
	t.Helper()
	require.NoError(t, e.svc.Query(func(st *domain.GovernanceState) error {
		fn(st)
		return nil
	}))
}

// taskByName returns a copy of the named task in the active plan.
func (e *testEnv) taskByName(t *testing.T, name string) domain.TaskNode {
	t.Helper()
	var found *domain.TaskNode
	e.state(t, func(st *domain.GovernanceState) {
		plan := taskgraph.ActivePlan(st.Graph)
		require.NotNil(t, plan, "no active plan")
		for _, lane := range [][]*domain.TaskNode{plan.Tasks, plan.PlanAhead} {
			for _, n := range lane {
				if strings.EqualFold(n.Name, name) {
					cp := *n
					found = &cp
				}
			}
		}
	})
	require.NotNil(t, found, "task %q not found", name)
	return *found
}

// createAuthPlan creates the "Auth" development plan with two dependent tasks.
func (e *testEnv) createAuthPlan(t *testing.T) {
	t.Helper()
	e.ok(t, ToolPlan, map[string]any{"action": "create", "name": "Auth", "acceptance": []any{"users can log in"}, "category": "development"})
	e.ok(t, ToolTask, map[string]any{"action": "add", "name": "Build login", "expected_output": "form renders"})
	e.ok(t, ToolTask, map[string]any{"action": "add", "name": "Write tests", "expected_output": "tests pass", "depends_on": []any{"Build login"}})
}
