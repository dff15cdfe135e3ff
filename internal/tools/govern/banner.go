package govern

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
)

// suppressBanner lists tool:action pairs whose results already show what the
// banner would say.
var suppressBanner = map[string]struct{}{
	ToolTask + ":check":      {},
	ToolPlan + ":status":     {},
	ToolDelegate + ":status": {},
}

// BannerMiddleware returns a mcp-go ToolHandlerMiddleware that appends a
// governance banner to successful tool results when the session's active
// task is stale or delegations are waiting for the session's agent.
// It also records session activity in the registry.
func BannerMiddleware(svc *app.GovernanceService, registry *app.SessionRegistry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sessionID := sessionFor(ctx, req.GetArguments())
			registry.TouchSession(sessionID)

			result, err := next(ctx, req)
			if err != nil || result == nil || result.IsError {
				return result, err
			}
			action, _ := req.GetArguments()["action"].(string)
			if _, ok := suppressBanner[req.Params.Name+":"+strings.ToLower(action)]; ok {
				return result, nil
			}
			if banner := buildBanner(svc, sessionID, registry.GetAgent(sessionID)); banner != "" {
				appendBannerToResult(result, banner)
			}
			return result, nil
		}
	}
}

// buildBanner returns "" when there is nothing to report.
func buildBanner(svc *app.GovernanceService, sessionID, agent string) string {
	var parts []string
	_ = svc.Query(func(st *domain.GovernanceState) error {
		if ss := st.PeekSession(sessionID); ss != nil && ss.CapturedAgent != "" {
			agent = ss.CapturedAgent
		}
		if reminder := app.StaleReminder(st, sessionID, svc.Policy(), svc.Now()); reminder != "" {
			parts = append(parts, reminder)
		}
		if agent == "" {
			return nil
		}
		var pending, accepted int
		for _, d := range delegation.OpenFor(st.Delegations, agent) {
			if d.Status == domain.DelegationPending {
				pending++
			} else {
				accepted++
			}
		}
		if pending > 0 {
			parts = append(parts, fmt.Sprintf("%s has %d pending delegation(s); accept or reject them with govern_delegate.", agent, pending))
		}
		if accepted > 0 {
			parts = append(parts, fmt.Sprintf("%s has %d accepted delegation(s) still open.", agent, accepted))
		}
		return nil
	})
	if len(parts) == 0 {
		return ""
	}
	return "\n\n---\n" + strings.Join(parts, "\n")
}

// appendBannerToResult appends text to the last text content block, or adds a new one.
func appendBannerToResult(result *mcp.CallToolResult, banner string) {
	for i := len(result.Content) - 1; i >= 0; i-- {
		if tc, ok := result.Content[i].(mcp.TextContent); ok {
			result.Content[i] = mcp.TextContent{
				Annotated: tc.Annotated,
				Type:      "text",
				Text:      tc.Text + banner,
			}
			return
		}
	}
	result.Content = append(result.Content, mcp.TextContent{
		Type: "text",
		Text: banner,
	})
}
