package govern

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/idumb/internal/domain"
)

// Resource URIs.
const (
	ResourceGraph        = "idumb://graph"
	ResourceDelegations  = "idumb://delegations"
	ResourceInstructions = "idumb://instructions"
	ResourceReference    = "idumb://reference"
)

// registerResources adds read-only views of the governance state.
func registerResources(s *server.MCPServer, t *toolset) {
	jsonView := func(uri string, pick func(st *domain.GovernanceState) any) server.ResourceHandlerFunc {
		return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			t.logger.Debug("resource read", zap.String("uri", uri))
			var data []byte
			err := t.svc.Query(func(st *domain.GovernanceState) error {
				var err error
				data, err = json.MarshalIndent(pick(st), "", "  ")
				return err
			})
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
			}, nil
		}
	}
	markdown := func(uri string, text func() string) server.ResourceHandlerFunc {
		return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			t.logger.Debug("resource read", zap.String("uri", uri))
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/markdown", Text: text()},
			}, nil
		}
	}

	s.AddResource(
		mcp.NewResource(ResourceGraph, "Task graph",
			mcp.WithResourceDescription("Every work plan with its tasks, checkpoints and results."),
			mcp.WithMIMEType("application/json"),
		),
		jsonView(ResourceGraph, func(st *domain.GovernanceState) any { return st.Graph }),
	)
	s.AddResource(
		mcp.NewResource(ResourceDelegations, "Delegations",
			mcp.WithResourceDescription("Every delegation record, open and closed."),
			mcp.WithMIMEType("application/json"),
		),
		jsonView(ResourceDelegations, func(st *domain.GovernanceState) any { return st.Delegations }),
	)
	s.AddResource(
		mcp.NewResource(ResourceInstructions, "Governance instructions",
			mcp.WithResourceDescription("How to work under governance. Read this at session start."),
			mcp.WithMIMEType("text/markdown"),
		),
		markdown(ResourceInstructions, InstructionsText),
	)
	s.AddResource(
		mcp.NewResource(ResourceReference, "Governance reference",
			mcp.WithResourceDescription("Agent hierarchy, shell permissions per role and category routing."),
			mcp.WithMIMEType("text/markdown"),
		),
		markdown(ResourceReference, referenceText),
	)
}
