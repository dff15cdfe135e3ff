package govern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/idumb/internal/anchor"
	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/outcome"
)

var (
	anchorTypes      = []string{"decision", "context", "checkpoint", "error", "attention"}
	anchorPriorities = []string{"critical", "high", "medium", "low"}
)

// registerAnchor registers the idumb_anchor tool.
func registerAnchor(s *server.MCPServer, t *toolset) {
	s.AddTool(
		mcp.NewTool(ToolAnchor, withAgentArg(
			mcp.WithDescription("Session anchors: short prioritized facts that are re-injected into the system prompt and survive context compaction. Higher priority and fresher anchors win when space is tight."),
			mcp.WithString("action", mcp.Required(), mcp.Description(describeActions(anchorActions)), mcp.Enum(anchorActions...)),
			mcp.WithString("type", mcp.Description("Anchor type (add)"), mcp.Enum(anchorTypes...)),
			mcp.WithString("priority", mcp.Description("Anchor priority (add). Defaults to medium."), mcp.Enum(anchorPriorities...)),
			mcp.WithString("content", mcp.Description(fmt.Sprintf("The fact or lesson (add, learn); at most %d characters", anchor.MaxContentLength))),
		)...),
		t.handle(ToolAnchor, t.anchorHandler),
	)
}

func (t *toolset) anchorHandler(_ context.Context, c call) outcome.Outcome {
	req, err := parseAnchorRequest(c.args)
	if err != nil {
		return argFailure(err)
	}
	switch r := req.(type) {
	case anchorAdd:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return addAnchor(st, c, r, now) })
	case anchorLearn:
		return t.mutate(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return learnAnchor(st, c, r, now) })
	case anchorList:
		return t.query(func(st *domain.GovernanceState, now time.Time) outcome.Outcome { return t.listAnchors(st, c, now) })
	}
	return outcome.Errorf("", "unhandled idumb_anchor action %q", req.anchorAction())
}

func addAnchor(st *domain.GovernanceState, c call, r anchorAdd, now time.Time) outcome.Outcome {
	a, err := anchor.New(r.Type, r.Priority, r.Content, now)
	if err != nil {
		return anchorFailure(err)
	}
	st.Anchors[c.sessionID] = append(st.Anchors[c.sessionID], a)
	return outcome.OK("Anchored %s [%s/%s]: %s", a.ID, a.Priority, a.Type, app.Truncate(a.Content, 80))
}

func learnAnchor(st *domain.GovernanceState, c call, r anchorLearn, now time.Time) outcome.Outcome {
	list, a, refreshed, err := anchor.Learn(st.Anchors[c.sessionID], r.Content, now)
	if err != nil {
		return anchorFailure(err)
	}
	st.Anchors[c.sessionID] = list
	if refreshed {
		return outcome.OK("Lesson %s already known; refreshed.", a.ID)
	}
	return outcome.OK("Learned %s: %s", a.ID, app.Truncate(a.Content, 80))
}

func (t *toolset) listAnchors(st *domain.GovernanceState, c call, now time.Time) outcome.Outcome {
	anchors := st.Anchors[c.sessionID]
	if len(anchors) == 0 {
		return outcome.OK("No anchors in this session. Add one with idumb_anchor add.")
	}
	pol := t.svc.Policy()
	fits := make(map[string]bool)
	for _, s := range app.SystemPromptBlock(st, c.sessionID, pol, now).Selected {
		fits[s.ID] = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Anchors (%d, %d fit the prompt budget of %d):", len(anchors), len(fits), pol.SystemPromptBudget())
	for _, s := range anchor.Rank(anchors, now, pol.AnchorStaleAfter()) {
		mark := " "
		if fits[s.ID] {
			mark = "+"
		}
		fmt.Fprintf(&sb, "\n%s %s score=%d %s", mark, s.ID, s.Score, anchor.FormatLine(s))
	}
	return outcome.OK("%s", sb.String())
}

func anchorFailure(err error) outcome.Outcome {
	switch {
	case errors.Is(err, anchor.ErrInvalidType):
		return outcome.Errorf("type is one of: "+strings.Join(anchorTypes, ", "), "%v", err)
	case errors.Is(err, anchor.ErrInvalidPriority):
		return outcome.Errorf("priority is one of: "+strings.Join(anchorPriorities, ", "), "%v", err)
	case errors.Is(err, anchor.ErrContentTooLong):
		return outcome.Errorf("shorten the content or split it into several anchors", "%v", err)
	}
	return outcome.Errorf("", "%v", err)
}
