package anchor

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jaakkos/idumb/internal/domain"
)

// Block tags for the two injection points.
const (
	TagSystem     = "idumb-governance"
	TagCompaction = "idumb-compaction"
)

const (
	anchorsHeader = "ANCHORS:"
	noAnchors     = "No active anchors."
)

// Request describes one rendered block.
type Request struct {
	Tag        string
	Budget     int
	Summary    []string // rendered before any anchor content
	Anchors    []domain.Anchor
	Now        time.Time
	StaleAfter time.Duration
}

// Result is the rendered block plus what made it in.
type Result struct {
	Text     string
	Selected []Scored
	Dropped  int
}

// Render builds the block. Everything before the closing tag fits in Budget;
// the closing tag is the only overhead beyond it. The output is never empty.
func Render(req Request) Result {
	if req.StaleAfter <= 0 {
		req.StaleAfter = DefaultStaleAfter
	}
	var sb strings.Builder
	open := "<" + req.Tag + ">\n"
	sb.WriteString(open)
	used := utf8.RuneCountInString(open)

	// Reserve room for the fallback line so it always fits.
	reserve := utf8.RuneCountInString(noAnchors) + 1
	for _, line := range req.Summary {
		room := req.Budget - used - reserve
		if room <= 1 {
			break
		}
		line = clip(line, room-1)
		sb.WriteString(line)
		sb.WriteString("\n")
		used += utf8.RuneCountInString(line) + 1
	}

	ranked := Rank(req.Anchors, req.Now, req.StaleAfter)
	headerCost := utf8.RuneCountInString(anchorsHeader) + 1
	selected := Select(ranked, req.Budget-used-headerCost)
	if len(selected) == 0 {
		sb.WriteString(noAnchors)
		sb.WriteString("\n")
	} else {
		sb.WriteString(anchorsHeader)
		sb.WriteString("\n")
		for _, s := range selected {
			sb.WriteString(FormatLine(s))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("</" + req.Tag + ">")
	return Result{Text: sb.String(), Selected: selected, Dropped: len(ranked) - len(selected)}
}

// clip shortens s to at most max runes, marking the cut.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
