// Package anchor scores session anchors and packs them into budget-capped
// context blocks for the system prompt and for post-compaction recovery.
package anchor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jaakkos/idumb/internal/domain"
)

const (
	// DefaultStaleAfter demotes anchors untouched for this long.
	DefaultStaleAfter = 48 * time.Hour
	// MaxContentLength caps anchor content at creation.
	MaxContentLength = 2000
	// SystemPromptBudget is the default character budget for prompt injection.
	SystemPromptBudget = 1000
	// CompactionBudget is the default character budget after compaction.
	CompactionBudget = 2000
)

// LessonPrefix marks anchors created by Learn.
const LessonPrefix = "LESSON: "

var (
	ErrEmptyContent    = errors.New("anchor content is required")
	ErrContentTooLong  = fmt.Errorf("anchor content exceeds %d characters", MaxContentLength)
	ErrInvalidType     = errors.New("invalid anchor type")
	ErrInvalidPriority = errors.New("invalid anchor priority")
)

// tierWeight is indexed by AnchorPriority.Rank(). Each tier is ten times the next.
var tierWeight = [4]int{1, 10, 100, 1000}

// staleCriticalWeight keeps stale critical anchors above every fresh non-critical one.
const staleCriticalWeight = 500

// New validates input and returns an anchor ready to append.
func New(typ domain.AnchorType, priority domain.AnchorPriority, content string, now time.Time) (domain.Anchor, error) {
	if !typ.Valid() {
		return domain.Anchor{}, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if priority.Rank() < 0 {
		return domain.Anchor{}, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	if err := ValidateContent(content); err != nil {
		return domain.Anchor{}, err
	}
	return domain.Anchor{
		ID:         domain.NewID(domain.PrefixAnchor),
		Type:       typ,
		Priority:   priority,
		Content:    strings.TrimSpace(content),
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// ValidateContent enforces the non-empty and length rules.
func ValidateContent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// Learn records a lesson. An identical lesson is refreshed instead of duplicated.
// Returns the updated slice, the lesson, and whether an existing one was refreshed.
func Learn(anchors []domain.Anchor, content string, now time.Time) ([]domain.Anchor, domain.Anchor, bool, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, LessonPrefix) {
		content = LessonPrefix + content
	}
	if err := ValidateContent(strings.TrimPrefix(content, LessonPrefix)); err != nil {
		return anchors, domain.Anchor{}, false, err
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return anchors, domain.Anchor{}, false, ErrContentTooLong
	}
	for i := range anchors {
		if anchors[i].Content == content {
			anchors[i].ModifiedAt = now
			return anchors, anchors[i], true, nil
		}
	}
	a, err := New(domain.AnchorContext, domain.PriorityHigh, content, now)
	if err != nil {
		return anchors, domain.Anchor{}, false, err
	}
	return append(anchors, a), a, false, nil
}

// Scored is an anchor with its derived ranking data.
type Scored struct {
	domain.Anchor
	Score int
	Stale bool
}

// Score computes the ranking score. The declared priority is never changed.
func Score(a domain.Anchor, now time.Time, staleAfter time.Duration) Scored {
	rank := a.Priority.Rank()
	if rank < 0 {
		rank = 0
	}
	stale := now.Sub(a.ModifiedAt) > staleAfter
	score := tierWeight[rank]
	if stale {
		switch {
		case a.Priority == domain.PriorityCritical:
			score = staleCriticalWeight
		case rank == 0:
			score = 0
		default:
			score = tierWeight[rank-1]
		}
	}
	return Scored{Anchor: a, Score: score, Stale: stale}
}

// Rank scores and sorts anchors: score desc, then most recently modified, then id.
func Rank(anchors []domain.Anchor, now time.Time, staleAfter time.Duration) []Scored {
	out := make([]Scored, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, Score(a, now, staleAfter))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Select walks ranked anchors and keeps them while their rendered lines fit
// in budget. It stops at the first one that would overflow.
func Select(ranked []Scored, budget int) []Scored {
	var out []Scored
	used := 0
	for _, s := range ranked {
		cost := Cost(s)
		if used+cost > budget {
			break
		}
		used += cost
		out = append(out, s)
	}
	return out
}

// Cost is the rendered size of one anchor line including its newline.
func Cost(s Scored) int {
	return utf8.RuneCountInString(FormatLine(s)) + 1
}

// FormatLine renders one anchor.
func FormatLine(s Scored) string {
	line := fmt.Sprintf("- [%s/%s] %s", strings.ToUpper(string(s.Priority)), s.Type, s.Content)
	if s.Stale {
		line += " (stale)"
	}
	return line
}
