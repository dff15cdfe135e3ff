package anchor

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/idumb/internal/domain"
)

var now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func mk(id string, p domain.AnchorPriority, age time.Duration, content string) domain.Anchor {
	return domain.Anchor{
		ID: id, Type: domain.AnchorDecision, Priority: p, Content: content,
		CreatedAt: now.Add(-age), ModifiedAt: now.Add(-age),
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New("note", domain.PriorityHigh, "x", now)
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = New(domain.AnchorDecision, "urgent", "x", now)
	assert.ErrorIs(t, err, ErrInvalidPriority)
	_, err = New(domain.AnchorDecision, domain.PriorityHigh, "   ", now)
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = New(domain.AnchorDecision, domain.PriorityHigh, strings.Repeat("é", MaxContentLength+1), now)
	assert.ErrorIs(t, err, ErrContentTooLong)

	a, err := New(domain.AnchorDecision, domain.PriorityHigh, strings.Repeat("é", MaxContentLength), now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.ID, "an-"))
	assert.Equal(t, now, a.ModifiedAt)
}

func TestScoreTiersAndStaleness(t *testing.T) {
	fresh := time.Hour
	stale := 49 * time.Hour
	tests := []struct {
		name  string
		a     domain.Anchor
		score int
		stale bool
	}{
		{"critical", mk("1", domain.PriorityCritical, fresh, "c"), 1000, false},
		{"high", mk("2", domain.PriorityHigh, fresh, "h"), 100, false},
		{"medium", mk("3", domain.PriorityMedium, fresh, "m"), 10, false},
		{"low", mk("4", domain.PriorityLow, fresh, "l"), 1, false},
		{"stale critical stays above high", mk("5", domain.PriorityCritical, stale, "c"), 500, true},
		{"stale high demoted to medium", mk("6", domain.PriorityHigh, stale, "h"), 10, true},
		{"stale medium demoted to low", mk("7", domain.PriorityMedium, stale, "m"), 1, true},
		{"stale low sinks", mk("8", domain.PriorityLow, stale, "l"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Score(tt.a, now, DefaultStaleAfter)
			assert.Equal(t, tt.score, s.Score)
			assert.Equal(t, tt.stale, s.Stale)
			assert.Equal(t, tt.a.Priority, s.Priority, "declared priority is untouched")
		})
	}
}

func TestRankDeterministicTieBreak(t *testing.T) {
	anchors := []domain.Anchor{
		mk("b", domain.PriorityHigh, 2*time.Hour, "older"),
		mk("c", domain.PriorityHigh, time.Hour, "newer"),
		mk("a", domain.PriorityHigh, 2*time.Hour, "older same time"),
		mk("z", domain.PriorityCritical, 60*time.Hour, "stale critical"),
		mk("y", domain.PriorityCritical, time.Hour, "fresh critical"),
	}
	ranked := Rank(anchors, now, DefaultStaleAfter)
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"y", "z", "c", "a", "b"}, ids)
}

func TestSelectStopsAtFirstOverflow(t *testing.T) {
	ranked := Rank([]domain.Anchor{
		mk("1", domain.PriorityCritical, 0, strings.Repeat("a", 50)),
		mk("2", domain.PriorityHigh, 0, strings.Repeat("b", 500)),
		mk("3", domain.PriorityLow, 0, "tiny"),
	}, now, DefaultStaleAfter)

	budget := Cost(ranked[0]) + Cost(ranked[2]) + 10
	got := Select(ranked, budget)
	require.Len(t, got, 1, "no backtracking past the overflowing anchor")
	assert.Equal(t, "1", got[0].ID)
}

func TestRenderNeverEmpty(t *testing.T) {
	res := Render(Request{Tag: TagSystem, Budget: SystemPromptBudget, Now: now})
	assert.Contains(t, res.Text, "<idumb-governance>")
	assert.Contains(t, res.Text, "No active anchors.")
	assert.True(t, strings.HasSuffix(res.Text, "</idumb-governance>"))
	assert.Empty(t, res.Selected)
}

func TestRenderSummaryFirst(t *testing.T) {
	res := Render(Request{
		Tag:     TagSystem,
		Budget:  SystemPromptBudget,
		Summary: []string{"ACTIVE TASK: Build login", "PLAN: Auth"},
		Anchors: []domain.Anchor{mk("1", domain.PriorityCritical, 0, "use bcrypt")},
		Now:     now,
	})
	task := strings.Index(res.Text, "ACTIVE TASK")
	anchor := strings.Index(res.Text, "use bcrypt")
	require.GreaterOrEqual(t, task, 0)
	require.GreaterOrEqual(t, anchor, 0)
	assert.Less(t, task, anchor)
	assert.Contains(t, res.Text, "- [CRITICAL/decision] use bcrypt")
}

func TestRenderClipsOversizedSummary(t *testing.T) {
	res := Render(Request{
		Tag:     TagSystem,
		Budget:  200,
		Summary: []string{strings.Repeat("s", 1000)},
		Anchors: []domain.Anchor{mk("1", domain.PriorityCritical, 0, "kept out")},
		Now:     now,
	})
	closing := utf8.RuneCountInString("</" + TagSystem + ">")
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 200+closing)
	assert.Contains(t, res.Text, "...")
	assert.Contains(t, res.Text, "No active anchors.")
}

func TestRenderBudgetProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	priorities := []domain.AnchorPriority{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow}
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(40)
		anchors := make([]domain.Anchor, n)
		for i := range anchors {
			anchors[i] = mk(
				fmt.Sprintf("an-%03d", i),
				priorities[rng.Intn(len(priorities))],
				time.Duration(rng.Intn(100))*time.Hour,
				strings.Repeat("x", 1+rng.Intn(400)),
			)
		}
		budget := 100 + rng.Intn(3000)
		tag := TagSystem
		if iter%2 == 1 {
			tag = TagCompaction
		}
		res := Render(Request{Tag: tag, Budget: budget, Summary: []string{"No active task.", "No active plan."}, Anchors: anchors, Now: now})
		closing := utf8.RuneCountInString("</" + tag + ">")
		require.LessOrEqual(t, utf8.RuneCountInString(res.Text), budget+closing, "iter %d budget %d", iter, budget)
		require.NotEmpty(t, res.Text)
		require.Equal(t, n, len(res.Selected)+res.Dropped)
	}
}

func TestTwentyAnchorScenario(t *testing.T) {
	priorities := []domain.AnchorPriority{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow}
	anchors := make([]domain.Anchor, 20)
	for i := range anchors {
		head := fmt.Sprintf("anchor-%02d ", i)
		anchors[i] = mk(fmt.Sprintf("an-%02d", i), priorities[i%4], time.Duration(i)*time.Minute, head+strings.Repeat("y", 210-len(head)))
	}
	ranked := Rank(anchors, now, DefaultStaleAfter)
	lowest := ranked[len(ranked)-1]

	res := Render(Request{Tag: TagCompaction, Budget: 2000, Anchors: anchors, Now: now})
	assert.LessOrEqual(t, len(res.Text), 2500)
	assert.NotContains(t, res.Text, lowest.Content)
	assert.NotEmpty(t, res.Selected)
	assert.Equal(t, ranked[0].ID, res.Selected[0].ID)
}

func TestLearn(t *testing.T) {
	var anchors []domain.Anchor
	anchors, lesson, refreshed, err := Learn(anchors, "run go vet before commit", now)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, "LESSON: run go vet before commit", lesson.Content)
	assert.Equal(t, domain.PriorityHigh, lesson.Priority)
	assert.Equal(t, domain.AnchorContext, lesson.Type)

	later := now.Add(72 * time.Hour)
	anchors, again, refreshed, err := Learn(anchors, "LESSON: run go vet before commit", later)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, lesson.ID, again.ID)
	require.Len(t, anchors, 1)
	assert.Equal(t, later, anchors[0].ModifiedAt)

	_, _, _, err = Learn(anchors, "  ", now)
	assert.ErrorIs(t, err, ErrEmptyContent)
}
