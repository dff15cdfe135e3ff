package jsonfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/idumb/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMissingDocumentsLoadEmpty(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)

	g, err := fs.LoadGraph()
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaVersion, g.Version)
	assert.Empty(t, g.WorkPlans)

	d, err := fs.LoadDelegations()
	require.NoError(t, err)
	assert.Empty(t, d.Delegations)

	ids, err := fs.SessionIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	ss, err := fs.LoadSession("nope")
	require.NoError(t, err)
	assert.Nil(t, ss)
}

func TestGraphRoundtripIsAtomicFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	require.NoError(t, err)

	g := domain.NewTaskGraph()
	g.ActiveWorkPlanID = "wp-1"
	g.WorkPlans = append(g.WorkPlans, &domain.WorkPlan{
		ID: "wp-1", Name: "Auth", Category: domain.CategoryDevelopment, Status: domain.PlanActive,
		CreatedAt: t0, ModifiedAt: t0, Tasks: []*domain.TaskNode{}, PlanAhead: []*domain.TaskNode{},
	})
	require.NoError(t, fs.SaveGraph(g))

	data, err := os.ReadFile(filepath.Join(dir, GraphFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"activeWorkPlanId": "wp-1"`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files must not survive a write")
	}

	got, err := fs.LoadGraph()
	require.NoError(t, err)
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
}

func TestCorruptDocumentIsAnError(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DelegationsFile), []byte("{not json"), 0o644))

	_, err = fs.LoadDelegations()
	assert.ErrorContains(t, err, DelegationsFile)
}

func TestSessionIDsAreEscaped(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)

	odd := "host/session:42"
	anchors := []domain.Anchor{{ID: "an-1", Type: domain.AnchorContext, Priority: domain.PriorityHigh, Content: "x", CreatedAt: t0, ModifiedAt: t0}}
	require.NoError(t, fs.SaveAnchors(odd, anchors))
	require.NoError(t, fs.SaveSession("plain", &domain.SessionState{CapturedAgent: "builder"}))
	require.NoError(t, fs.SaveSession(odd, &domain.SessionState{}))

	ids, err := fs.SessionIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{odd, "plain"}, ids)

	got, err := fs.LoadAnchors(odd)
	require.NoError(t, err)
	assert.Equal(t, anchors[0].Content, got[0].Content)

	ss, err := fs.LoadSession("plain")
	require.NoError(t, err)
	assert.Equal(t, "builder", ss.CapturedAgent)

	assert.ErrorIs(t, fs.SaveSession("", nil), ErrEmptySessionID)
}
