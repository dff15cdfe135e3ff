package delegation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/idumb/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ruleOf(t *testing.T, err error) Rule {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %v", err)
	assert.NotEmpty(t, rej.Reason)
	return rej.Rule
}

func TestValidate_RulesInOrder(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		depth    int
		cat      domain.Category
		rule     Rule
	}{
		{"self wins over unknown", "ghost", "ghost", 0, "", RuleSelf},
		{"unknown from", "ghost", AgentExecutor, 0, "", RuleUnknownAgent},
		{"unknown to", AgentCoordinator, "ghost", 0, "", RuleUnknownAgent},
		{"upward", AgentBuilder, AgentCoordinator, 0, "", RuleUpward},
		{"depth before routing", AgentCoordinator, AgentExecutor, MaxDepth, domain.CategoryResearch, RuleDepth},
		{"routing", AgentCoordinator, AgentExecutor, 0, domain.CategoryResearch, RuleRouting},
		{"unknown category", AgentCoordinator, AgentExecutor, 0, "misc", RuleRouting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.from, tt.to, tt.depth, tt.cat)
			require.Error(t, err)
			assert.Equal(t, tt.rule, ruleOf(t, err))
		})
	}
}

func TestValidate_Allowed(t *testing.T) {
	assert.NoError(t, Validate(AgentCoordinator, AgentInvestigator, 0, domain.CategoryResearch))
	assert.NoError(t, Validate(AgentExecutor, AgentPlanner, 2, ""), "peers may hand off")
	assert.NoError(t, Validate(AgentCoordinator, AgentBuilder, 0, domain.CategoryAdHoc), "ad-hoc is permissive")
	assert.NoError(t, Validate(AgentGovernor, AgentVerifier, 0, domain.CategoryGovernance))
}

func TestValidate_StrictDownwardDAG(t *testing.T) {
	agents := KnownAgents()
	for _, a := range agents {
		for _, b := range agents {
			la, _ := Level(a)
			lb, _ := Level(b)
			err := Validate(a, b, 0, "")
			switch {
			case a == b:
				assert.Equal(t, RuleSelf, ruleOf(t, err), "%s->%s", a, b)
			case lb < la:
				assert.Equal(t, RuleUpward, ruleOf(t, err), "%s->%s", a, b)
			default:
				assert.NoError(t, err, "%s->%s", a, b)
			}
			for depth := MaxDepth; depth < MaxDepth+3; depth++ {
				assert.Error(t, Validate(a, b, depth, ""), "%s->%s at depth %d", a, b, depth)
			}
		}
	}
}

func TestKnownAgentsOrdering(t *testing.T) {
	agents := KnownAgents()
	require.NotEmpty(t, agents)
	assert.Equal(t, AgentCoordinator, agents[0])
	prev := -1
	for _, a := range agents {
		lvl, ok := Level(a)
		require.True(t, ok)
		assert.GreaterOrEqual(t, lvl, prev)
		prev = lvl
	}
}

func TestSuggest(t *testing.T) {
	to, err := Suggest(AgentCoordinator, domain.CategoryResearch, 0)
	require.NoError(t, err)
	assert.Equal(t, AgentInvestigator, to)

	to, err = Suggest(AgentCoordinator, domain.CategoryAdHoc, 0)
	require.NoError(t, err)
	assert.Equal(t, AgentGovernor, to)

	// A builder may not hand governance work to the governor (upward); verifier is a peer.
	to, err = Suggest(AgentBuilder, domain.CategoryGovernance, 0)
	require.NoError(t, err)
	assert.Equal(t, AgentVerifier, to)

	_, err = Suggest(AgentCoordinator, domain.CategoryResearch, MaxDepth)
	assert.Equal(t, RuleDepth, ruleOf(t, err))
}

func TestCreate(t *testing.T) {
	store := domain.NewDelegationStore()
	rec := Create(store, Request{
		From: AgentCoordinator, To: AgentInvestigator, TaskID: "tn-1",
		Context: "  look at auth libs ", Category: domain.CategoryResearch,
	}, now, 0)

	assert.Equal(t, domain.DelegationPending, rec.Status)
	assert.Equal(t, MaxDepth, rec.MaxDepth)
	assert.Equal(t, now.Add(DefaultTTL), rec.ExpiresAt)
	assert.Equal(t, "look at auth libs", rec.Context)
	assert.Same(t, rec, Find(store, rec.ID))
	assert.Nil(t, Find(store, "dl-missing"))

	second := Create(store, Request{From: AgentInvestigator, To: AgentPlanner, TaskID: "tn-1", CurrentDepth: Depth(store, "tn-1")}, now, time.Minute)
	assert.Equal(t, MaxDepth-1, second.MaxDepth, "depth budget decreases along the chain")
	assert.Equal(t, now.Add(time.Minute), second.ExpiresAt)
}

func TestLifecycle(t *testing.T) {
	store := domain.NewDelegationStore()
	rec := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-1"}, now, 0)

	require.NoError(t, Accept(rec))
	assert.ErrorIs(t, Accept(rec), ErrNotOpen)
	require.NoError(t, Complete(rec, domain.DelegationResult{Evidence: "done", TestsRun: []string{"unit"}}, now))
	assert.Equal(t, domain.DelegationCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.ErrorIs(t, Reject(rec, "late", now), ErrTerminal)
	assert.ErrorIs(t, Complete(rec, domain.DelegationResult{}, now), ErrTerminal)

	other := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-2"}, now, 0)
	require.NoError(t, Reject(other, " recalled ", now))
	assert.Equal(t, "recalled", other.RejectReason)
	assert.Equal(t, domain.DelegationRejected, other.Status)
}

func TestExpireStaleIsIdempotent(t *testing.T) {
	store := domain.NewDelegationStore()
	old := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-1"}, now, 0)
	accepted := Create(store, Request{From: AgentCoordinator, To: AgentBuilder, TaskID: "tn-2"}, now, 0)
	require.NoError(t, Accept(accepted))
	fresh := Create(store, Request{From: AgentCoordinator, To: AgentVerifier, TaskID: "tn-3"}, now.Add(20*time.Minute), 0)

	later := now.Add(31 * time.Minute)
	assert.Equal(t, 1, ExpireStale(store, later))
	assert.Equal(t, domain.DelegationExpired, old.Status)
	require.NotNil(t, old.CompletedAt)
	assert.Equal(t, later, *old.CompletedAt)
	assert.Equal(t, domain.DelegationAccepted, accepted.Status, "only pending records expire")
	assert.Equal(t, domain.DelegationPending, fresh.Status)

	snapshot := make([]domain.DelegationStatus, 0, len(store.Delegations))
	for _, d := range store.Delegations {
		snapshot = append(snapshot, d.Status)
	}
	assert.Equal(t, 0, ExpireStale(store, later))
	for i, d := range store.Delegations {
		assert.Equal(t, snapshot[i], d.Status)
	}
	assert.Equal(t, later, *old.CompletedAt, "second sweep does not restamp")
}

func TestExpiryExactlyAtDeadlineIsNotExpired(t *testing.T) {
	store := domain.NewDelegationStore()
	rec := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-1"}, now, 0)
	assert.Equal(t, 0, ExpireStale(store, rec.ExpiresAt))
	assert.Equal(t, 1, ExpireStale(store, rec.ExpiresAt.Add(time.Nanosecond)))
}

func TestDepthCountsCompletedButNotRejectedOrExpired(t *testing.T) {
	store := domain.NewDelegationStore()
	mk := func(status domain.DelegationStatus) {
		rec := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-1"}, now, 0)
		rec.Status = status
	}
	mk(domain.DelegationPending)
	mk(domain.DelegationAccepted)
	mk(domain.DelegationCompleted)
	mk(domain.DelegationRejected)
	mk(domain.DelegationExpired)
	Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-other"}, now, 0)

	assert.Equal(t, 3, Depth(store, "tn-1"))
	assert.Len(t, ForTask(store, "tn-1"), 5)
	assert.Error(t, Validate(AgentCoordinator, AgentExecutor, Depth(store, "tn-1"), ""))
}

func TestOpenFor(t *testing.T) {
	store := domain.NewDelegationStore()
	a := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-1"}, now, 0)
	b := Create(store, Request{From: AgentCoordinator, To: AgentExecutor, TaskID: "tn-2"}, now, 0)
	Create(store, Request{From: AgentCoordinator, To: AgentBuilder, TaskID: "tn-3"}, now, 0)
	require.NoError(t, Reject(b, "", now))

	open := OpenFor(store, AgentExecutor)
	require.Len(t, open, 1)
	assert.Equal(t, a.ID, open[0].ID)
	assert.Len(t, Open(store), 2)
}

func TestFormat(t *testing.T) {
	store := domain.NewDelegationStore()
	rec := Create(store, Request{From: AgentCoordinator, To: AgentInvestigator, TaskID: "tn-1", Context: "ctx"}, now, 0)
	out := Format(rec, now.Add(10*time.Minute))
	assert.Contains(t, out, "coordinator -> investigator")
	assert.Contains(t, out, "[pending]")
	assert.Contains(t, out, "expires in 20m0s")
	assert.Contains(t, out, "context: ctx")
}
