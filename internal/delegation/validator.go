// Package delegation decides whether one agent may hand work to another and
// tracks the resulting records through their lifecycle.
package delegation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jaakkos/idumb/internal/domain"
)

// MaxDepth bounds every delegation chain.
const MaxDepth = 3

// Agent roles known to the hierarchy.
const (
	AgentCoordinator  = "coordinator"
	AgentGovernor     = "governor"
	AgentPlanner      = "planner"
	AgentExecutor     = "executor"
	AgentInvestigator = "investigator"
	AgentBuilder      = "builder"
	AgentVerifier     = "verifier"
)

// hierarchy maps agent -> level. Lower is more senior.
var hierarchy = map[string]int{
	AgentCoordinator:  0,
	AgentGovernor:     1,
	AgentPlanner:      2,
	AgentExecutor:     2,
	AgentInvestigator: 2,
	AgentBuilder:      3,
	AgentVerifier:     3,
}

// routing lists the agents allowed to receive work per category.
// ad-hoc is absent on purpose: it routes to anyone.
var routing = map[domain.Category][]string{
	domain.CategoryDevelopment: {AgentExecutor, AgentBuilder, AgentVerifier, AgentPlanner},
	domain.CategoryResearch:    {AgentInvestigator, AgentPlanner},
	domain.CategoryGovernance:  {AgentGovernor, AgentVerifier},
	domain.CategoryMaintenance: {AgentExecutor, AgentBuilder},
	domain.CategorySpecKit:     {AgentPlanner, AgentInvestigator},
}

// Rule names the validation rule that rejected a delegation.
type Rule string

const (
	RuleSelf         Rule = "self-delegation"
	RuleUnknownAgent Rule = "unknown-agent"
	RuleUpward       Rule = "upward-delegation"
	RuleDepth        Rule = "max-depth"
	RuleRouting      Rule = "category-routing"
)

// Rejection explains which rule fired. Reason is shown to the agent verbatim.
type Rejection struct {
	Rule   Rule
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Level returns the hierarchy level of agent.
func Level(agent string) (int, bool) {
	lvl, ok := hierarchy[agent]
	return lvl, ok
}

// KnownAgents returns every agent, most senior first, then by name.
func KnownAgents() []string {
	agents := make([]string, 0, len(hierarchy))
	for a := range hierarchy {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		li, lj := hierarchy[agents[i]], hierarchy[agents[j]]
		if li != lj {
			return li < lj
		}
		return agents[i] < agents[j]
	})
	return agents
}

// RoutedAgents returns the agents allowed for category; nil means any agent.
func RoutedAgents(category domain.Category) []string {
	return routing[category]
}

// Validate applies the delegation rules in order and returns a *Rejection
// for the first one that fails. An empty category skips routing.
func Validate(from, to string, currentDepth int, category domain.Category) error {
	if from == to {
		return &Rejection{Rule: RuleSelf, Reason: fmt.Sprintf("%s cannot delegate to itself", from)}
	}
	fromLvl, ok := hierarchy[from]
	if !ok {
		return &Rejection{Rule: RuleUnknownAgent, Reason: fmt.Sprintf("unknown delegating agent %q (known: %s)", from, strings.Join(KnownAgents(), ", "))}
	}
	toLvl, ok := hierarchy[to]
	if !ok {
		return &Rejection{Rule: RuleUnknownAgent, Reason: fmt.Sprintf("unknown target agent %q (known: %s)", to, strings.Join(KnownAgents(), ", "))}
	}
	if toLvl < fromLvl {
		return &Rejection{Rule: RuleUpward, Reason: fmt.Sprintf("%s (level %d) cannot delegate upward to %s (level %d); delegation flows down or to peers", from, fromLvl, to, toLvl)}
	}
	if currentDepth >= MaxDepth {
		return &Rejection{Rule: RuleDepth, Reason: fmt.Sprintf("delegation depth %d reached the maximum of %d for this task", currentDepth, MaxDepth)}
	}
	if category != "" && category != domain.CategoryAdHoc {
		allowed, known := routing[category]
		if !known {
			return &Rejection{Rule: RuleRouting, Reason: fmt.Sprintf("unknown category %q", category)}
		}
		if !contains(allowed, to) {
			return &Rejection{Rule: RuleRouting, Reason: fmt.Sprintf("category %s routes to %s, not %s", category, strings.Join(allowed, ", "), to)}
		}
	}
	return nil
}

// Suggest picks the first agent that from may delegate to under category.
// Candidates come from the routing table, or the whole hierarchy for ad-hoc.
func Suggest(from string, category domain.Category, currentDepth int) (string, error) {
	candidates := routing[category]
	if len(candidates) == 0 {
		candidates = KnownAgents()
	}
	var last error
	for _, to := range candidates {
		if err := Validate(from, to, currentDepth, category); err != nil {
			last = err
			continue
		}
		return to, nil
	}
	if last == nil {
		last = &Rejection{Rule: RuleRouting, Reason: fmt.Sprintf("no agent available for category %s", category)}
	}
	return "", last
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
