package govern

import (
	"fmt"
	"strings"

	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/shell"
)

// InstructionsText returns the static instruction string the MCP server sends
// during initialization.
func InstructionsText() string {
	return `You are an agent working under iDumb governance. Work is tracked as plans and tasks, every
task needs evidence to finish, and shell commands are checked against your role.

## Startup

1. govern_task action=check                 -- your active task, plan progress, pending delegations
2. govern_plan action=status                -- the active plan and its tasks
3. govern_delegate action=status            -- handoffs waiting for you

Pass agent='<your-role>' on your first call; the session remembers it.

## Doing work

    govern_plan  action=create name='...' acceptance=['...'] category=development
    govern_task  action=add name='...' expected_output='...' depends_on=['<task id or name>']
    govern_task  action=start                  -- picks the next planned task
    govern_shell command='go test ./...'       -- builds, tests and git writes become checkpoints
    govern_task  action=done evidence='what was produced and how it was verified'

A task that waits on dependencies cannot start; the block names what it waits on.

## Delegating

    govern_delegate action=assign task_id=... context='...' [to_agent=...]
    govern_delegate action=accept|complete|reject delegation_id=...
    govern_delegate action=recall delegation_id=...   -- delegator only

Delegation flows down the hierarchy or to peers, at most 3 levels per task, and is routed by category.

## Remembering

    idumb_anchor action=add type=decision priority=high content='...'
    idumb_anchor action=learn content='...'   -- lessons survive compaction

## Reading results

- "ERROR: ..." means the call was invalid; the FIX line says what to change.
- "GOVERNANCE BLOCK: ..." means the call was refused; read WHY and USE INSTEAD before retrying.
`
}

// referenceText renders the role and routing tables served as a resource.
func referenceText() string {
	var sb strings.Builder
	sb.WriteString("# iDumb governance reference\n\n## Hierarchy\n\n| Agent | Level | Shell categories |\n|---|---|---|\n")
	for _, a := range delegation.KnownAgents() {
		lvl, _ := delegation.Level(a)
		cats := shell.AllowedCategories(a)
		names := make([]string, len(cats))
		for i, c := range cats {
			names[i] = string(c)
		}
		fmt.Fprintf(&sb, "| %s | %d | %s |\n", a, lvl, strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, "\nMaximum delegation depth per task: %d\n\n## Routing\n\n| Category | Agents |\n|---|---|\n", delegation.MaxDepth)
	for _, c := range domain.Categories {
		agents := delegation.RoutedAgents(c)
		target := "any agent"
		if len(agents) > 0 {
			target = strings.Join(agents, ", ")
		}
		fmt.Fprintf(&sb, "| %s | %s |\n", c, target)
	}
	return sb.String()
}
