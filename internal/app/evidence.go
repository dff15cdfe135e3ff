package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/shell"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

// ToolCall describes one completed tool invocation for evidence recording.
type ToolCall struct {
	SessionID string
	Tool      string
	Command   string // shell tools only
	Files     []string
	Summary   string // optional; derived from the call when empty
}

// RecordEvidence appends a checkpoint to the session's active task when the
// call is checkpoint-worthy, and adds touched files to the task's artifacts
// either way. Returns the checkpoint, or nil when none was recorded.
func RecordEvidence(st *domain.GovernanceState, call ToolCall, now time.Time) *domain.Checkpoint {
	_, node := ActiveTask(st, call.SessionID)
	if node == nil || node.Status != domain.TaskActive {
		return nil
	}
	if !shell.IsCheckpointWorthy(call.Tool, call.Command) {
		if len(call.Files) > 0 {
			node.Artifacts = appendUnique(node.Artifacts, call.Files...)
			node.ModifiedAt = now
		}
		return nil
	}
	summary := call.Summary
	if summary == "" {
		summary = summarize(call)
	}
	cp, err := taskgraph.RecordCheckpoint(node, call.Tool, summary, call.Files, now)
	if err != nil {
		return nil
	}
	return cp
}

func summarize(call ToolCall) string {
	switch {
	case call.Command != "":
		return fmt.Sprintf("%s: %s", call.Tool, strings.TrimSpace(call.Command))
	case len(call.Files) > 0:
		return fmt.Sprintf("%s: %s", call.Tool, strings.Join(call.Files, ", "))
	default:
		return call.Tool
	}
}

func appendUnique(list []string, vals ...string) []string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		found := false
		for _, x := range list {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
