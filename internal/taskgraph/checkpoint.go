package taskgraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

// maxCheckpointSummary bounds the auto-generated summary.
const maxCheckpointSummary = 200

// RecordCheckpoint appends an immutable checkpoint to an active node and adds
// the touched files to its artifacts.
func RecordCheckpoint(node *domain.TaskNode, tool, summary string, files []string, now time.Time) (*domain.Checkpoint, error) {
	if node.Status != domain.TaskActive {
		return nil, fmt.Errorf("%w: checkpoints require an active task, %s is %s", ErrInvalidTransition, node.ID, node.Status)
	}
	summary = strings.TrimSpace(summary)
	if r := []rune(summary); len(r) > maxCheckpointSummary {
		summary = string(r[:maxCheckpointSummary]) + "..."
	}
	cp := domain.Checkpoint{
		ID:        domain.NewID(domain.PrefixCheckpoint),
		TaskID:    node.ID,
		Tool:      tool,
		Timestamp: now,
		Summary:   summary,
		Files:     dedupe(files),
	}
	node.Checkpoints = append(node.Checkpoints, cp)
	node.Artifacts = dedupe(append(node.Artifacts, cp.Files...))
	node.ModifiedAt = now
	return &node.Checkpoints[len(node.Checkpoints)-1], nil
}

// LatestCheckpoints returns up to n most recent checkpoints, newest last.
func LatestCheckpoints(node *domain.TaskNode, n int) []domain.Checkpoint {
	if n <= 0 || len(node.Checkpoints) == 0 {
		return nil
	}
	if len(node.Checkpoints) <= n {
		return node.Checkpoints
	}
	return node.Checkpoints[len(node.Checkpoints)-n:]
}
