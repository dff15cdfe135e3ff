package taskgraph

import (
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

// DefaultStaleAfter is how long an active task may go without a checkpoint.
const DefaultStaleAfter = 30 * time.Minute

// IsStale reports whether an active node has had no activity for longer than threshold.
// Advisory only; nothing is failed automatically.
func IsStale(node *domain.TaskNode, now time.Time, threshold time.Duration) bool {
	if node == nil || node.Status != domain.TaskActive {
		return false
	}
	return now.Sub(lastSeen(node)) > threshold
}

func lastSeen(node *domain.TaskNode) time.Time {
	if last := node.LastActivity(); !last.IsZero() {
		return last
	}
	return node.ModifiedAt
}

// StaleTasks returns every stale active node across non-closed plans.
func StaleTasks(g *domain.TaskGraph, now time.Time, threshold time.Duration) []*domain.TaskNode {
	var out []*domain.TaskNode
	for _, p := range g.WorkPlans {
		if p.Status.Closed() {
			continue
		}
		for _, t := range p.Tasks {
			if IsStale(t, now, threshold) {
				out = append(out, t)
			}
		}
	}
	return out
}
