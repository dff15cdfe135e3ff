package delegation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/idumb/internal/domain"
)

// DefaultTTL is how long a pending delegation waits to be accepted.
const DefaultTTL = 30 * time.Minute

var (
	ErrNotFound = errors.New("delegation not found")
	ErrTerminal = errors.New("delegation is already closed")
	ErrNotOpen  = errors.New("delegation is not pending")
)

// Request carries the inputs for Create.
type Request struct {
	From           string
	To             string
	TaskID         string
	Context        string
	ExpectedOutput string
	Category       domain.Category
	AllowedTools   []string
	AllowedActions []string
	CurrentDepth   int
}

// Create appends a pending record. Callers validate first.
func Create(store *domain.DelegationStore, req Request, now time.Time, ttl time.Duration) *domain.DelegationRecord {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rec := &domain.DelegationRecord{
		ID:             domain.NewID(domain.PrefixDelegation),
		FromAgent:      req.From,
		ToAgent:        req.To,
		TaskID:         req.TaskID,
		Context:        strings.TrimSpace(req.Context),
		ExpectedOutput: strings.TrimSpace(req.ExpectedOutput),
		Category:       req.Category,
		AllowedTools:   req.AllowedTools,
		AllowedActions: req.AllowedActions,
		MaxDepth:       MaxDepth - req.CurrentDepth,
		Status:         domain.DelegationPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	store.Delegations = append(store.Delegations, rec)
	return rec
}

// Find returns the record with id, or nil.
func Find(store *domain.DelegationStore, id string) *domain.DelegationRecord {
	for _, d := range store.Delegations {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Accept moves a pending record to accepted.
func Accept(rec *domain.DelegationRecord) error {
	if rec.Status != domain.DelegationPending {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, rec.ID, rec.Status)
	}
	rec.Status = domain.DelegationAccepted
	return nil
}

// Complete closes an open record with its result.
func Complete(rec *domain.DelegationRecord, result domain.DelegationResult, now time.Time) error {
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.ID, rec.Status)
	}
	r := result
	rec.Result = &r
	rec.Status = domain.DelegationCompleted
	rec.CompletedAt = &now
	return nil
}

// Reject closes an open record without a result.
func Reject(rec *domain.DelegationRecord, reason string, now time.Time) error {
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.ID, rec.Status)
	}
	rec.Status = domain.DelegationRejected
	rec.RejectReason = strings.TrimSpace(reason)
	rec.CompletedAt = &now
	return nil
}

// ExpireStale flips every pending record past its deadline to expired and
// returns how many changed. Invoked on store access, never on a timer.
func ExpireStale(store *domain.DelegationStore, now time.Time) int {
	n := 0
	for _, d := range store.Delegations {
		if d.Status == domain.DelegationPending && now.After(d.ExpiresAt) {
			d.Status = domain.DelegationExpired
			stamp := now
			d.CompletedAt = &stamp
			n++
		}
	}
	return n
}

// Depth counts pending, accepted and completed records for taskID.
// Completed handoffs keep counting so a task cannot be re-delegated forever.
func Depth(store *domain.DelegationStore, taskID string) int {
	n := 0
	for _, d := range store.Delegations {
		if d.TaskID != taskID {
			continue
		}
		switch d.Status {
		case domain.DelegationPending, domain.DelegationAccepted, domain.DelegationCompleted:
			n++
		}
	}
	return n
}

// ForTask returns every record for taskID in creation order.
func ForTask(store *domain.DelegationStore, taskID string) []*domain.DelegationRecord {
	var out []*domain.DelegationRecord
	for _, d := range store.Delegations {
		if d.TaskID == taskID {
			out = append(out, d)
		}
	}
	return out
}

// OpenFor returns pending and accepted records addressed to agent.
func OpenFor(store *domain.DelegationStore, agent string) []*domain.DelegationRecord {
	var out []*domain.DelegationRecord
	for _, d := range store.Delegations {
		if d.ToAgent == agent && !d.Status.Terminal() {
			out = append(out, d)
		}
	}
	return out
}

// Open returns every pending and accepted record.
func Open(store *domain.DelegationStore) []*domain.DelegationRecord {
	var out []*domain.DelegationRecord
	for _, d := range store.Delegations {
		if !d.Status.Terminal() {
			out = append(out, d)
		}
	}
	return out
}

// Format renders a record as one or two lines.
func Format(rec *domain.DelegationRecord, now time.Time) string {
	line := fmt.Sprintf("%s %s -> %s task %s [%s] depth budget %d", rec.ID, rec.FromAgent, rec.ToAgent, rec.TaskID, rec.Status, rec.MaxDepth)
	switch rec.Status {
	case domain.DelegationPending:
		line += fmt.Sprintf(", expires in %s", rec.ExpiresAt.Sub(now).Round(time.Second))
	case domain.DelegationRejected:
		if rec.RejectReason != "" {
			line += ", reason: " + rec.RejectReason
		}
	case domain.DelegationCompleted:
		if rec.Result != nil && rec.Result.Evidence != "" {
			line += ", evidence: " + rec.Result.Evidence
		}
	}
	if rec.Context != "" {
		line += "\n  context: " + rec.Context
	}
	return line
}
