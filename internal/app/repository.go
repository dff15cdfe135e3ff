// Package app implements the governance context (use cases over cached state)
// and defines its ports.
package app

import (
	"github.com/jaakkos/idumb/internal/domain"
)

// StateRepository loads and saves the full governance state.
// Implementation: internal/repository (json files or SQLite).
type StateRepository interface {
	Load() (*domain.GovernanceState, error)
	Save(*domain.GovernanceState) error
}
