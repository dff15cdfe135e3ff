// Package repository selects and composes the persistence backends.
package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/repository/jsonfile"
	"github.com/jaakkos/idumb/internal/repository/sqlite"
)

// Documents is the storage adapter. Each persisted document loads and saves
// independently; a missing document loads as its empty value.
type Documents interface {
	LoadGraph() (*domain.TaskGraph, error)
	SaveGraph(*domain.TaskGraph) error
	LoadDelegations() (*domain.DelegationStore, error)
	SaveDelegations(*domain.DelegationStore) error
	// SessionIDs lists every session with a persisted record or anchor collection.
	SessionIDs() ([]string, error)
	LoadAnchors(sessionID string) ([]domain.Anchor, error)
	SaveAnchors(sessionID string, anchors []domain.Anchor) error
	LoadSession(sessionID string) (*domain.SessionState, error)
	SaveSession(sessionID string, s *domain.SessionState) error
	Close() error
}

// NewStateRepository returns a StateRepository for the configured backend,
// rooted at stateDir.
func NewStateRepository(backend, stateDir string) (*Store, error) {
	var (
		docs Documents
		err  error
	)
	switch backend {
	case "", "json":
		docs, err = jsonfile.New(stateDir)
	case "sqlite":
		docs, err = sqlite.New(filepath.Join(stateDir, "governance.sqlite"))
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return NewStore(docs), nil
}

var _ app.StateRepository = (*Store)(nil)

// Store implements app.StateRepository over a Documents backend. Save writes
// only the documents whose encoded form changed since the last Load or Save.
type Store struct {
	docs Documents

	mu      sync.Mutex
	written map[string][]byte // document key -> last persisted encoding
}

// NewStore wraps docs.
func NewStore(docs Documents) *Store {
	return &Store{docs: docs, written: make(map[string][]byte)}
}

// Documents exposes the underlying adapter.
func (s *Store) Documents() Documents { return s.docs }

// Load implements app.StateRepository.
func (s *Store) Load() (*domain.GovernanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.NewGovernanceState()
	g, err := s.docs.LoadGraph()
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	state.Graph = g
	d, err := s.docs.LoadDelegations()
	if err != nil {
		return nil, fmt.Errorf("load delegations: %w", err)
	}
	state.Delegations = d

	ids, err := s.docs.SessionIDs()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, id := range ids {
		anchors, err := s.docs.LoadAnchors(id)
		if err != nil {
			return nil, fmt.Errorf("load anchors %s: %w", id, err)
		}
		if len(anchors) > 0 {
			state.Anchors[id] = anchors
		}
		ss, err := s.docs.LoadSession(id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		if ss != nil {
			state.Sessions[id] = ss
		}
	}

	s.written = make(map[string][]byte)
	s.remember("graph", state.Graph)
	s.remember("delegations", state.Delegations)
	for id, a := range state.Anchors {
		s.remember("anchors/"+id, a)
	}
	for id, ss := range state.Sessions {
		s.remember("session/"+id, ss)
	}
	return state, nil
}

// Save implements app.StateRepository.
func (s *Store) Save(state *domain.GovernanceState) error {
	if state == nil {
		return errors.New("state is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveIfChanged("graph", state.Graph, func() error { return s.docs.SaveGraph(state.Graph) }); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	if err := s.saveIfChanged("delegations", state.Delegations, func() error { return s.docs.SaveDelegations(state.Delegations) }); err != nil {
		return fmt.Errorf("save delegations: %w", err)
	}
	for _, id := range sortedKeys(state.Anchors) {
		anchors := state.Anchors[id]
		if err := s.saveIfChanged("anchors/"+id, anchors, func() error { return s.docs.SaveAnchors(id, anchors) }); err != nil {
			return fmt.Errorf("save anchors %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(state.Sessions) {
		ss := state.Sessions[id]
		if ss == nil {
			continue
		}
		if err := s.saveIfChanged("session/"+id, ss, func() error { return s.docs.SaveSession(id, ss) }); err != nil {
			return fmt.Errorf("save session %s: %w", id, err)
		}
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.docs.Close() }

func (s *Store) saveIfChanged(key string, v any, save func() error) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if prev, ok := s.written[key]; ok && bytes.Equal(prev, b) {
		return nil
	}
	if err := save(); err != nil {
		return err
	}
	s.written[key] = b
	return nil
}

func (s *Store) remember(key string, v any) {
	if b, err := json.Marshal(v); err == nil {
		s.written[key] = b
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
