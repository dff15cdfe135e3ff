package app

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/idumb/internal/delegation"
	"github.com/jaakkos/idumb/internal/domain"
	"github.com/jaakkos/idumb/internal/taskgraph"
)

// GovernanceService is the governance context every tool and hook handler
// receives. State is loaded once and cached; Run flushes every mutation
// before returning.
type GovernanceService struct {
	repo   StateRepository
	policy Policy
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      *domain.GovernanceState
	loaded     bool
	loadFailed bool   // storage could not be read; never overwrite it until a reload succeeds
	degraded   string // non-empty while persistence is failing
	lastRev    string // last signal revision written or consumed by this process
}

// Option configures a GovernanceService.
type Option func(*GovernanceService)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *GovernanceService) { s.now = now }
}

// NewGovernanceService returns a service over repo. State is loaded on first use.
func NewGovernanceService(repo StateRepository, policy Policy, logger *zap.Logger, opts ...Option) *GovernanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GovernanceService{repo: repo, policy: policy, logger: logger.Named("governance"), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the policy for handlers that need budgets, timeouts etc.
func (s *GovernanceService) Policy() Policy { return s.policy }

// Now returns the service clock.
func (s *GovernanceService) Now() time.Time { return s.now() }

// Logger returns the service logger.
func (s *GovernanceService) Logger() *zap.Logger { return s.logger }

// Degraded reports whether governance state is memory-only and why.
func (s *GovernanceService) Degraded() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	return s.degraded != "", s.degraded
}

// Run applies fn to the cached state and persists the result. If fn returns an
// error the state is rolled back and the error returned unchanged. A failed
// save does not fail the call: the change stays in memory and the service
// enters degraded mode.
func (s *GovernanceService) Run(fn func(*domain.GovernanceState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.sweep()

	snapshot, err := CloneState(s.state)
	if err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}
	if err := fn(s.state); err != nil {
		s.state = snapshot
		return err
	}
	EnsureStateMaps(s.state)
	s.flush()
	return nil
}

// Query runs fn against the cached state without saving.
func (s *GovernanceService) Query(fn func(*domain.GovernanceState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.sweep()
	return fn(s.state)
}

// Reload replaces the cache with what storage holds now.
func (s *GovernanceService) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// ReloadIfChanged reloads when rev is a signal revision this process has not
// written or consumed yet. It reports whether a reload happened.
func (s *GovernanceService) ReloadIfChanged(rev string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev == "" || rev == s.lastRev {
		return false
	}
	s.lastRev = rev
	if err := s.reload(); err != nil {
		return false
	}
	return true
}

func (s *GovernanceService) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	if err := s.reload(); err != nil {
		s.state = domain.NewGovernanceState()
	}
}

func (s *GovernanceService) reload() error {
	state, err := s.repo.Load()
	if err != nil {
		s.logger.Error("state load failed, running memory-only", zap.Error(err))
		s.loadFailed = true
		s.degraded = fmt.Sprintf("state could not be loaded (%v); changes are kept in memory only", err)
		return err
	}
	EnsureStateMaps(state)
	s.state = state
	s.loadFailed = false
	s.degraded = ""
	return nil
}

// sweep applies lazy expiry and purge. Both are idempotent.
func (s *GovernanceService) sweep() {
	now := s.now()
	ttlExpired := delegation.ExpireStale(s.state.Delegations, now)
	purged := taskgraph.PurgeClosedPlans(s.state.Graph, now, s.policy.PlanGrace())
	if ttlExpired > 0 || purged > 0 {
		s.logger.Debug("lazy sweep", zap.Int("expired_delegations", ttlExpired), zap.Int("purged_plans", purged))
	}
}

func (s *GovernanceService) flush() {
	if s.loadFailed {
		return
	}
	if err := s.repo.Save(s.state); err != nil {
		if s.degraded == "" {
			s.logger.Error("state save failed, entering degraded mode", zap.Error(err))
		}
		s.degraded = fmt.Sprintf("state could not be saved (%v); changes are kept in memory only", err)
		return
	}
	if s.degraded != "" {
		s.logger.Info("state save recovered, leaving degraded mode")
		s.degraded = ""
	}
	rev, err := TouchNotifySignal(s.policy.SignalFilePath())
	if err != nil {
		s.logger.Warn("notify signal write failed", zap.Error(err))
		return
	}
	s.lastRev = rev
}
