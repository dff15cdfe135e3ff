package app

import (
	"sort"
	"sync"
	"time"
)

// SessionRegistry tracks connected MCP client sessions and the agent identity
// each one last declared. It is an in-process cache; the durable copy is
// SessionState.CapturedAgent.
type SessionRegistry struct {
	mu           sync.RWMutex
	sessions     map[string]string    // sessionID → agent
	lastActivity map[string]time.Time // sessionID → last activity timestamp
	now          func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:     make(map[string]string),
		lastActivity: make(map[string]time.Time),
		now:          time.Now,
	}
}

// SetAgent associates a session with an agent name.
func (r *SessionRegistry) SetAgent(sessionID, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = agent
	r.lastActivity[sessionID] = r.now()
}

// GetAgent returns the agent name for a session, or "" if unknown.
func (r *SessionRegistry) GetAgent(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// TouchSession records activity for a session (call on each tool invocation).
func (r *SessionRegistry) TouchSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = ""
	}
	r.lastActivity[sessionID] = r.now()
}

// LastActivity returns the last activity time for a session, zero if unknown.
func (r *SessionRegistry) LastActivity(sessionID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity[sessionID]
}

// RemoveSession unregisters a session (e.g. on disconnect).
func (r *SessionRegistry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.lastActivity, sessionID)
}

// ConnectedAgents returns the distinct agent names of connected sessions, sorted.
func (r *SessionRegistry) ConnectedAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, a := range r.sessions {
		if a != "" {
			seen[a] = struct{}{}
		}
	}
	agents := make([]string, 0, len(seen))
	for a := range seen {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	return agents
}

// SessionCount returns the number of connected sessions.
func (r *SessionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
