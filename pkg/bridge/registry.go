package bridge

import "sync"

// Registry tracks live sessions. It also remembers the session key of the
// most recently started call so completion callbacks, which carry no call
// identifier, can be attributed to it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	current  string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *Registry) started(key string) {
	r.mu.Lock()
	r.current = key
	r.mu.Unlock()
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	if len(r.sessions) == 0 {
		r.current = ""
	}
	r.mu.Unlock()
}

// CurrentKey returns the session key of the active call, or "" when no
// call is in progress.
func (r *Registry) CurrentKey() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Calls returns a snapshot of every live call.
func (r *Registry) Calls() []CallInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	calls := make([]CallInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		calls = append(calls, s.Info())
	}
	return calls
}

// HangupAll ends every live call and returns how many were signalled.
func (r *Registry) HangupAll() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Hangup()
	}
	return len(sessions)
}
