package session

import (
	"sync"

	"github.com/syncrelay/server/internal/store"
)

// The authoritative in-memory map of live sessions. A session is present
// exactly while it has at least one attached connection; the last detach
// evicts it, and a later join reloads its snapshot from the store.
//
// Lock order: registry lock before session lock, always. Attach holds both
// so an eviction decided concurrently re-checks membership and never races
// a new member in.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *store.Store
}

func NewRegistry(st *store.Store) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		store:    st,
	}
}

// Attach registers a connection as a member of a session, creating the
// session if it does not exist. Re-attaching the same connection only
// updates its recorded client identifier.
func (r *Registry) Attach(sessionID, connID, clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = newSession(sessionID, r.store)
		r.sessions[sessionID] = s
	}

	s.mu.Lock()
	s.members[connID] = clientID
	s.mu.Unlock()

	return s
}

// Detach removes a connection from a session. If members remain, their
// client identifiers are returned for a participants rebroadcast; if the
// session emptied, it is evicted and its cached snapshot discarded.
func (r *Registry) Detach(s *Session, connID string) (participants []string, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	delete(s.members, connID)
	if len(s.members) == 0 {
		s.mu.Unlock()
		// Only evict if the map still holds this instance; a session with
		// the same id may have been recreated after an earlier eviction.
		if cur, ok := r.sessions[s.ID]; ok && cur == s {
			delete(r.sessions, s.ID)
		}
		return nil, true
	}
	participants = make([]string, 0, len(s.members))
	for _, clientID := range s.members {
		participants = append(participants, clientID)
	}
	s.mu.Unlock()

	return participants, false
}

// Get returns the live session for an identifier, if any.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ClientCount returns the total number of attached connections.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, s := range r.sessions {
		total += s.MemberCount()
	}
	return total
}

// ActiveSessions returns a snapshot of session ids and their member counts.
func (r *Registry) ActiveSessions() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make(map[string]int, len(r.sessions))
	for id, s := range r.sessions {
		active[id] = s.MemberCount()
	}
	return active
}
