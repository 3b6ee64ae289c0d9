package session

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/syncrelay/server/internal/store"
)

// One collaboration room: the set of attached connection identifiers, their
// client identifiers, and the last accepted project snapshot. Membership and
// snapshot are guarded by the session's own mutex so concurrent sessions
// never block each other.
type Session struct {
	ID string

	mu       sync.Mutex
	members  map[string]string // connection id -> client id
	snapshot json.RawMessage
	ts       any // lastUpdatedAt of the cached snapshot, nil if absent

	store *store.Store
}

func newSession(id string, st *store.Store) *Session {
	return &Session{
		ID:      id,
		members: make(map[string]string),
		store:   st,
	}
}

// Loads the persisted snapshot if memory has none. An absent result leaves
// the cache nil, so the load is retried on the next message until something
// is found or a new snapshot arrives.
func (s *Session) EnsureSnapshotLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil {
		return
	}
	if raw, ok := s.store.Load(s.ID); ok {
		s.snapshot = raw
		s.ts = timestampOf(raw)
	}
}

// Returns the cached snapshot, or ok=false if none has been seen yet.
func (s *Session) Snapshot() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.snapshot != nil
}

// Applies the last-write-wins rule to an incoming full-state update. The
// update is rejected only when both sides carry a comparable lastUpdatedAt
// and the incoming one is older; a missing or unparseable timestamp on
// either side never blocks acceptance. On acceptance the cached snapshot is
// replaced and persisted best-effort.
func (s *Session) AcceptUpdate(project json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := timestampOf(project)
	if olderThan(incoming, s.ts) {
		return false
	}

	s.snapshot = project
	s.ts = incoming

	if err := s.store.Save(s.ID, project); err != nil {
		log.Printf("Failed to save session %s: %v", s.ID, err)
	}
	return true
}

// Participants returns the client identifiers of all attached connections.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]string, 0, len(s.members))
	for _, clientID := range s.members {
		clients = append(clients, clientID)
	}
	return clients
}

// MemberIDs returns the connection identifiers currently attached.
func (s *Session) MemberIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.members))
	for connID := range s.members {
		ids = append(ids, connID)
	}
	return ids
}

// MemberCount returns the number of attached connections.
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Extracts the optional ordering timestamp from a project document.
// Only JSON numbers and strings participate in ordering.
func timestampOf(project json.RawMessage) any {
	var doc struct {
		LastUpdatedAt any `json:"lastUpdatedAt"`
	}
	if err := json.Unmarshal(project, &doc); err != nil {
		return nil
	}
	switch doc.LastUpdatedAt.(type) {
	case float64, string:
		return doc.LastUpdatedAt
	}
	return nil
}

// Reports whether incoming is strictly older than current. Values of
// different kinds are not comparable and never count as older.
func olderThan(incoming, current any) bool {
	switch cur := current.(type) {
	case float64:
		in, ok := incoming.(float64)
		return ok && in < cur
	case string:
		in, ok := incoming.(string)
		return ok && in < cur
	}
	return false
}
