package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/syncrelay/server/internal/db"
	"github.com/syncrelay/server/internal/protocol"
	"github.com/syncrelay/server/internal/session"
)

// How many auto-recorded versions to keep per session
const autoVersionKeep = 50

// Maps live connections to their identifiers and fans messages out to
// session members. Session membership itself is held by the registry as
// connection ids; the hub resolves those ids back to live clients.
type Hub struct {
	registry *session.Registry
	database *db.Database // nil disables version recording

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(registry *session.Registry, database *db.Database) *Hub {
	return &Hub{
		registry: registry,
		database: database,
		clients:  make(map[string]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) client(connID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

// Broadcast delivers a message to every member of a session except the
// excluded connection. A member that cannot accept the message is presumed
// dead: it is closed and detached so it stops receiving further traffic
// before its own disconnect path runs.
func (h *Hub) Broadcast(s *session.Session, payload any, excludeID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to encode broadcast for session %s: %v", s.ID, err)
		return
	}

	for _, connID := range s.MemberIDs() {
		if connID == excludeID {
			continue
		}
		c := h.client(connID)
		if c != nil && c.trySend(data) {
			continue
		}
		log.Printf("Dropping unreachable client %s from session %s", connID, s.ID)
		if c != nil {
			c.close()
		}
		h.registry.Detach(s, connID)
	}
}

// Removes a connection from a session and tells the remaining members, or
// closes out the session if it was the last one.
func (h *Hub) detachFromSession(c *Client, sessionID string) {
	s, ok := h.registry.Get(sessionID)
	if !ok {
		return
	}

	participants, evicted := h.registry.Detach(s, c.id)
	if evicted {
		log.Printf("Session %s closed (empty)", s.ID)
		return
	}
	h.Broadcast(s, protocol.Participants(s.ID, participants), "")
}

// Runs once per connection when its read loop ends, whatever the reason.
func (h *Hub) disconnect(c *Client) {
	c.close()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	if c.sessionID != "" {
		h.detachFromSession(c, c.sessionID)
	}
	log.Printf("Client %s disconnected from session %q", c.id, c.sessionID)
}

// Records an accepted snapshot in the version history, skipping content
// identical to the latest recorded version. Failures are logged only:
// version history is best-effort, like the snapshot store.
func (h *Hub) recordVersion(sessionID, clientID string, project json.RawMessage) {
	if h.database == nil {
		return
	}

	content := string(project)
	if latest, err := h.database.GetLatestVersion(sessionID); err == nil && latest != nil && latest.ContentHash == db.HashContent(content) {
		return
	}

	if _, err := h.database.CreateVersion(sessionID, "", "", content, clientID, true); err != nil {
		log.Printf("Failed to record version for session %s: %v", sessionID, err)
		return
	}
	if err := h.database.PruneAutoVersions(sessionID, autoVersionKeep); err != nil {
		log.Printf("Failed to prune versions for session %s: %v", sessionID, err)
	}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
