package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncrelay/server/internal/protocol"
	"github.com/syncrelay/server/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// One live duplex channel to a collaborating client. sessionID and clientID
// are sticky across messages and only touched from the read loop.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	id          string
	sessionID   string
	clientID    string
	rateLimiter *ratelimit.Limiter
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 512),
		closed:      make(chan struct{}),
		id:          uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for client %s in session %q (warning #%d)",
					c.id, c.sessionID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// Classifies one inbound message and drives the registry, store and
// broadcast paths. Malformed messages are dropped; a message with no
// resolvable session gets an error reply and changes nothing.
func (c *Client) handleMessage(raw []byte) {
	var msg protocol.Envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("Invalid JSON from client %s: %v", c.id, err)
		return
	}

	if msg.SessionID != "" && msg.SessionID != c.sessionID {
		// Rebinding to another session leaves no ghost membership behind.
		if c.sessionID != "" {
			c.hub.detachFromSession(c, c.sessionID)
		}
		c.sessionID = msg.SessionID
	}
	if msg.ClientID != "" {
		c.clientID = msg.ClientID
	}
	if c.clientID == "" {
		c.clientID = "guest"
	}

	if c.sessionID == "" {
		c.sendJSON(protocol.Error("sessionId required"))
		return
	}

	s := c.hub.registry.Attach(c.sessionID, c.id, c.clientID)
	s.EnsureSnapshotLoaded()

	switch msg.Type {
	case protocol.TypeJoin:
		log.Printf("Client %s joined session %s", c.clientID, c.sessionID)
		if snap, ok := s.Snapshot(); ok {
			c.sendJSON(protocol.Snapshot(s.ID, snap))
		}
		c.hub.Broadcast(s, protocol.Participants(s.ID, s.Participants()), "")

	case protocol.TypeRequestSnapshot:
		if snap, ok := s.Snapshot(); ok {
			c.sendJSON(protocol.Snapshot(s.ID, snap))
		} else {
			c.sendJSON(protocol.NoSnapshot(s.ID))
		}

	case protocol.TypeUpdateProject, protocol.TypeProjectSnapshot:
		if emptyProject(msg.Project) {
			return
		}
		if !s.AcceptUpdate(msg.Project) {
			// Stale by timestamp; dropped without a reply.
			return
		}
		c.hub.recordVersion(s.ID, c.clientID, msg.Project)
		c.hub.Broadcast(s, protocol.Snapshot(s.ID, msg.Project), c.id)

	case protocol.TypePing:
		c.sendJSON(protocol.Pong())
	}
}

// An update must carry a non-empty project. Empty means absent, null, or
// any vacuous document: empty object or array, empty string, zero, false.
func emptyProject(project json.RawMessage) bool {
	if len(project) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(project, &v); err != nil {
		return true
	}
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case float64:
		return val == 0
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// Encodes and queues a directed reply. Failure means the connection is
// saturated or gone; it is logged and otherwise ignored. Only read
// failures terminate the handler.
func (c *Client) sendJSON(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to encode message for client %s: %v", c.id, err)
		return
	}
	if !c.trySend(data) {
		log.Printf("Failed to send message to client %s", c.id)
	}
}

func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	default:
		// Buffer full: a consumer this far behind is treated as dead.
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
