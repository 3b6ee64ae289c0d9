package protocol

import "encoding/json"

// Message type values recognized on the wire
const (
	// Client associates with a session and receives current state
	TypeJoin = "join"

	// Client explicitly asks for the latest snapshot
	TypeRequestSnapshot = "request_snapshot"

	// Client submits the full current project state
	TypeUpdateProject = "update_project"

	// Full project state; valid in both directions
	TypeProjectSnapshot = "project_snapshot"

	// Keepalive round-trip
	TypePing = "ping"
	TypePong = "pong"

	// Server-only response kinds
	TypeNoSnapshot   = "no_snapshot"
	TypeParticipants = "participants"
	TypeError        = "error"
)

// A single inbound wire message. SessionID and ClientID are sticky:
// once a connection has supplied them, later messages may omit them.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Project   json.RawMessage `json:"project,omitempty"`
}

// Outbound message carrying a full project snapshot
type SnapshotMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Project   json.RawMessage `json:"project"`
}

// Outbound reply when no snapshot exists for a session
type NoSnapshotMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Outbound roster of client identifiers attached to a session
type ParticipantsMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Clients   []string `json:"clients"`
}

// Outbound protocol-level error
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Outbound keepalive reply
type PongMessage struct {
	Type string `json:"type"`
}

func Snapshot(sessionID string, project json.RawMessage) SnapshotMessage {
	return SnapshotMessage{Type: TypeProjectSnapshot, SessionID: sessionID, Project: project}
}

func NoSnapshot(sessionID string) NoSnapshotMessage {
	return NoSnapshotMessage{Type: TypeNoSnapshot, SessionID: sessionID}
}

func Participants(sessionID string, clients []string) ParticipantsMessage {
	return ParticipantsMessage{Type: TypeParticipants, SessionID: sessionID, Clients: clients}
}

func Error(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

func Pong() PongMessage {
	return PongMessage{Type: TypePong}
}
