// Package messages defines the JSON messages exchanged with websocket clients
package messages

import "encoding/json"

// Inbound message types
const (
	TypeCreateSession = "CREATE_SESSION"
	TypeJoinSession   = "JOIN_SESSION"
	TypeMakeMove      = "MAKE_MOVE"
	TypeResign        = "RESIGN"
	TypeGetSession    = "GET_SESSION"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CreateSessionPayload represents the payload for creating a new session.
// SessionID is optional; the server generates one when it is empty.
type CreateSessionPayload struct {
	SessionID   string `json:"session_id"`
	TimeControl string `json:"time_control"`
}

// JoinSessionPayload represents the payload for taking a seat in a session
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// MakeMovePayload represents the payload for making a move during a game
type MakeMovePayload struct {
	SessionID string `json:"session_id"`
	Move      string `json:"move"`
}

// SessionRefPayload names a session, used by RESIGN and GET_SESSION
type SessionRefPayload struct {
	SessionID string `json:"session_id"`
}
