package messages

import (
	"github.com/tecu23/match-server/internal/color"
	"github.com/tecu23/match-server/pkg/game"
)

// Outbound events
const (
	EventConnected      = "CONNECTED"
	EventError          = "ERROR"
	EventSessionCreated = "SESSION_CREATED"
	EventSessionJoined  = "SESSION_JOINED"
	EventSessionState   = "SESSION_STATE"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// ConnectedPayload tells a client its connection id
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// JoinedPayload answers a successful JOIN_SESSION
type JoinedPayload struct {
	Color   color.Color   `json:"color"`
	Session game.Snapshot `json:"session"`
}

// ErrorPayload carries a stable error code and a readable message
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClockUpdatePayload contains information about the current state of the clock
type ClockUpdatePayload struct {
	SessionID   string `json:"session_id"`
	WhiteTime   int64  `json:"white_time"`   // White's remaining time in seconds
	BlackTime   int64  `json:"black_time"`   // Black's remaining time in seconds
	ActiveColor string `json:"active_color"` // The running side, empty when stopped
}

// TimeupPayload contains information about which player ran out of time
type TimeupPayload struct {
	SessionID string `json:"session_id"`
	Color     string `json:"color"` // The color of the player who ran out of time
}

// PlayerLeftPayload tells the remaining player who left
type PlayerLeftPayload struct {
	SessionID string        `json:"session_id"`
	Color     color.Color   `json:"color"`
	Session   game.Snapshot `json:"session"`
}
