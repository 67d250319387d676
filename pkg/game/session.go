// Package game holds the authoritative state of a single two-player match
package game

import (
	"fmt"
	"time"

	"github.com/tecu23/match-server/internal/color"
	"github.com/tecu23/match-server/pkg/chess"
)

// StartPosition is the FEN every new session starts from
const StartPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Status is the lifecycle state of a session
type Status string

// Sessions only move forward: waiting -> active -> finished
const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Winner is the winning side of a finished session, or a draw
type Winner string

// Possible winners
const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

// Reason explains why a session finished
type Reason string

// Possible end reasons
const (
	ReasonCheckmate   Reason = "checkmate"
	ReasonResignation Reason = "resignation"
	ReasonTimeout     Reason = "timeout"
	ReasonDraw        Reason = "draw"
)

// Outcome is the terminal result of a session
type Outcome struct {
	Winner Winner `json:"winner"`
	Reason Reason `json:"reason"`
}

// IsZero reports whether no outcome has been decided
func (o Outcome) IsZero() bool {
	return o.Winner == "" && o.Reason == ""
}

func winnerOf(c color.Color) Winner {
	if c == color.White {
		return WinnerWhite
	}
	return WinnerBlack
}

// Player occupies one color slot
type Player struct {
	ConnectionID string    `json:"connection_id"`
	Name         string    `json:"name"`
	JoinedAt     time.Time `json:"joined_at"`
}

// MoveRecord is one entry of the move log
type MoveRecord struct {
	Move      chess.Move  `json:"move"`
	Color     color.Color `json:"color"`
	Timestamp time.Time   `json:"timestamp"`
	TimeSpent int64       `json:"time_spent"` // whole seconds
}

// Session is a single match. It is not safe for concurrent use; the registry
// serializes every call on a given session.
type Session struct {
	id string

	white *Player
	black *Player

	position string
	turn     color.Color
	moves    []MoveRecord

	timeControl string
	clock       *chess.Clock

	status  Status
	outcome Outcome

	createdAt    time.Time
	lastActivity time.Time

	now func() time.Time
}

// New creates a waiting session. timeControl has the form "<minutes>+<increment>".
func New(id, timeControl string, now func() time.Time) (*Session, error) {
	tc, err := chess.ParseTimeControl(timeControl)
	if err != nil {
		return nil, err
	}

	if now == nil {
		now = time.Now
	}

	created := now()

	return &Session{
		id:           id,
		position:     StartPosition,
		turn:         color.White,
		timeControl:  timeControl,
		clock:        chess.NewClock(tc, now),
		status:       StatusWaiting,
		createdAt:    created,
		lastActivity: created,
		now:          now,
	}, nil
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Status returns the lifecycle status
func (s *Session) Status() Status { return s.status }

// Turn returns the side to move
func (s *Session) Turn() color.Color { return s.turn }

// Position returns the current board position
func (s *Session) Position() string { return s.position }

// Outcome returns the terminal outcome, zero while the session is not finished
func (s *Session) Outcome() Outcome { return s.outcome }

// LastActivity returns the instant of the last accepted mutation
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// ClockState returns a copy of the clock
func (s *Session) ClockState() chess.ClockState { return s.clock.State() }

// ColorOf returns the slot held by connID, or the empty color
func (s *Session) ColorOf(connID string) color.Color {
	if connID == "" {
		return ""
	}
	if s.white != nil && s.white.ConnectionID == connID {
		return color.White
	}
	if s.black != nil && s.black.ConnectionID == connID {
		return color.Black
	}
	return ""
}

// Participants returns the connection ids occupying a slot
func (s *Session) Participants() []string {
	var ids []string
	if s.white != nil {
		ids = append(ids, s.white.ConnectionID)
	}
	if s.black != nil {
		ids = append(ids, s.black.ConnectionID)
	}
	return ids
}

// Join assigns the connection to white if vacant, else black. The session
// becomes active and white's clock starts once both slots are filled.
func (s *Session) Join(connID, name string) (color.Color, error) {
	if connID == "" {
		return "", ErrInvalidConnection
	}
	if s.status == StatusFinished {
		return "", fmt.Errorf("join %s: %w", s.id, ErrSessionNotActive)
	}
	if s.ColorOf(connID) != "" {
		return "", fmt.Errorf("join %s: %w", s.id, ErrAlreadyJoined)
	}

	now := s.now()
	player := &Player{ConnectionID: connID, Name: name, JoinedAt: now}

	var assigned color.Color
	switch {
	case s.white == nil:
		s.white = player
		assigned = color.White
	case s.black == nil:
		s.black = player
		assigned = color.Black
	default:
		return "", fmt.Errorf("join %s: %w", s.id, ErrSessionFull)
	}

	s.lastActivity = now

	if s.white != nil && s.black != nil && s.status == StatusWaiting {
		s.status = StatusActive
		s.clock.Start(s.turn)
	}

	return assigned, nil
}

// ApplyMove records a move already validated by the rules engine
func (s *Session) ApplyMove(connID string, move chess.Move, position string) error {
	if s.status != StatusActive {
		return fmt.Errorf("move in %s: %w", s.id, ErrSessionNotActive)
	}

	side := s.ColorOf(connID)
	if side == "" {
		return fmt.Errorf("move in %s: %w: %w", s.id, ErrNotYourTurn, ErrNotAParticipant)
	}
	if side != s.turn {
		return fmt.Errorf("move in %s: %w", s.id, ErrNotYourTurn)
	}

	now := s.now()
	s.moves = append(s.moves, MoveRecord{
		Move:      move,
		Color:     side,
		Timestamp: now,
		TimeSpent: s.clock.ElapsedSinceLastSwitch(),
	})
	s.position = position
	s.turn = side.Opp()
	s.clock.Switch(s.turn)
	s.lastActivity = now

	return nil
}

// Resign ends the session in favor of the opponent
func (s *Session) Resign(connID string) error {
	side := s.ColorOf(connID)
	if side == "" {
		return fmt.Errorf("resign %s: %w", s.id, ErrNotAParticipant)
	}
	if s.status != StatusActive {
		return fmt.Errorf("resign %s: %w", s.id, ErrSessionNotActive)
	}

	s.finish(Outcome{Winner: winnerOf(side.Opp()), Reason: ReasonResignation})
	s.lastActivity = s.now()

	return nil
}

// HandleTimeout finishes the session because side ran out of time.
// It reports false when the session was not active.
func (s *Session) HandleTimeout(side color.Color) bool {
	if s.status != StatusActive || !side.Valid() {
		return false
	}

	s.finish(Outcome{Winner: winnerOf(side.Opp()), Reason: ReasonTimeout})
	return true
}

// Tick advances the running clock by one second and applies a timeout when
// the running side is flagged.
func (s *Session) Tick() (bool, color.Color) {
	if s.status != StatusActive {
		return false, ""
	}

	timedOut, side := s.clock.Tick()
	if !timedOut {
		return false, ""
	}

	return s.HandleTimeout(side), side
}

// Conclude applies a result decided by the rules engine: checkmate with a
// winning side, or a draw.
func (s *Session) Conclude(o Outcome) error {
	if s.status != StatusActive {
		return fmt.Errorf("conclude %s: %w", s.id, ErrSessionNotActive)
	}

	valid := (o.Winner == WinnerDraw && o.Reason == ReasonDraw) ||
		((o.Winner == WinnerWhite || o.Winner == WinnerBlack) && o.Reason == ReasonCheckmate)
	if !valid {
		return fmt.Errorf("conclude %s with %s/%s: %w", s.id, o.Winner, o.Reason, ErrInvalidOutcome)
	}

	s.finish(o)
	s.lastActivity = s.now()

	return nil
}

// RemoveParticipant vacates the slot held by connID. Leaving an active session
// forfeits it to the remaining side. It reports whether the session was
// abandoned by this call.
func (s *Session) RemoveParticipant(connID string) (bool, error) {
	side := s.ColorOf(connID)
	if side == "" {
		return false, fmt.Errorf("leave %s: %w", s.id, ErrNotAParticipant)
	}

	if side == color.White {
		s.white = nil
	} else {
		s.black = nil
	}

	abandoned := false
	if s.status == StatusActive {
		s.finish(Outcome{Winner: winnerOf(side.Opp()), Reason: ReasonResignation})
		abandoned = true
	}
	s.lastActivity = s.now()

	return abandoned, nil
}

func (s *Session) finish(o Outcome) {
	s.status = StatusFinished
	s.outcome = o
	s.clock.Stop()
}
