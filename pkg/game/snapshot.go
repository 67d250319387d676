package game

import (
	"time"

	"github.com/tecu23/match-server/internal/color"
	"github.com/tecu23/match-server/pkg/chess"
)

// Snapshot is an immutable copy of a session, safe to hand to other goroutines
type Snapshot struct {
	ID           string           `json:"session_id"`
	White        *Player          `json:"white,omitempty"`
	Black        *Player          `json:"black,omitempty"`
	Position     string           `json:"fen"`
	Turn         color.Color      `json:"turn"`
	Moves        []MoveRecord     `json:"moves"`
	TimeControl  string           `json:"time_control"`
	Status       Status           `json:"status"`
	Winner       Winner           `json:"winner,omitempty"`
	Reason       Reason           `json:"reason,omitempty"`
	Clock        chess.ClockState `json:"clock"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
}

// Snapshot copies the current state of the session
func (s *Session) Snapshot() Snapshot {
	moves := make([]MoveRecord, len(s.moves))
	copy(moves, s.moves)

	return Snapshot{
		ID:           s.id,
		White:        copyPlayer(s.white),
		Black:        copyPlayer(s.black),
		Position:     s.position,
		Turn:         s.turn,
		Moves:        moves,
		TimeControl:  s.timeControl,
		Status:       s.status,
		Winner:       s.outcome.Winner,
		Reason:       s.outcome.Reason,
		Clock:        s.clock.State(),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// Player returns the occupant of a color slot, or nil
func (s Snapshot) Player(c color.Color) *Player {
	if c == color.White {
		return s.White
	}
	return s.Black
}

func copyPlayer(p *Player) *Player {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
