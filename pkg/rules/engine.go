// Package rules adapts a chess rules library to the session core. The core
// treats positions and moves as opaque values produced here.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/game"
)

// ErrIllegalMove is returned for moves that cannot be played in the position
var ErrIllegalMove = errors.New("illegal move")

// ErrInvalidPosition is returned when the position cannot be decoded
var ErrInvalidPosition = errors.New("invalid position")

// Result is a move accepted by the engine
type Result struct {
	Position string
	Move     chess.Move
	// Outcome is set when the move ended the game
	Outcome *game.Outcome
}

// Engine validates a candidate move against a position
type Engine interface {
	Apply(position, move string) (Result, error)
}

// Standard plays standard chess. Moves are given in UCI coordinate notation
// ("e2e4", "e7e8q").
type Standard struct{}

// NewStandard creates a standard chess rules engine
func NewStandard() *Standard {
	return &Standard{}
}

// Apply plays move on position and returns the resulting position
func (Standard) Apply(position, move string) (Result, error) {
	g, err := load(position)
	if err != nil {
		return Result{}, err
	}

	uci := strings.ToLower(strings.TrimSpace(move))
	if uci == "" {
		return Result{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}

	candidate, err := nchess.UCINotation{}.Decode(nil, uci)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}

	legal, ok := findLegal(g, candidate)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	san := nchess.AlgebraicNotation{}.Encode(g.Position(), legal)
	if err := g.PushMove(san, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}

	res := Result{
		Position: g.FEN(),
		Move: chess.Move{
			From:      legal.S1().String(),
			To:        legal.S2().String(),
			Promotion: promotion(legal.Promo()),
			Notation:  san,
		},
	}

	if o, ok := outcome(g); ok {
		res.Outcome = &o
	}

	return res, nil
}

// findLegal returns the legal move with the same squares and promotion
func findLegal(g *nchess.Game, m *nchess.Move) (*nchess.Move, bool) {
	valid := g.ValidMoves()
	for i := range valid {
		if valid[i].S1() == m.S1() && valid[i].S2() == m.S2() && valid[i].Promo() == m.Promo() {
			return &valid[i], true
		}
	}
	return nil, false
}

func load(position string) (*nchess.Game, error) {
	if position == "" || position == "startpos" {
		return nchess.NewGame(), nil
	}

	opt, err := nchess.FEN(position)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}

	return nchess.NewGame(opt), nil
}

func promotion(p nchess.PieceType) string {
	switch p {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	default:
		return ""
	}
}

// outcome translates the library result into a session outcome
func outcome(g *nchess.Game) (game.Outcome, bool) {
	switch g.Outcome() {
	case nchess.WhiteWon:
		if g.Method() == nchess.Checkmate {
			return game.Outcome{Winner: game.WinnerWhite, Reason: game.ReasonCheckmate}, true
		}
	case nchess.BlackWon:
		if g.Method() == nchess.Checkmate {
			return game.Outcome{Winner: game.WinnerBlack, Reason: game.ReasonCheckmate}, true
		}
	case nchess.Draw:
		return game.Outcome{Winner: game.WinnerDraw, Reason: game.ReasonDraw}, true
	}

	return game.Outcome{}, false
}
