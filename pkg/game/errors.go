package game

import (
	"errors"

	"github.com/tecu23/match-server/pkg/chess"
)

// Errors returned by session and registry operations. All of them are
// recoverable and are reported back to the caller, never raised.
var (
	ErrInvalidTimeControl = chess.ErrInvalidTimeControl
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionFull        = errors.New("session is full")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrNotAParticipant    = errors.New("not a participant")
	ErrAlreadyJoined      = errors.New("connection already joined this session")
	ErrAlreadyInSession   = errors.New("connection is already playing another session")
	ErrInvalidConnection  = errors.New("invalid connection id")
	ErrInvalidOutcome     = errors.New("invalid outcome")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidTimeControl, "INVALID_TIME_CONTROL"},
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrSessionExists, "SESSION_EXISTS"},
	{ErrSessionFull, "SESSION_FULL"},
	{ErrSessionNotActive, "SESSION_NOT_ACTIVE"},
	{ErrNotAParticipant, "NOT_A_PARTICIPANT"},
	{ErrNotYourTurn, "NOT_YOUR_TURN"},
	{ErrAlreadyJoined, "ALREADY_JOINED"},
	{ErrAlreadyInSession, "ALREADY_IN_SESSION"},
	{ErrInvalidConnection, "INVALID_CONNECTION"},
	{ErrInvalidOutcome, "INVALID_OUTCOME"},
}

// Code maps an error to the stable identifier sent to clients.
// Unknown errors map to "INTERNAL".
func Code(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return "INTERNAL"
}
