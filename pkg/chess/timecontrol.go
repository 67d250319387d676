package chess

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidTimeControl is returned when a time control string cannot be parsed
var ErrInvalidTimeControl = errors.New("invalid time control")

// TimeControl defines the time settings for a game
type TimeControl struct {
	Initial   int64 // Initial time per side in seconds
	Increment int64 // Seconds credited to a side after each completed move
}

// ParseTimeControl parses a time control of the form "<minutes>+<incrementSeconds>".
// The increment is optional and defaults to zero, so "3" and "3+0" are equivalent.
func ParseTimeControl(s string) (TimeControl, error) {
	raw := strings.TrimSpace(s)
	minutesPart, incrementPart, _ := strings.Cut(raw, "+")

	minutes, err := strconv.ParseFloat(strings.TrimSpace(minutesPart), 64)
	if err != nil || math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return TimeControl{}, fmt.Errorf("%w: minutes must be a positive number, got %q", ErrInvalidTimeControl, s)
	}

	initial := int64(minutes * 60)
	if initial < 1 {
		return TimeControl{}, fmt.Errorf("%w: initial time below one second in %q", ErrInvalidTimeControl, s)
	}

	var increment int64
	if inc := strings.TrimSpace(incrementPart); inc != "" {
		increment, err = strconv.ParseInt(inc, 10, 64)
		if err != nil || increment < 0 {
			return TimeControl{}, fmt.Errorf("%w: increment must be a non-negative integer, got %q", ErrInvalidTimeControl, s)
		}
	}

	return TimeControl{Initial: initial, Increment: increment}, nil
}

// String renders the time control back in "<minutes>+<increment>" form
func (tc TimeControl) String() string {
	if tc.Initial%60 == 0 {
		return fmt.Sprintf("%d+%d", tc.Initial/60, tc.Increment)
	}

	return fmt.Sprintf("%s+%d", strconv.FormatFloat(float64(tc.Initial)/60, 'f', -1, 64), tc.Increment)
}
