// Package chess defines the game entities
package chess

import (
	"fmt"
	"time"

	"github.com/tecu23/match-server/internal/color"
)

// Clock manages the chess clock for both players.
//
// All times are whole seconds. A Clock is not safe for concurrent use: the
// session that owns it is only ever mutated by one goroutine at a time.
type Clock struct {
	whiteTime int64
	blackTime int64

	increment int64

	activeColor color.Color

	startTime time.Time
	isRunning bool

	// bookkeeping for the time accounting invariant
	credited int64
	ticked   int64

	now func() time.Time
}

// ClockState is a point-in-time copy of the clock
type ClockState struct {
	White       int64       `json:"white_time"`
	Black       int64       `json:"black_time"`
	ActiveColor color.Color `json:"active_color,omitempty"`
	Running     bool        `json:"running"`
	Increment   int64       `json:"increment"`
	Credited    int64       `json:"-"`
	Ticked      int64       `json:"-"`
}

// NewClock creates a new chess clock with the given time controls.
// now may be nil, in which case time.Now is used.
func NewClock(tc TimeControl, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}

	return &Clock{
		whiteTime: tc.Initial,
		blackTime: tc.Initial,
		increment: tc.Increment,
		now:       now,
	}
}

// Start starts the clock for the given side. It does nothing when the clock is
// already running; callers must Stop before starting a different side.
func (c *Clock) Start(side color.Color) {
	if c.isRunning || !side.Valid() {
		return
	}

	c.activeColor = side
	c.startTime = c.now()
	c.isRunning = true
}

// Switch credits the increment to the side that just completed its move and
// hands the clock to newSide
func (c *Clock) Switch(newSide color.Color) {
	if !c.isRunning || !newSide.Valid() {
		return
	}

	if c.activeColor != "" && c.increment > 0 {
		c.add(c.activeColor, c.increment)
		c.credited += c.increment
	}

	c.activeColor = newSide
	c.startTime = c.now()
}

// Tick takes one second off the running side. When that side reaches zero the
// clock stops and Tick reports the timeout together with the flagged side.
func (c *Clock) Tick() (bool, color.Color) {
	if !c.isRunning || c.activeColor == "" {
		return false, ""
	}

	side := c.activeColor
	c.add(side, -1)
	c.ticked++

	if c.remaining(side) > 0 {
		return false, ""
	}

	c.set(side, 0)
	c.Stop()

	return true, side
}

// ElapsedSinceLastSwitch returns the whole seconds since the last start or switch
func (c *Clock) ElapsedSinceLastSwitch() int64 {
	if c.startTime.IsZero() {
		return 0
	}

	elapsed := int64(c.now().Sub(c.startTime) / time.Second)
	if elapsed < 0 {
		return 0
	}

	return elapsed
}

// Stop stops the clock
func (c *Clock) Stop() {
	c.isRunning = false
	c.activeColor = ""
	c.startTime = time.Time{}
}

// IsRunning reports whether a side is currently running
func (c *Clock) IsRunning() bool {
	return c.isRunning
}

// ActiveColor returns the running side, or the empty color when stopped
func (c *Clock) ActiveColor() color.Color {
	return c.activeColor
}

// GetRemainingTime returns the remaining seconds of a side
func (c *Clock) GetRemainingTime(side color.Color) int64 {
	return c.remaining(side)
}

// IsTimeUp checks if a player has run out of time
func (c *Clock) IsTimeUp(side color.Color) bool {
	return c.remaining(side) <= 0
}

// State returns a copy of the clock
func (c *Clock) State() ClockState {
	return ClockState{
		White:       c.whiteTime,
		Black:       c.blackTime,
		ActiveColor: c.activeColor,
		Running:     c.isRunning,
		Increment:   c.increment,
		Credited:    c.credited,
		Ticked:      c.ticked,
	}
}

func (c *Clock) remaining(side color.Color) int64 {
	if side == color.White {
		return c.whiteTime
	}
	return c.blackTime
}

func (c *Clock) set(side color.Color, v int64) {
	if side == color.White {
		c.whiteTime = v
	} else {
		c.blackTime = v
	}
}

func (c *Clock) add(side color.Color, delta int64) {
	c.set(side, c.remaining(side)+delta)
}

// FormatClockTime formats a duration in seconds to a user-friendly string (e.g., "1:30")
func FormatClockTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}

	return fmt.Sprintf("%d:%02d", minutes, secs)
}
