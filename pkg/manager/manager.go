// Package manager is the registry of live game sessions. It serializes every
// mutation per session, drives the session clocks and reaps idle sessions.
package manager

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/internal/color"
	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
)

// Defaults used when no option overrides them
const (
	DefaultTickInterval = time.Second
	DefaultReapInterval = 5 * time.Minute
	DefaultStaleAfter   = 30 * time.Minute
)

// TimeUpPayload is published with EventTimeUp
type TimeUpPayload struct {
	Color   color.Color   `json:"color"`
	Session game.Snapshot `json:"session"`
}

// PlayerPayload is published with EventPlayerJoined and EventPlayerLeft
type PlayerPayload struct {
	ConnectionID string        `json:"connection_id"`
	Color        color.Color   `json:"color"`
	Session      game.Snapshot `json:"session"`
}

// entry is the registry slot of one session. mu serializes all access to the
// session; driver is the handle of the running clock driver, nil when none.
type entry struct {
	mu       sync.RWMutex
	session  *game.Session
	driver   *driver
	removed  bool
	finished atomic.Bool
}

// Manager is the session registry. Lock order is entry.mu before Manager.mu.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	connections map[string]string // connection id -> session id

	sink   events.Sink
	logger *zap.Logger

	tickInterval time.Duration
	reapInterval time.Duration
	staleAfter   time.Duration
	now          func() time.Time

	drivers atomic.Int64
	closed  bool // guarded by mu

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithTickInterval sets how often running clocks are ticked
func WithTickInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.tickInterval = d
		}
	}
}

// WithReapInterval sets how often idle sessions are swept
func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reapInterval = d
		}
	}
}

// WithStaleAfter sets the inactivity window after which a session is reaped
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a new manager with in-memory storage. Call Start to run
// the reaper and Shutdown to stop every background goroutine.
func NewManager(sink events.Sink, logger *zap.Logger, opts ...Option) *Manager {
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		sessions:     make(map[string]*entry),
		connections:  make(map[string]string),
		sink:         sink,
		logger:       logger,
		tickInterval: DefaultTickInterval,
		reapInterval: DefaultReapInterval,
		staleAfter:   DefaultStaleAfter,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateSession registers a new waiting session. An empty id gets a random one.
func (m *Manager) CreateSession(id, timeControl string) (game.Snapshot, error) {
	if id == "" {
		id = uuid.NewString()
	}

	session, err := game.New(id, timeControl, m.now)
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("create session: %w", err)
	}

	e := &entry{session: session}

	// hold the entry lock so nobody observes the session before it is announced
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return game.Snapshot{}, fmt.Errorf("create session %s: %w", id, game.ErrSessionExists)
	}
	m.sessions[id] = e
	m.mu.Unlock()

	snap := session.Snapshot()
	m.publish(events.EventSessionCreated, id, snap)

	m.logger.Info("created new game session",
		zap.String("session_id", id),
		zap.String("time_control", timeControl),
	)

	return snap, nil
}

// JoinSession seats the connection in the session and returns its color.
// The session starts, and its clock driver with it, when the second player joins.
func (m *Manager) JoinSession(id, connID, name string) (color.Color, game.Snapshot, error) {
	if connID == "" {
		return "", game.Snapshot{}, game.ErrInvalidConnection
	}

	e, err := m.lookup(id)
	if err != nil {
		return "", game.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return "", game.Snapshot{}, fmt.Errorf("join %s: %w", id, game.ErrSessionNotFound)
	}

	// the index check and the seat assignment must be atomic for connID
	m.mu.Lock()
	if current, ok := m.connections[connID]; ok && current != id {
		if other, exists := m.sessions[current]; exists && !other.finished.Load() {
			m.mu.Unlock()
			return "", game.Snapshot{}, fmt.Errorf("join %s: %w", id, game.ErrAlreadyInSession)
		}
	}

	side, err := e.session.Join(connID, name)
	if err != nil {
		m.mu.Unlock()
		return "", game.Snapshot{}, err
	}
	m.connections[connID] = id
	m.mu.Unlock()

	snap := e.session.Snapshot()
	m.publish(events.EventPlayerJoined, id, PlayerPayload{ConnectionID: connID, Color: side, Session: snap})

	m.logger.Info("player joined session",
		zap.String("session_id", id),
		zap.String("connection_id", connID),
		zap.String("name", name),
		zap.String("color", string(side)),
	)

	if snap.Status == game.StatusActive && e.driver == nil {
		m.startDriver(id, e)
		m.publish(events.EventSessionStarted, id, snap)
		m.publish(events.EventClockTick, id, snap.Clock)
		m.logger.Info("session started", zap.String("session_id", id))
	}

	return side, snap, nil
}

// ApplyMove records a move that the rules engine already accepted
func (m *Manager) ApplyMove(id, connID string, move chess.Move, position string) (game.Snapshot, error) {
	if connID == "" {
		return game.Snapshot{}, game.ErrInvalidConnection
	}

	var snap game.Snapshot
	err := m.withSession(id, func(e *entry) error {
		if err := e.session.ApplyMove(connID, move, position); err != nil {
			return err
		}

		snap = e.session.Snapshot()
		m.publish(events.EventMoveApplied, id, snap)
		m.publish(events.EventClockTick, id, snap.Clock)
		return nil
	})
	if err != nil {
		return game.Snapshot{}, err
	}

	m.logger.Debug("processed move",
		zap.String("session_id", id),
		zap.String("move", move.String()),
		zap.String("new_turn", string(snap.Turn)),
		zap.String("white_time", chess.FormatClockTime(snap.Clock.White)),
		zap.String("black_time", chess.FormatClockTime(snap.Clock.Black)),
	)

	return snap, nil
}

// Resign ends the session in favor of the opponent of connID
func (m *Manager) Resign(id, connID string) (game.Snapshot, error) {
	if connID == "" {
		return game.Snapshot{}, game.ErrInvalidConnection
	}

	var snap game.Snapshot
	err := m.withSession(id, func(e *entry) error {
		if err := e.session.Resign(connID); err != nil {
			return err
		}

		snap = m.finishLocked(id, e)
		return nil
	})
	if err != nil {
		return game.Snapshot{}, err
	}

	m.logger.Info("player resigned",
		zap.String("session_id", id),
		zap.String("connection_id", connID),
		zap.String("winner", string(snap.Winner)),
	)

	return snap, nil
}

// Conclude records a checkmate or draw decided by the rules engine
func (m *Manager) Conclude(id string, outcome game.Outcome) (game.Snapshot, error) {
	var snap game.Snapshot
	err := m.withSession(id, func(e *entry) error {
		if err := e.session.Conclude(outcome); err != nil {
			return err
		}

		snap = m.finishLocked(id, e)
		return nil
	})
	if err != nil {
		return game.Snapshot{}, err
	}

	m.logger.Info("session concluded",
		zap.String("session_id", id),
		zap.String("winner", string(outcome.Winner)),
		zap.String("reason", string(outcome.Reason)),
	)

	return snap, nil
}

// RemoveParticipant takes the connection out of its session, typically on
// disconnect. Leaving an active session forfeits it.
func (m *Manager) RemoveParticipant(connID string) (game.Snapshot, error) {
	if connID == "" {
		return game.Snapshot{}, game.ErrInvalidConnection
	}

	m.mu.RLock()
	id, ok := m.connections[connID]
	e := m.sessions[id]
	m.mu.RUnlock()

	if !ok || e == nil {
		return game.Snapshot{}, fmt.Errorf("remove %s: %w", connID, game.ErrNotAParticipant)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return game.Snapshot{}, fmt.Errorf("remove %s: %w", connID, game.ErrNotAParticipant)
	}

	side := e.session.ColorOf(connID)
	abandoned, err := e.session.RemoveParticipant(connID)
	if err != nil {
		return game.Snapshot{}, err
	}

	m.mu.Lock()
	if m.connections[connID] == id {
		delete(m.connections, connID)
	}
	m.mu.Unlock()

	var snap game.Snapshot
	if abandoned {
		snap = m.finishLocked(id, e)
	} else {
		snap = e.session.Snapshot()
	}
	m.publish(events.EventPlayerLeft, id, PlayerPayload{ConnectionID: connID, Color: side, Session: snap})

	m.logger.Info("player removed from session",
		zap.String("session_id", id),
		zap.String("connection_id", connID),
		zap.Bool("abandoned", abandoned),
	)

	return snap, nil
}

// GetSession returns a snapshot of the session
func (m *Manager) GetSession(id string) (game.Snapshot, error) {
	e, err := m.lookup(id)
	if err != nil {
		return game.Snapshot{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.removed {
		return game.Snapshot{}, fmt.Errorf("get %s: %w", id, game.ErrSessionNotFound)
	}

	return e.session.Snapshot(), nil
}

// GetSessionForConnection returns the session the connection is seated in
func (m *Manager) GetSessionForConnection(connID string) (game.Snapshot, error) {
	if connID == "" {
		return game.Snapshot{}, game.ErrInvalidConnection
	}

	m.mu.RLock()
	id, ok := m.connections[connID]
	e := m.sessions[id]
	m.mu.RUnlock()

	if !ok || e == nil {
		return game.Snapshot{}, fmt.Errorf("lookup %s: %w", connID, game.ErrSessionNotFound)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.removed || e.session.ColorOf(connID) == "" {
		return game.Snapshot{}, fmt.Errorf("lookup %s: %w", connID, game.ErrSessionNotFound)
	}

	return e.session.Snapshot(), nil
}

// Len returns the number of registered sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveDrivers returns the number of clock driver goroutines still running
func (m *Manager) ActiveDrivers() int64 {
	return m.drivers.Load()
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, game.ErrSessionNotFound)
	}

	return e, nil
}

// withSession runs fn with the session exclusively locked
func (m *Manager) withSession(id string, fn func(e *entry) error) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return fmt.Errorf("session %q: %w", id, game.ErrSessionNotFound)
	}

	return fn(e)
}

// finishLocked stops the driver of a session that just finished and announces
// the result. The caller holds e.mu.
func (m *Manager) finishLocked(id string, e *entry) game.Snapshot {
	e.stopDriver()
	e.finished.Store(true)

	snap := e.session.Snapshot()
	m.publish(events.EventSessionFinished, id, snap)

	return snap
}

func (m *Manager) publish(eventType events.EventType, id string, payload interface{}) {
	m.sink.Publish(events.Event{Type: eventType, SessionID: id, Payload: payload})
}
