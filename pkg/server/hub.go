// Package server is the websocket transport in front of the session registry
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/internal/color"
	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/manager"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/rules"
)

// Error codes produced by the transport itself
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeUnknownMessage = "UNKNOWN_MESSAGE"
	CodeIllegalMove    = "ILLEGAL_MOVE"
)

// eventBuffer is the fast path for events waiting to be forwarded. Past it,
// clock ticks are shed and lifecycle events wait in the sink's overflow.
const eventBuffer = 1024

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // decoded envelope
	Err     error                   // set when the frame was not valid JSON
}

// Hub keeps track of all active connections and the sessions they follow.
// Every map is owned by the Run goroutine; inbound messages are handled one at
// a time, so a move is validated and applied against the same position.
type Hub struct {
	mu          sync.RWMutex           // protects connections for readers outside Run
	connections map[string]*Connection // Registered connections
	watchers    map[string]map[string]*Connection

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Channel of inbound messages to route
	events     *events.ChannelSink

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	manager *manager.Manager
	rules   rules.Engine
	results ResultStore
	logger  *zap.Logger
}

// ResultStore looks up sessions that already left the registry
type ResultStore interface {
	Get(id string) (game.Snapshot, error)
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithResults lets GET_SESSION answer for finished sessions that were reaped
func WithResults(store ResultStore) HubOption {
	return func(h *Hub) {
		h.results = store
	}
}

// NewHub creates a new hub and subscribes it to every registry event
func NewHub(m *manager.Manager, engine rules.Engine, publisher *events.Publisher, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		connections: make(map[string]*Connection),
		watchers:    make(map[string]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage),
		events:      events.NewChannelSink(eventBuffer, events.EventClockTick),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		manager:     m,
		rules:       engine,
		logger:      logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	publisher.SubscribeAll(h.events.Publish)

	return h
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case ev := <-h.events.Events():
			h.forward(ev)

		case <-h.events.Overflowed():
			for _, ev := range h.events.Drain() {
				h.forward(ev)
			}

		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

// Register adds a connection to the hub
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister removes a connection and takes it out of its session
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Dispatch hands an inbound message to the hub
func (h *Hub) Dispatch(msg InboundHubMessage) {
	select {
	case h.inbound <- msg:
	case <-h.done:
	}
}

// Connections returns the number of registered connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown stops Run and closes every connection. Run must have been started.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
	<-h.done

	if dropped := h.events.Dropped(); dropped > 0 {
		h.logger.Info("clock ticks shed while forwarding", zap.Int64("dropped", dropped))
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	count := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("new connection registered",
		zap.String("connection_id", conn.ID),
		zap.Int("connections", count),
	)

	h.sendMessage(conn, messages.EventConnected, messages.ConnectedPayload{ConnectionID: conn.ID})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn.ID]
	delete(h.connections, conn.ID)
	count := len(h.connections)
	h.mu.Unlock()

	if !ok {
		return
	}

	for id, conns := range h.watchers {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(h.watchers, id)
		}
	}
	conn.closeSend()

	if _, err := h.manager.RemoveParticipant(conn.ID); err != nil && !errors.Is(err, game.ErrNotAParticipant) {
		h.logger.Error("failed to remove participant", zap.String("connection_id", conn.ID), zap.Error(err))
	}

	h.logger.Info("connection unregistered",
		zap.String("connection_id", conn.ID),
		zap.Int("connections", count),
	)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.connections {
		conn.closeSend()
		delete(h.connections, id)
	}
	h.watchers = make(map[string]map[string]*Connection)
}

// handleInbound decodes the payload and routes it to the registry
func (h *Hub) handleInbound(msg InboundHubMessage) {
	if msg.Err != nil {
		h.sendError(msg.Conn, CodeInvalidMessage, "message is not valid JSON")
		return
	}

	switch msg.Message.Type {
	case messages.TypeCreateSession:
		var payload messages.CreateSessionPayload
		if !h.decode(msg, &payload) {
			return
		}
		h.createSession(msg.Conn, payload)

	case messages.TypeJoinSession:
		var payload messages.JoinSessionPayload
		if !h.decode(msg, &payload) {
			return
		}
		h.joinSession(msg.Conn, payload)

	case messages.TypeMakeMove:
		var payload messages.MakeMovePayload
		if !h.decode(msg, &payload) {
			return
		}
		h.makeMove(msg.Conn, payload)

	case messages.TypeResign:
		var payload messages.SessionRefPayload
		if !h.decode(msg, &payload) {
			return
		}
		if _, err := h.manager.Resign(payload.SessionID, msg.Conn.ID); err != nil {
			h.sendGameError(msg.Conn, err)
		}

	case messages.TypeGetSession:
		var payload messages.SessionRefPayload
		if !h.decode(msg, &payload) {
			return
		}
		h.getSession(msg.Conn, payload.SessionID)

	default:
		h.sendError(msg.Conn, CodeUnknownMessage, fmt.Sprintf("unknown message type %q", msg.Message.Type))
	}
}

func (h *Hub) createSession(conn *Connection, payload messages.CreateSessionPayload) {
	snap, err := h.manager.CreateSession(payload.SessionID, payload.TimeControl)
	if err != nil {
		h.sendGameError(conn, err)
		return
	}

	h.watch(snap.ID, conn)
	h.sendMessage(conn, messages.EventSessionCreated, snap)
}

func (h *Hub) joinSession(conn *Connection, payload messages.JoinSessionPayload) {
	side, snap, err := h.manager.JoinSession(payload.SessionID, conn.ID, payload.Name)
	if err != nil {
		h.sendGameError(conn, err)
		return
	}

	h.watch(snap.ID, conn)
	h.sendMessage(conn, messages.EventSessionJoined, messages.JoinedPayload{Color: side, Session: snap})
}

func (h *Hub) getSession(conn *Connection, id string) {
	snap, err := h.manager.GetSession(id)
	if errors.Is(err, game.ErrSessionNotFound) && h.results != nil {
		if stored, lookupErr := h.results.Get(id); lookupErr == nil {
			snap, err = stored, nil
		}
	}
	if err != nil {
		h.sendGameError(conn, err)
		return
	}

	h.sendMessage(conn, messages.EventSessionState, snap)
}

// makeMove validates the move against the current position before recording it
func (h *Hub) makeMove(conn *Connection, payload messages.MakeMovePayload) {
	snap, err := h.manager.GetSession(payload.SessionID)
	if err != nil {
		h.sendGameError(conn, err)
		return
	}

	if err := checkTurn(snap, conn.ID); err != nil {
		h.sendGameError(conn, err)
		return
	}

	result, err := h.rules.Apply(snap.Position, payload.Move)
	if errors.Is(err, rules.ErrInvalidPosition) {
		h.logger.Error("session holds an unreadable position",
			zap.String("session_id", snap.ID),
			zap.String("fen", snap.Position),
			zap.Error(err),
		)
		h.sendError(conn, "INTERNAL", "session position is corrupt")
		return
	}
	if err != nil {
		h.logger.Debug("rejected move",
			zap.String("session_id", snap.ID),
			zap.String("move", payload.Move),
			zap.Error(err),
		)
		h.sendError(conn, CodeIllegalMove, err.Error())
		return
	}

	if _, err := h.manager.ApplyMove(snap.ID, conn.ID, result.Move, result.Position); err != nil {
		h.sendGameError(conn, err)
		return
	}

	if result.Outcome == nil {
		return
	}

	if _, err := h.manager.Conclude(snap.ID, *result.Outcome); err != nil {
		// the clock may have flagged in between
		h.logger.Warn("failed to conclude session",
			zap.String("session_id", snap.ID),
			zap.Error(err),
		)
	}
}

// checkTurn rejects moves that the registry would refuse, so that a move made
// out of turn is not reported as illegal by the rules engine
func checkTurn(snap game.Snapshot, connID string) error {
	if snap.Status != game.StatusActive {
		return fmt.Errorf("move in %s: %w", snap.ID, game.ErrSessionNotActive)
	}

	var side color.Color
	switch {
	case snap.White != nil && snap.White.ConnectionID == connID:
		side = color.White
	case snap.Black != nil && snap.Black.ConnectionID == connID:
		side = color.Black
	default:
		return fmt.Errorf("move in %s: %w", snap.ID, game.ErrNotAParticipant)
	}

	if side != snap.Turn {
		return fmt.Errorf("move in %s: %w", snap.ID, game.ErrNotYourTurn)
	}

	return nil
}

// forward sends a registry event to every connection following the session
func (h *Hub) forward(ev events.Event) {
	if ev.Type == events.EventSessionCreated {
		return
	}

	conns := h.watchers[ev.SessionID]
	if ev.Type == events.EventSessionReaped {
		delete(h.watchers, ev.SessionID)
	}
	if len(conns) == 0 {
		return
	}

	msg := messages.OutboundMessage{Event: string(ev.Type), Payload: outboundPayload(ev)}
	tick := ev.Type == events.EventClockTick
	for _, conn := range conns {
		conn.queueJSON(msg, tick)
	}
}

func outboundPayload(ev events.Event) interface{} {
	switch p := ev.Payload.(type) {
	case chess.ClockState:
		return messages.ClockUpdatePayload{
			SessionID:   ev.SessionID,
			WhiteTime:   p.White,
			BlackTime:   p.Black,
			ActiveColor: string(p.ActiveColor),
		}
	case manager.TimeUpPayload:
		return messages.TimeupPayload{SessionID: ev.SessionID, Color: string(p.Color)}
	case manager.PlayerPayload:
		if ev.Type == events.EventPlayerLeft {
			return messages.PlayerLeftPayload{SessionID: ev.SessionID, Color: p.Color, Session: p.Session}
		}
		return p
	default:
		return p
	}
}

func (h *Hub) watch(sessionID string, conn *Connection) {
	conns, ok := h.watchers[sessionID]
	if !ok {
		conns = make(map[string]*Connection)
		h.watchers[sessionID] = conns
	}
	conns[conn.ID] = conn
}

func (h *Hub) decode(msg InboundHubMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Message.Payload, v); err != nil {
		h.sendError(msg.Conn, CodeInvalidPayload, fmt.Sprintf("invalid %s payload", msg.Message.Type))
		return false
	}
	return true
}

func (h *Hub) sendGameError(conn *Connection, err error) {
	h.sendError(conn, game.Code(err), err.Error())
}

func (h *Hub) sendError(conn *Connection, code, msg string) {
	h.sendMessage(conn, messages.EventError, messages.ErrorPayload{Code: code, Message: msg})
}

func (h *Hub) sendMessage(conn *Connection, event string, payload interface{}) {
	conn.SendJSON(messages.OutboundMessage{Event: event, Payload: payload})
}
