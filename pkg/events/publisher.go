// Package events carries session state changes out of the registry
package events

import "sync"

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventSessionCreated  EventType = "SESSION_CREATED"
	EventPlayerJoined    EventType = "PLAYER_JOINED"
	EventSessionStarted  EventType = "SESSION_STARTED"
	EventMoveApplied     EventType = "MOVE_APPLIED"
	EventClockTick       EventType = "CLOCK_TICK"
	EventTimeUp          EventType = "TIME_UP"
	EventSessionFinished EventType = "SESSION_FINISHED"
	EventPlayerLeft      EventType = "PLAYER_LEFT"
	EventSessionReaped   EventType = "SESSION_REAPED"
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	SessionID string
	Payload   interface{}
}

// Sink receives every event the registry emits. Publish is called while the
// session that produced the event is locked, so implementations must not
// block and must not call back into the registry.
type Sink interface {
	Publish(event Event)
}

// Handler is a function that processes events
type Handler func(event Event)

// Publisher is the central event publisher
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	all         []Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.all = append(p.all, handler)
}

// Publish hands the event to the type handlers, then to the catch-all
// handlers, in registration order and on the caller's goroutine.
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	allHandlers := p.all
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}

	for _, handler := range allHandlers {
		handler(event)
	}
}

// ChannelSink buffers events for a single consumer. When the buffer is full
// the sheddable event types are dropped and counted; every other event waits
// in an overflow, so lifecycle events are never lost.
type ChannelSink struct {
	queue     *Queue[Event]
	sheddable map[EventType]bool
}

// NewChannelSink creates a sink with the given buffer size. Only the listed
// event types may be dropped under pressure.
func NewChannelSink(buffer int, sheddable ...EventType) *ChannelSink {
	s := &ChannelSink{
		queue:     NewQueue[Event](buffer, 0),
		sheddable: make(map[EventType]bool, len(sheddable)),
	}
	for _, t := range sheddable {
		s.sheddable[t] = true
	}
	return s
}

// Publish enqueues the event without blocking
func (c *ChannelSink) Publish(event Event) {
	c.queue.Push(event, c.sheddable[event.Type])
}

// Events returns the receive side of the buffer
func (c *ChannelSink) Events() <-chan Event {
	return c.queue.C()
}

// Overflowed fires when events are waiting behind a full buffer; collect
// them with Drain
func (c *ChannelSink) Overflowed() <-chan struct{} {
	return c.queue.Ready()
}

// Drain returns the buffered and overflowed events in publish order
func (c *ChannelSink) Drain() []Event {
	return c.queue.Drain()
}

// Dropped returns how many sheddable events did not fit in the buffer
func (c *ChannelSink) Dropped() int64 {
	return c.queue.Dropped()
}

// Discard is a sink that ignores every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}
