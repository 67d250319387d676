package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/messages"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	sendBuffer = 256
	// maxPending caps the overflow of a client that stopped reading; the
	// ping deadline closes such a client long before it fills up
	maxPending = 4096
)

// Connection is one websocket client. The hub owns its send queue.
type Connection struct {
	ID   string
	ws   *websocket.Conn       // The underlying Websocket connection
	hub  *Hub
	send *events.Queue[[]byte] // Outbound messages; clock updates may be shed

	logger *zap.Logger
}

// NewConnection wraps an upgraded websocket
func NewConnection(ws *websocket.Conn, hub *Hub, logger *zap.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:     id,
		ws:     ws,
		hub:    hub,
		send:   events.NewQueue[[]byte](sendBuffer, maxPending),
		logger: logger.With(zap.String("connection_id", id)),
	}
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("read error", zap.Error(err))
			}
			break
		}

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Warn("failed to parse inbound JSON", zap.Error(err))
			c.hub.Dispatch(InboundHubMessage{Conn: c, Err: err})
			continue
		}

		c.hub.Dispatch(InboundHubMessage{Conn: c, Message: inbound})
	}
}

// WritePump handles outbound messages to the client and keeps it alive with pings
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send.C():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Queue closed by the hub
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				c.logger.Debug("send queue closed for connection")
				return
			}

			if !c.write(message) {
				return
			}

		case <-c.send.Ready():
			for _, message := range c.send.Drain() {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if !c.write(message) {
					return
				}
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(message []byte) bool {
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error("write error", zap.Error(err))
		return false
	}
	return true
}

// SendJSON queues v for this connection without blocking the hub
func (c *Connection) SendJSON(v interface{}) {
	c.queueJSON(v, false)
}

// queueJSON queues v; a sheddable message is dropped when the client is behind
func (c *Connection) queueJSON(v interface{}, sheddable bool) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return
	}

	if !c.send.Push(data, sheddable) && !sheddable {
		c.logger.Warn("client too far behind, dropping message")
	}
}

func (c *Connection) closeSend() {
	c.send.Close()
}
