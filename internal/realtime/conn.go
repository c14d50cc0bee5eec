package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/markb/filepulse/internal/auth"
	"github.com/markb/filepulse/internal/log"
)

const (
	// Send buffer size for outbound messages
	sendBufferSize = 256

	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message
	pongWait = 30 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size
	maxMessageSize = 64 * 1024 // 64KB
)

// Conn is one authenticated WebSocket connection. It carries the verified
// identity and tracks the single file the connection is currently bound to
// as a viewer.
type Conn struct {
	id       string
	ws       *websocket.Conn
	hub      *Hub
	identity *auth.Identity

	mu      sync.Mutex
	viewing string // fileID currently bound, "" if none

	send      chan []byte // outbound message queue
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a connection for a verified identity and registers it
// with the hub.
func (h *Hub) NewConn(ws *websocket.Conn, identity *auth.Identity) *Conn {
	conn := &Conn{
		id:       uuid.New().String(),
		ws:       ws,
		hub:      h,
		identity: identity,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
	h.registerConn(conn)
	return conn
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the verified identity behind the connection.
func (c *Conn) Identity() *auth.Identity {
	return c.identity
}

// setViewing records the file this connection is bound to.
func (c *Conn) setViewing(fileID string) {
	c.mu.Lock()
	c.viewing = fileID
	c.mu.Unlock()
}

// clearViewing clears the binding if it still points at fileID.
func (c *Conn) clearViewing(fileID string) {
	c.mu.Lock()
	if c.viewing == fileID {
		c.viewing = ""
	}
	c.mu.Unlock()
}

// currentViewing returns the file this connection is bound to, if any.
func (c *Conn) currentViewing() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewing
}

// Send queues a message for sending. Sends never block: a full buffer drops
// the message so one slow client cannot stall presence updates for others.
func (c *Conn) Send(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return nil // connection closed
	default:
		log.Warn("realtime: send buffer full, dropping message", "conn_id", c.id, "event", msg.Event)
		return nil
	}
}

// Close tears the connection down and removes its viewer records everywhere.
// Idempotent; this is the sole cleanup path for abrupt disconnects.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
		if c.hub != nil {
			c.hub.dropConn(c)
		}
	})
}

// ReadPump reads messages from the WebSocket connection.
func (c *Conn) ReadPump() {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("realtime: read error", "conn_id", c.id, "error", err.Error())
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			// A malformed frame is dropped, never fatal for the connection.
			log.Debug("realtime: invalid message", "conn_id", c.id, "error", err.Error(), "len", len(data))
			continue
		}

		c.handleMessage(msg)
	}
}

// WritePump writes messages to the WebSocket connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleMessage routes incoming messages to the presence handlers. Malformed
// events are dropped silently; nothing here may propagate an error back to
// the transport.
func (c *Conn) handleMessage(msg *Message) {
	log.Debug("realtime: handleMessage", "conn_id", c.id, "event", msg.Event)

	switch msg.Event {
	case EventHeartbeat:
		c.Send(&Message{Event: EventHeartbeat})
	case EventStartViewing:
		var req ViewRequest
		if err := msg.Decode(&req); err != nil || req.FileID == "" {
			log.Debug("realtime: start-viewing missing fileId", "conn_id", c.id)
			return
		}
		c.hub.handleStartViewing(c, req.FileID)
	case EventStopViewing:
		var req ViewRequest
		if err := msg.Decode(&req); err != nil || req.FileID == "" {
			log.Debug("realtime: stop-viewing missing fileId", "conn_id", c.id)
			return
		}
		c.hub.handleStopViewing(c, req.FileID)
	default:
		log.Debug("realtime: unknown event", "conn_id", c.id, "event", msg.Event)
	}
}
