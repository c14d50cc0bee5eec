package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/markb/filepulse/internal/log"
	"github.com/markb/filepulse/internal/realtime"
)

// ErrReconnectExhausted is returned by Run when the bounded reconnect
// attempts are used up. This is terminal; the caller decides whether to
// surface it or start over with a fresh Run.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Config holds client configuration.
type Config struct {
	URL   string // websocket endpoint
	Token string // viewer credential

	MaxAttempts int           // consecutive failed dials before giving up
	BaseDelay   time.Duration // first retry delay, doubled per attempt
	MaxDelay    time.Duration // retry delay cap

	// OnEvent, if set, observes every event after it is applied to the store.
	OnEvent func(Event)
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Client maintains a presence connection. On unexpected disconnection it
// retries with increasing delay, and after every successful reconnect it
// re-issues start-viewing for the locally tracked file: the server has no
// memory of the old connection, so a new connection id is a clean slate.
type Client struct {
	cfg   Config
	store *Store

	mu sync.Mutex
	ws *websocket.Conn
}

// New creates a client. Defaults are applied for zero retry settings.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Client{
		cfg:   cfg,
		store: NewStore(),
	}
}

// Store returns the client's presence store.
func (c *Client) Store() *Store {
	return c.store
}

// Run connects and processes events until ctx is cancelled or reconnection
// is exhausted. It blocks; run it in its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		ws, err := c.dial(ctx)
		if err != nil {
			attempts++
			if attempts >= c.cfg.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempts, err)
			}
			delay := backoffDelay(attempts, c.cfg.BaseDelay, c.cfg.MaxDelay)
			log.Debug("client: dial failed, retrying", "attempt", attempts, "delay", delay.String(), "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}
		attempts = 0

		c.setConn(ws)
		c.resubscribe()

		err = c.readLoop(ctx, ws)
		c.setConn(nil)
		ws.Close()

		if ctx.Err() != nil {
			return nil
		}
		log.Debug("client: connection lost", "error", err.Error())
	}
}

// StartViewing marks fileID as the locally viewed file and notifies the
// server. The local state is updated immediately, before any server
// round trip.
func (c *Client) StartViewing(fileID string) error {
	c.store.SetViewing(fileID)
	return c.send(realtime.NewViewRequest(realtime.EventStartViewing, fileID))
}

// StopViewing clears the local binding and notifies the server.
func (c *Client) StopViewing(fileID string) error {
	c.store.ClearViewing(fileID)
	return c.send(realtime.NewViewRequest(realtime.EventStopViewing, fileID))
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL+"?token="+c.cfg.Token, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return ws, nil
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

// send writes a message if connected. When disconnected the write is skipped
// silently: the viewing state is already recorded locally and resubscribe
// replays it once a connection is back.
func (c *Client) send(msg *realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return nil
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// resubscribe re-issues start-viewing for the locally tracked file. Mandatory
// after every reconnect, not just the first connect.
func (c *Client) resubscribe() {
	if fileID := c.store.Viewing(); fileID != "" {
		if err := c.send(realtime.NewViewRequest(realtime.EventStartViewing, fileID)); err != nil {
			log.Debug("client: resubscribe failed", "file_id", fileID, "error", err.Error())
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := realtime.DecodeMessage(data)
		if err != nil {
			log.Debug("client: invalid message", "error", err.Error())
			continue
		}

		event, ok := toEvent(msg)
		if !ok {
			continue
		}
		c.store.Apply(event)
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(event)
		}
	}
}

// toEvent maps a wire message to a store event.
func toEvent(msg *realtime.Message) (Event, bool) {
	switch msg.Event {
	case realtime.EventViewersUpdated:
		var payload realtime.ViewersUpdated
		if err := msg.Decode(&payload); err != nil {
			return nil, false
		}
		return ViewersSet{FileID: payload.FileID, Viewers: payload.Viewers}, true

	case realtime.EventViewerJoined:
		var payload realtime.ViewerJoined
		if err := msg.Decode(&payload); err != nil {
			return nil, false
		}
		return ViewerJoined{FileID: payload.FileID, Viewer: payload.Viewer}, true

	case realtime.EventViewerLeft:
		var payload realtime.ViewerLeft
		if err := msg.Decode(&payload); err != nil {
			return nil, false
		}
		return ViewerLeft{FileID: payload.FileID, UserID: payload.UserID}, true
	}
	return nil, false
}

// backoffDelay returns the delay before the given retry attempt (1-based),
// doubling from base and capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
