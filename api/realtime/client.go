package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write to a slow peer
	writeWait = 10 * time.Second
	// pongWait is how long the peer may stay silent before it is dropped
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound frames, clients only submit through REST
	maxMessageSize = 4096
	// sendQueueSize is how many frames may wait for a peer before it is dropped
	sendQueueSize = 64
)

var (
	// ErrClientClosed is returned when sending to a connection that already closed
	ErrClientClosed = errors.New("live connection closed")
	// ErrClientSlow is returned when a peer fell so far behind that its send
	// queue filled up. The connection is closed.
	ErrClientSlow = errors.New("live connection send queue full")
)

// Client is one upgraded websocket bound to a single chat session for its
// whole lifetime. Frames are queued by Send and written by a single writer
// goroutine, so publishing never waits on the network.
type Client struct {
	id        string
	sessionID string
	ws        *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded websocket for sessionID
func NewClient(sessionID string, ws *websocket.Conn) *Client {
	return &Client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the connection id used in logs
func (c *Client) ID() string {
	return c.id
}

// Send queues one text frame without blocking. A peer whose queue is full is
// closed so the read loop in Serve ends and the registry is cleaned up.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		_ = c.Close()
		return fmt.Errorf("%w: %s", ErrClientSlow, c.id)
	}
}

// Close stops the writer, which sends a close frame and releases the
// underlying connection. Calling it more than once is safe.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with pings. It is the only goroutine writing data frames.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				zap.S().Debugw("live connection write failed",
					"sessionId", c.sessionID,
					"connId", c.id,
					"error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Serve registers the client, acknowledges the registration and then blocks
// reading until the peer goes away or the connection errors. The client is
// unregistered on every exit path.
func (c *Client) Serve(registry *Registry) {
	go c.writePump()
	registry.Register(c.sessionID, c)
	zap.S().Infow("live connection opened",
		"sessionId", c.sessionID,
		"connId", c.id)

	defer func() {
		registry.Unregister(c.sessionID, c)
		_ = c.Close()
		zap.S().Infow("live connection closed",
			"sessionId", c.sessionID,
			"connId", c.id)
	}()

	ack, _ := json.Marshal(Event{
		Event: EventConnected,
		Data: map[string]string{
			"sessionId":    c.sessionID,
			"connectionId": c.id,
		},
	})
	if err := c.Send(ack); err != nil {
		return
	}

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.S().Debugw("live connection read error",
					"sessionId", c.sessionID,
					"connId", c.id,
					"error", err)
			}
			return
		}
	}
}
