package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codraft/internal/protocol"
)

// Status is the connection lifecycle as seen by the host application.
// Reconnecting is transient and resolved internally; it never escalates to
// a hard failure.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ConnectionError wraps a handshake or transport failure.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string { return "connection failed: " + e.Cause.Error() }
func (e *ConnectionError) Unwrap() error { return e.Cause }

const (
	defaultHeartbeatInterval = 4 * time.Second
	defaultRetryDelay        = 5 * time.Second
)

// ConnOptions configures a Conn. HeartbeatInterval and RetryDelay default
// to 4s and 5s; both are fixed-rate, not exponential.
type ConnOptions struct {
	URL               string
	Token             string
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration

	// OnEvent receives every decoded inbound event, sequentially from the
	// single read loop.
	OnEvent func(protocol.Event)
	// OnStatus receives lifecycle transitions. A session that wants to stay
	// on a document after a drop must re-issue join when StatusConnected
	// arrives again; bare reconnection restores nothing.
	OnStatus func(Status)
}

// Conn owns the one multiplexed realtime connection of a client session.
// Publishes are fire-and-forget: while disconnected they are dropped, not
// queued. Reconnection retries forever at the fixed delay until Disconnect.
type Conn struct {
	opts ConnOptions

	mu      sync.Mutex
	ws      *websocket.Conn
	status  Status
	closed  bool
	dialing bool
	writeMu sync.Mutex
}

func NewConn(opts ConnOptions) *Conn {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Conn{opts: opts}
}

// Connect establishes the underlying connection. Calling while already
// connected, while another Connect is dialing, or while a reconnect is in
// flight is a no-op. A rejected handshake, e.g. an invalid token, returns a
// ConnectionError.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDisconnected || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.closed = false
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
		return &ConnectionError{Cause: err}
	}

	// Status flips to connected inside start; only then may another Connect
	// observe it, so the guard drops after.
	c.start(ws)
	c.mu.Lock()
	c.dialing = false
	c.mu.Unlock()
	return nil
}

// Disconnect tears the connection down and stops reconnection. Safe to call
// when already disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	prev := c.status
	c.status = StatusDisconnected
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	if prev != StatusDisconnected {
		c.notify(StatusDisconnected)
	}
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Publish sends an intent if connected and silently drops it otherwise.
// Best-effort by design: cursor, chat, and edit signals carry no delivery
// guarantee.
func (c *Conn) Publish(intent protocol.Intent) {
	c.mu.Lock()
	ws := c.ws
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || ws == nil {
		return
	}

	data, err := protocol.EncodeIntent(intent)
	if err != nil {
		log.Printf("channel: drop unencodable intent: %v", err)
		return
	}

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		// The read loop observes the same failure and drives reconnection.
		log.Printf("channel: publish failed: %v", err)
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return ws, nil
}

func (c *Conn) start(ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.status = StatusConnected
	c.mu.Unlock()
	c.notify(StatusConnected)

	pongWait := c.opts.HeartbeatInterval*2 + c.opts.HeartbeatInterval/2
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go c.heartbeat(ws, done)
	go c.readLoop(ws, done)
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		event, err := protocol.DecodeEvent(data)
		if err != nil {
			log.Printf("channel: drop undecodable frame: %v", err)
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(event)
		}
	}
	close(done)
	_ = ws.Close()

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	closed := c.closed
	if !closed {
		c.status = StatusReconnecting
	}
	c.mu.Unlock()

	if closed {
		return
	}
	c.notify(StatusReconnecting)
	go c.reconnectLoop()
}

func (c *Conn) heartbeat(ws *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.HeartbeatInterval)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) reconnectLoop() {
	for {
		time.Sleep(c.opts.RetryDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ws, err := c.dial(context.Background())
		if err != nil {
			log.Printf("channel: reconnect failed, retrying in %s: %v", c.opts.RetryDelay, err)
			continue
		}
		c.start(ws)
		return
	}
}

func (c *Conn) notify(status Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(status)
	}
}
