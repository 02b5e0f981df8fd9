package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client maintains a device's connection to a relay room, reconnecting
// with bounded exponential backoff when the transport drops. Frames are
// opaque to the client exactly as they are to the relay.
type Client struct {
	addr  string // ws:// or wss:// base address of the relay endpoint
	room  string
	token string

	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu sync.Mutex
	ws *websocket.Conn
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBackoff bounds the reconnection delay window.
func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

// NewClient creates a client for one room on one relay.
func NewClient(addr, room, token string, opts ...ClientOption) *Client {
	c := &Client{
		addr:       addr,
		room:       room,
		token:      token,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run connects and forwards every received payload frame to onFrame until
// ctx is cancelled. Transport drops trigger reconnection with exponential
// backoff; authorization failures are terminal.
func (c *Client) Run(ctx context.Context, onFrame func([]byte)) error {
	backoff := c.minBackoff
	for {
		err := c.runOnce(ctx, onFrame)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if isTerminal(err) {
			return err
		}

		c.logger.Info("relay connection lost, reconnecting",
			"room", c.room, "backoff", backoff.String(), "err", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// Send forwards one opaque binary frame to the room. Fails if the client
// is not currently connected. Safe for concurrent use: the websocket
// permits only one writer at a time, so the mutex is held across the
// write itself.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (c *Client) runOnce(ctx context.Context, onFrame func([]byte)) error {
	u, err := url.Parse(c.addr)
	if err != nil {
		return fmt.Errorf("parsing relay address: %w", err)
	}
	q := u.Query()
	q.Set("room", c.room)
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer ws.Close()

	// The server acknowledges the join before any payload flows.
	if err := awaitConnected(ws); err != nil {
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		switch msgType {
		case websocket.BinaryMessage:
			onFrame(frame)
		case websocket.TextMessage:
			if err := controlError(frame); err != nil {
				return err
			}
		}
	}
}

func awaitConnected(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer ws.SetReadDeadline(time.Time{})

	msgType, frame, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if msgType != websocket.TextMessage {
		return fmt.Errorf("%w: expected control frame before payload", ErrTransport)
	}
	var cf controlFrame
	if err := json.Unmarshal(frame, &cf); err != nil {
		return fmt.Errorf("%w: bad control frame", ErrTransport)
	}
	if cf.Type == "connected" {
		return nil
	}
	if err := controlError(frame); err != nil {
		return err
	}
	return fmt.Errorf("%w: unexpected control frame %q", ErrTransport, cf.Type)
}

func controlError(frame []byte) error {
	var cf controlFrame
	if err := json.Unmarshal(frame, &cf); err != nil || cf.Type != "error" {
		return nil
	}
	switch cf.Code {
	case CodeUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, cf.Message)
	case CodeTokenExpired:
		return fmt.Errorf("%w: %s", ErrTokenExpired, cf.Message)
	case CodeCapacityExceeded:
		return fmt.Errorf("%w: %s", ErrRoomFull, cf.Message)
	default:
		return fmt.Errorf("%w: %s: %s", ErrTransport, cf.Code, cf.Message)
	}
}

func isTerminal(err error) bool {
	for _, terminal := range []error{ErrUnauthorized, ErrTokenExpired, ErrInvalidToken} {
		if errors.Is(err, terminal) {
			return true
		}
	}
	return false
}
