package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/feedstream/internal/model"
)

// Client represents a single WebSocket connection to a push endpoint.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. Safe to call more than once.
	Close() error

	// Send writes one text message to the connection.
	Send(data []byte) error

	// Receive blocks until the next frame arrives, the connection closes, or ctx is done.
	// After the connection closes every call returns a FrameClosed frame.
	Receive(ctx context.Context) Frame

	// IsConnected returns current connection state.
	IsConnected() bool
}

// DialFunc connects a new Client. Ingesters call it once per session.
type DialFunc func(ctx context.Context) (Client, error)

// Dialer returns a DialFunc that builds and connects clients with cfg.
func Dialer(cfg ClientConfig, logger *slog.Logger) DialFunc {
	return func(ctx context.Context) (Client, error) {
		c := NewClient(cfg, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output
	frames chan Frame
	done   chan struct{}
	final  Frame // Closed frame replayed after frames is drained

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPingAt time.Time
	closeCause error
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		done:   make(chan struct{}),
		final:  Frame{Kind: FrameClosed, Err: ErrAlreadyClosed},
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect called twice", model.ErrInvalidArgument)
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", model.ErrTransport, c.cfg.URL, err)
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		err := conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Server responds to our keepalive ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	return c.shutdown(nil)
}

func (c *client) shutdown(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.closeCause = cause
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		close(c.frames)
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	// Unblocks ReadMessage; readLoop emits the Closed frame.
	return conn.Close()
}

// Send writes one text message.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: send: %w", model.ErrTransport, err)
	}
	return nil
}

// Receive returns the next frame.
func (c *client) Receive(ctx context.Context) Frame {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return c.final
		}
		if f.Kind == FrameClosed {
			c.final = f
		}
		return f
	case <-ctx.Done():
		return Frame{Kind: FrameClosed, Err: ctx.Err(), ReceivedAt: time.Now()}
	}
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// readLoop reads frames until the connection fails or is closed, then emits
// exactly one Closed frame and closes the channel.
func (c *client) readLoop() {
	defer close(c.frames)

	for {
		msgType, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.mu.Lock()
			c.connected = false
			cause := c.closeCause
			locallyClosed := c.closed
			c.mu.Unlock()

			f := Frame{Kind: FrameClosed, ReceivedAt: receivedAt}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				f.CloseCode = ce.Code
				f.CloseReason = ce.Text
			}
			switch {
			case cause != nil:
				f.Err = cause
			case !locallyClosed:
				f.Err = fmt.Errorf("%w: read: %w", model.ErrTransport, err)
			}

			// Always deliverable: the reader either drains the buffer or stops reading.
			select {
			case c.frames <- f:
			default:
				c.logger.Warn("frame buffer full, dropping close frame")
			}
			return
		}

		f := Frame{Kind: FrameText, Data: data, ReceivedAt: receivedAt}
		if msgType == websocket.BinaryMessage {
			f.Kind = FrameBinary
		}

		select {
		case c.frames <- f:
		case <-c.done:
			// Keep reading so the Closed frame is produced once the conn is torn down.
		}
	}
}

// heartbeatLoop sends keepalive pings and detects stale connections.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.shutdown(ErrStaleConnection)
				return
			}
		}
	}
}
