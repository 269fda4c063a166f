package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/feedstream/internal/model"
)

// Errors
var (
	ErrNotConnected    = fmt.Errorf("%w: not connected", model.ErrTransport)
	ErrStaleConnection = fmt.Errorf("%w: connection stale (no ping/pong)", model.ErrTransport)
	ErrAlreadyClosed   = errors.New("already closed")
)

// FrameKind classifies a received frame.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FrameClosed
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClosed:
		return "closed"
	}
	return "unknown"
}

// Frame is one unit read from the connection.
// A FrameClosed frame is always the last one a Client produces.
type Frame struct {
	Kind       FrameKind
	Data       []byte    // Payload for text/binary frames
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned

	// Closed frames only
	CloseCode   int    // WebSocket close code, 0 if the transport failed without one
	CloseReason string // Close reason sent by the peer
	Err         error  // Cause of closure (nil after a local Close)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://hermes.pyth.network/ws)
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // How often to send keepalive pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max message size in bytes (0 = unlimited)
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}
