package feed

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStopped         = errors.New("transport stopped")
)

// State is the transport connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// RawMessage wraps one inbound frame with its receive timestamp.
type RawMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// controlFrame is an outbound subscribe/unsubscribe command.
type controlFrame struct {
	Type      string   `json:"type"` // "subscribe" or "unsubscribe"
	AssetsIDs []string `json:"assets_ids"`
}

// ClientConfig configures a single WebSocket connection.
type ClientConfig struct {
	URL          string        // WebSocket URL
	PingInterval time.Duration // Keep-alive probe interval
	PingTimeout  time.Duration // Max time without ping/pong before stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 10 * time.Second,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// Config configures the Transport.
type Config struct {
	URL                string        // WebSocket URL
	PingInterval       time.Duration // Keep-alive probe interval
	PingTimeout        time.Duration // Max time without ping/pong before stale
	WriteTimeout       time.Duration // Write deadline for sends
	ReconnectBaseDelay time.Duration // Base wait before reconnecting
	ReconnectMaxDelay  time.Duration // Cap on the reconnect wait
	BufferSize         int           // Buffer size for the output frame channel
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:       10 * time.Second,
		PingTimeout:        30 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		BufferSize:         10000,
	}
}

// Stats is a snapshot of transport health, exposed for external checks.
type Stats struct {
	State               State
	ConsecutiveFailures int64
	Reconnects          int64
	LastConnectedAt     time.Time
}
