package domain

import (
	"context"
	"time"
)

// StreamClient is the contract for a push-transport client. Each
// implementation owns no business logic beyond parsing wire frames into
// raw events and publishing them on the event bus.
type StreamClient interface {
	// Connect begins an async connection attempt. Idempotent if
	// already connected or connecting.
	Connect(ctx context.Context) error

	// Disconnect tears down the transport and cancels any pending
	// reconnect timer. Safe to call when not connected.
	Disconnect() error

	// State returns the current connection state.
	State() ConnState
}

// ConnState is the connection lifecycle state of a stream client.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnError        ConnState = "error"
)

// ConnectionEvent is published on TopicConnection for every state
// transition and for soft errors such as failed verdict reports.
type ConnectionEvent struct {
	State     ConnState `json:"state"`
	Transport string    `json:"transport"`
	Message   string    `json:"message,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// VerdictReporter reports a fraud verdict back upstream. Best effort:
// failures must never block or fail ingestion of subsequent events.
type VerdictReporter interface {
	Report(ctx context.Context, transactionID, verdict string)
}

// StreamConfig holds configuration for stream client initialization.
type StreamConfig struct {
	// Transport is the client type: "sse" or "websocket"
	Transport string

	// Endpoint is the push feed URL.
	Endpoint string

	// APIKey is sent as the X-API-Key header on every connection
	// attempt and verdict report.
	APIKey string

	// ReportURL is the upstream verdict-report endpoint.
	ReportURL string

	// Reconnect behavior
	MaxReconnects     int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// Transport timeouts
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	ReportTimeout    time.Duration
}
