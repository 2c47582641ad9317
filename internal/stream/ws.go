package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// WSClient consumes the transaction feed over a websocket. Text frames
// are published verbatim to the transaction topic. A ping loop keeps
// the connection alive and the read deadline detects a silent peer.
type WSClient struct {
	clientBase

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWSClient creates a new websocket stream client.
func NewWSClient(cfg domain.StreamConfig, bus domain.EventBus, logger *slog.Logger) *WSClient {
	c := &WSClient{}
	c.init(cfg, bus, logger, "websocket")
	return c
}

// Connect starts the stream in the background. Idempotent while a run
// is active.
func (c *WSClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	done, ok := c.begin(cancel)
	if !ok {
		cancel()
		return nil
	}

	go c.run(runCtx, done)
	return nil
}

// Disconnect stops the stream and any pending reconnect.
func (c *WSClient) Disconnect() error {
	c.stop()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	return nil
}

func (c *WSClient) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(domain.ConnDisconnected, "websocket", "", 0)

	delay := c.cfg.ReconnectDelay
	attempt := 0

	for {
		c.setState(domain.ConnConnecting, "websocket", "", attempt)

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		// A connection that made it through counts as a fresh start.
		if c.State() == domain.ConnConnected {
			attempt = 0
			delay = c.cfg.ReconnectDelay
		}

		attempt++
		if attempt > c.cfg.MaxReconnects {
			c.logger.Error("reconnect attempts exhausted", "attempts", attempt-1, "error", err)
			c.setState(domain.ConnError, "websocket", fmt.Sprintf("gave up after %d attempts: %v", attempt-1, err), attempt-1)
			return
		}

		c.logger.Warn("stream dropped, reconnecting",
			"attempt", attempt, "delay", delay, "error", err)
		c.setState(domain.ConnError, "websocket", fmt.Sprintf("%v", err), attempt)

		if !wait(ctx, delay) {
			return
		}
		delay = c.nextDelay(delay)
	}
}

// consume dials the endpoint and reads frames until the connection
// drops or the context is cancelled.
func (c *WSClient) consume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	var header http.Header
	if c.cfg.APIKey != "" {
		header = http.Header{"X-API-Key": []string{c.cfg.APIKey}}
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		conn.Close()
	}()

	c.setState(domain.ConnConnected, "websocket", "", 0)
	c.logger.Info("stream connected", "endpoint", c.cfg.Endpoint)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	pingDone := make(chan struct{})
	go c.pingLoop(ctx, conn, pingDone)
	defer close(pingDone)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		c.publishRaw(ctx, message)
	}
}

// pingLoop sends periodic ping frames until the connection is torn
// down.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.HandshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Reader sees the dead connection and handles reconnect.
				return
			}
		}
	}
}

var _ domain.StreamClient = (*WSClient)(nil)
var _ domain.StreamClient = (*SSEClient)(nil)
