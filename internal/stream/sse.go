package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SSEClient consumes a Server-Sent Events feed over a long-lived HTTP
// GET. Each complete event's data payload is published verbatim to the
// transaction topic; framing comments and heartbeats are dropped.
type SSEClient struct {
	clientBase
	httpClient *http.Client
}

// NewSSEClient creates a new SSE stream client.
func NewSSEClient(cfg domain.StreamConfig, bus domain.EventBus, logger *slog.Logger) *SSEClient {
	c := &SSEClient{
		httpClient: &http.Client{
			// No overall timeout: the response body is an unbounded
			// stream. Read staleness is covered by the per-read
			// deadline in readEvents.
			Timeout: 0,
		},
	}
	c.init(cfg, bus, logger, "sse")
	return c
}

// Connect starts the stream in the background. Idempotent while a run
// is active.
func (c *SSEClient) Connect(ctx context.Context) error {
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
func (c *SSEClient) Disconnect() error {
	c.stop()
	return nil
}

func (c *SSEClient) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(domain.ConnDisconnected, "sse", "", 0)

	delay := c.cfg.ReconnectDelay
	attempt := 0

	for {
		c.setState(domain.ConnConnecting, "sse", "", attempt)

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
			c.setState(domain.ConnError, "sse", fmt.Sprintf("gave up after %d attempts: %v", attempt-1, err), attempt-1)
			return
		}

		c.logger.Warn("stream dropped, reconnecting",
			"attempt", attempt, "delay", delay, "error", err)
		c.setState(domain.ConnError, "sse", fmt.Sprintf("%v", err), attempt)

		if !wait(ctx, delay) {
			return
		}
		delay = c.nextDelay(delay)
	}
}

// consume opens the stream and reads events until the connection drops
// or the context is cancelled.
func (c *SSEClient) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream endpoint returned %d", resp.StatusCode)
	}

	c.setState(domain.ConnConnected, "sse", "", 0)
	c.logger.Info("stream connected", "endpoint", c.cfg.Endpoint)

	return c.readEvents(ctx, resp)
}

// readEvents parses the text/event-stream framing. Data lines of one
// event are joined with newlines per the SSE wire format.
func (c *SSEClient) readEvents(ctx context.Context, resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Abandon the read if the feed goes silent past the read timeout.
	// SSE comment heartbeats reset the timer like any other line.
	var stale *time.Timer
	if c.cfg.ReadTimeout > 0 {
		stale = time.AfterFunc(c.cfg.ReadTimeout, func() {
			resp.Body.Close()
		})
		defer stale.Stop()
	}

	var data []string

	for scanner.Scan() {
		if stale != nil {
			stale.Reset(c.cfg.ReadTimeout)
		}

		line := scanner.Text()

		switch {
		case line == "":
			// Blank line terminates the event.
			if len(data) > 0 {
				c.publishRaw(ctx, []byte(strings.Join(data, "\n")))
				data = data[:0]
			}

		case strings.HasPrefix(line, ":"):
			// Comment / heartbeat.

		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		default:
			// event:, id:, retry: fields are not used by the feed.
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}
