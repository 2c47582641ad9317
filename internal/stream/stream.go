// Package stream provides push-transport clients that read transaction
// events off an upstream feed and publish them on the event bus.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a stream client based on configuration.
func New(cfg domain.StreamConfig, bus domain.EventBus, logger *slog.Logger) (domain.StreamClient, error) {
	switch cfg.Transport {
	case "sse":
		return NewSSEClient(cfg, bus, logger), nil

	case "websocket":
		return NewWSClient(cfg, bus, logger), nil

	default:
		return nil, fmt.Errorf("unsupported stream transport: %s", cfg.Transport)
	}
}

// clientBase carries the state machine and reconnect bookkeeping shared
// by both transports.
type clientBase struct {
	cfg    domain.StreamConfig
	bus    domain.EventBus
	logger *slog.Logger

	state atomic.Value // domain.ConnState

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *clientBase) init(cfg domain.StreamConfig, bus domain.EventBus, logger *slog.Logger, transport string) {
	b.cfg = cfg
	b.bus = bus
	b.logger = logger.With("component", "stream", "transport", transport)
	b.state.Store(domain.ConnDisconnected)
}

// State returns the current connection state.
func (b *clientBase) State() domain.ConnState {
	return b.state.Load().(domain.ConnState)
}

// setState transitions the state machine and publishes the event.
func (b *clientBase) setState(state domain.ConnState, transport, message string, attempt int) {
	b.state.Store(state)
	b.publishEvent(domain.ConnectionEvent{
		State:     state,
		Transport: transport,
		Message:   message,
		Attempt:   attempt,
		Timestamp: time.Now().Unix(),
	})
}

// publishEvent emits a connection event without changing state. Used for
// soft errors that should surface without interrupting the stream.
func (b *clientBase) publishEvent(ev domain.ConnectionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := b.bus.Publish(context.Background(), domain.TopicConnection, payload); err != nil {
		b.logger.Warn("failed to publish connection event", "error", err)
	}
}

// publishRaw forwards one wire event to the transaction topic.
func (b *clientBase) publishRaw(ctx context.Context, data []byte) {
	if err := b.bus.Publish(ctx, domain.TopicTransaction, data); err != nil {
		b.logger.Warn("failed to publish transaction event", "error", err)
	}
}

// begin records the run context. Returns false if a run is already
// active, making Connect idempotent.
func (b *clientBase) begin(cancel context.CancelFunc) (chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		select {
		case <-b.done:
			// Previous run finished.
		default:
			return nil, false
		}
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	return b.done, true
}

// stop cancels the active run and waits for it to wind down.
func (b *clientBase) stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// nextDelay doubles the backoff delay up to the configured ceiling.
func (b *clientBase) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > b.cfg.MaxReconnectDelay {
		delay = b.cfg.MaxReconnectDelay
	}
	return delay
}

// wait sleeps for the backoff delay unless the run is cancelled.
func wait(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
