// Package worker provides async processing of streamed transaction
// events.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/live"
)

// Worker consumes raw transaction events off the bus, runs them through
// the live aggregator, persists the canonical records, and publishes
// decisions for downstream consumers.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	aggregator *live.Aggregator
	logger     *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	cancel        context.CancelFunc
}

// New creates a worker. repo may be nil to run without persistence.
func New(bus domain.EventBus, repo domain.Repository, aggregator *live.Aggregator, logger *slog.Logger) *Worker {
	return &Worker{
		bus:        bus,
		repo:       repo,
		aggregator: aggregator,
		logger:     logger.With("component", "worker"),
	}
}

// Start subscribes to the transaction topic. Idempotent while running.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	sub, err := w.bus.Subscribe(ctx, domain.TopicTransaction, w.handleTransaction)
	if err != nil {
		cancel()
		return err
	}

	w.cancel = cancel
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicTransaction)
	return nil
}

// Stop unsubscribes and halts processing. Safe to call when not
// running.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Warn("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}

	w.logger.Info("worker stopped")
}

// Running reports whether the worker holds an active subscription.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// handleTransaction processes one raw wire event.
func (w *Worker) handleTransaction(ctx context.Context, msg *domain.Message) error {
	var raw domain.RawEvent
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		w.logger.Warn("malformed transaction event",
			"message_id", msg.ID, "error", err)
		return nil
	}

	tx := w.aggregator.Ingest(ctx, raw)
	if tx == nil {
		// Duplicate, already counted.
		return nil
	}

	// Persistence failures never interrupt the live pipeline.
	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tx); err != nil {
			w.logger.Warn("failed to persist transaction",
				"transaction_id", tx.ID, "error", err)
		}
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return nil
	}
	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		w.logger.Warn("failed to publish decision",
			"transaction_id", tx.ID, "error", err)
	}

	return nil
}
