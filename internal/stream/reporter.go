package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPReporter posts fraud verdicts back to the upstream feed. Reports
// are fire and forget: failures are logged and surfaced as connection
// events but never propagate to the ingestion path.
type HTTPReporter struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	bus        domain.EventBus
	logger     *slog.Logger
}

// NewHTTPReporter creates a verdict reporter. A nil bus disables the
// soft-error connection events.
func NewHTTPReporter(cfg domain.StreamConfig, bus domain.EventBus, logger *slog.Logger) *HTTPReporter {
	timeout := cfg.ReportTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReporter{
		url:        cfg.ReportURL,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		bus:        bus,
		logger:     logger.With("component", "reporter"),
	}
}

type verdictReport struct {
	TransactionID string `json:"transactionId"`
	Verdict       string `json:"verdict"`
}

// Report posts the verdict asynchronously and returns immediately.
func (r *HTTPReporter) Report(ctx context.Context, transactionID, verdict string) {
	if r.url == "" {
		return
	}

	go func() {
		if err := r.post(transactionID, verdict); err != nil {
			r.logger.Warn("verdict report failed",
				"transaction_id", transactionID, "verdict", verdict, "error", err)
			r.softError(fmt.Sprintf("verdict report failed: %v", err))
		}
	}()
}

func (r *HTTPReporter) post(transactionID, verdict string) error {
	body, err := json.Marshal(verdictReport{
		TransactionID: transactionID,
		Verdict:       verdict,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("report endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (r *HTTPReporter) softError(message string) {
	if r.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.ConnectionEvent{
		State:     domain.ConnError,
		Transport: "report",
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(context.Background(), domain.TopicConnection, payload); err != nil {
		r.logger.Warn("failed to publish report error event", "error", err)
	}
}

var _ domain.VerdictReporter = (*HTTPReporter)(nil)
