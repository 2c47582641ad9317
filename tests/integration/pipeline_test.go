// Package integration exercises the complete ingestion pipeline:
//
//	SSE feed → stream client → event bus → worker → aggregator → API
//
// Everything runs in-process against a stub feed server, so these tests
// need no external services.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/live"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/score"
	"github.com/opensource-finance/kestrel/internal/stream"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// feedServer serves a fixed set of events as an SSE stream and records
// verdict reports.
type feedServer struct {
	events []string

	mu      sync.Mutex
	reports []map[string]string
}

func (f *feedServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, ev := range f.events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		flusher.Flush()

		// Hold the stream open so the client is not driven into
		// reconnect churn mid-test.
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		var report map[string]string
		json.NewDecoder(r.Body).Decode(&report)

		f.mu.Lock()
		f.reports = append(f.reports, report)
		f.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (f *feedServer) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func TestPipelineEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	feed := &feedServer{
		events: []string{
			`{"trans_num":"E1","amt":700.0,"category":"misc_net","merchant":"fraud_Kirlin and Sons","first":"Jane","last":"Doe","dob":"1990-06-15","lat":40.7128,"long":-74.0060,"merch_lat":34.0522,"merch_long":-118.2437}`,
			`{"trans_num":"E2","amt":25.0,"category":"grocery_pos"}`,
			`{"trans_num":"E2","amt":25.0,"category":"grocery_pos"}`,
			`{"trans_num":"E3","amt":5.0,"is_fraud":true}`,
		},
	}
	upstream := httptest.NewServer(feed.handler())
	defer upstream.Close()

	tmpFile, err := os.CreateTemp("", "kestrel-e2e-*.db")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	defer repo.Close()

	c := cache.NewLRUCache(1000)
	defer c.Close()

	b := bus.NewChannelBus(1000)
	defer b.Close()

	ext, err := score.NewExtension()
	if err != nil {
		t.Fatalf("extension: %v", err)
	}
	defer ext.Close()

	streamCfg := domain.StreamConfig{
		Transport:         "sse",
		Endpoint:          upstream.URL + "/stream",
		APIKey:            "e2e-key",
		ReportURL:         upstream.URL + "/report",
		MaxReconnects:     3,
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		ReadTimeout:       5 * time.Second,
		PingInterval:      time.Second,
		ReportTimeout:     time.Second,
	}

	liveCfg := domain.LiveConfig{
		BufferSize:      100,
		TimelineBuckets: 8,
		BucketWidth:     15 * time.Minute,
		PatternWindow:   time.Hour,
		PatternTopK:     5,
		NotifyCooldown:  0, // every fraud notifies in this test
		ReportVerdicts:  true,
	}

	reporter := stream.NewHTTPReporter(streamCfg, b, logger)
	aggregator := live.New(liveCfg, normalize.New(ext), c, reporter, repo, b, logger)

	w := worker.New(b, repo, aggregator, logger)
	defer w.Stop()

	client := stream.NewSSEClient(streamCfg, b, logger)
	defer client.Disconnect()

	srv := api.NewServer(domain.ServerConfig{}, repo, c, b, aggregator, client, w, ext, "e2e")

	if err := w.Start(); err != nil {
		t.Fatalf("worker start: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("stream connect: %v", err)
	}

	// Wait for all four events to flow through: three distinct plus one
	// duplicate.
	deadline := time.After(5 * time.Second)
	for {
		stats := aggregator.Stats()
		if stats.Processed == 3 && stats.Duplicates == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for pipeline, stats=%+v", aggregator.Stats())
		case <-time.After(20 * time.Millisecond):
		}
	}

	stats := aggregator.Stats()
	if stats.FraudDetected != 2 {
		t.Errorf("expected 2 fraud events, got %d", stats.FraudDetected)
	}

	// Verdict reports reached the upstream for both fraud events.
	reportDeadline := time.After(3 * time.Second)
	for feed.reportCount() < 2 {
		select {
		case <-reportDeadline:
			t.Fatalf("timeout waiting for reports, got %d", feed.reportCount())
		case <-time.After(20 * time.Millisecond):
		}
	}

	// The historical store has the distinct records.
	total, err := repo.CountTransactions(context.Background(), false)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 stored transactions, got %d", total)
	}

	fraud, _ := repo.CountTransactions(context.Background(), true)
	if fraud != 2 {
		t.Errorf("expected 2 stored fraud transactions, got %d", fraud)
	}

	// The API serves the live state.
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live stats returned %d", rec.Code)
	}

	var liveResp struct {
		Stats      domain.LiveStats `json:"stats"`
		Connection string           `json:"connection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &liveResp); err != nil {
		t.Fatalf("decode live stats: %v", err)
	}
	if liveResp.Stats.Processed != 3 {
		t.Errorf("API reports %d processed, want 3", liveResp.Stats.Processed)
	}
	if liveResp.Connection != string(domain.ConnConnected) {
		t.Errorf("API reports connection %q, want connected", liveResp.Connection)
	}

	// Notifications were persisted for the fraud events.
	notifications, err := repo.ListNotifications(context.Background(), 10, 0, false)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(notifications))
	}

	// The explicit upstream verdict on E3 wins over its low score.
	e3, err := repo.GetTransaction(context.Background(), "E3")
	if err != nil {
		t.Fatalf("get E3: %v", err)
	}
	if !e3.IsFraud {
		t.Error("expected explicit is_fraud verdict to be honored")
	}
	if e3.RiskScore >= score.FraudThreshold {
		t.Errorf("E3 score %d should stay below the threshold", e3.RiskScore)
	}

	// Age segment from the E1 date of birth.
	segments := aggregator.AgeSegments()
	var found bool
	for _, s := range segments {
		if s.Segment == "35-44" && s.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected one fraud event in the 35-44 segment: %+v", segments)
	}
}
