package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStreamConfig(endpoint string) domain.StreamConfig {
	return domain.StreamConfig{
		Transport:         "sse",
		Endpoint:          endpoint,
		APIKey:            "test-key",
		MaxReconnects:     2,
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		ReadTimeout:       5 * time.Second,
		PingInterval:      time.Second,
		ReportTimeout:     time.Second,
	}
}

// collect subscribes to a topic and returns a channel of payloads.
func collect(t *testing.T, b domain.EventBus, topic string) <-chan []byte {
	t.Helper()

	ch := make(chan []byte, 100)
	_, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	return ch
}

func waitFor(t *testing.T, ch <-chan []byte, timeout time.Duration) []byte {
	t.Helper()

	select {
	case payload := <-ch:
		return payload
	case <-time.After(timeout):
		t.Fatal("timeout waiting for bus message")
		return nil
	}
}

func TestSSEClient(t *testing.T) {
	var gotKey atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "data: {\"trans_num\":\"T1\",\"amt\":42.0}\n\n")
		fmt.Fprint(w, "data: {\"trans_num\":\"T2\",\n")
		fmt.Fprint(w, "data: \"amt\":700.0}\n\n")
		flusher.Flush()

		// Keep the stream open briefly so the client reads everything.
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	b := bus.NewChannelBus(100)
	defer b.Close()

	events := collect(t, b, domain.TopicTransaction)

	client := NewSSEClient(testStreamConfig(server.URL), b, testLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Disconnect()

	first := waitFor(t, events, time.Second)
	if string(first) != `{"trans_num":"T1","amt":42.0}` {
		t.Errorf("unexpected first event: %s", first)
	}

	// Multi-line data fields are joined with a newline.
	second := waitFor(t, events, time.Second)
	if !strings.Contains(string(second), "\"trans_num\":\"T2\",\n") {
		t.Errorf("expected multi-line payload, got %s", second)
	}
	var parsed map[string]any
	if err := json.Unmarshal(second, &parsed); err != nil {
		t.Errorf("joined payload is not valid JSON: %v", err)
	}

	if gotKey.Load() != "test-key" {
		t.Errorf("expected X-API-Key header, got %v", gotKey.Load())
	}
}

func TestSSEClientReconnectExhaustion(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	b := bus.NewChannelBus(100)
	defer b.Close()

	conns := collect(t, b, domain.TopicConnection)

	cfg := testStreamConfig(server.URL)
	client := NewSSEClient(cfg, b, testLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Disconnect()

	// Wait for the run loop to give up.
	deadline := time.After(2 * time.Second)
	var sawGiveUp bool
	for !sawGiveUp {
		select {
		case payload := <-conns:
			var ev domain.ConnectionEvent
			json.Unmarshal(payload, &ev)
			if ev.State == domain.ConnError && strings.Contains(ev.Message, "gave up") {
				sawGiveUp = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for exhaustion event")
		}
	}

	// Initial attempt plus MaxReconnects retries.
	want := int32(cfg.MaxReconnects + 1)
	if got := attempts.Load(); got != want {
		t.Errorf("expected %d connection attempts, got %d", want, got)
	}

	// Terminal state after exhaustion is disconnected.
	time.Sleep(50 * time.Millisecond)
	if state := client.State(); state != domain.ConnDisconnected {
		t.Errorf("expected disconnected after exhaustion, got %s", state)
	}
}

func TestSSEClientDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	b := bus.NewChannelBus(100)
	defer b.Close()

	client := NewSSEClient(testStreamConfig(server.URL), b, testLogger())
	client.Connect(context.Background())

	// Let the connection establish, then tear down.
	time.Sleep(100 * time.Millisecond)
	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	if state := client.State(); state != domain.ConnDisconnected {
		t.Errorf("expected disconnected, got %s", state)
	}

	// Second disconnect is a no-op.
	if err := client.Disconnect(); err != nil {
		t.Errorf("second disconnect failed: %v", err)
	}
}

func TestWSClient(t *testing.T) {
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"trans_num":"W1","amt":9.5}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	b := bus.NewChannelBus(100)
	defer b.Close()

	events := collect(t, b, domain.TopicTransaction)

	cfg := testStreamConfig("ws" + strings.TrimPrefix(server.URL, "http"))
	cfg.Transport = "websocket"

	client := NewWSClient(cfg, b, testLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Disconnect()

	payload := waitFor(t, events, time.Second)
	if string(payload) != `{"trans_num":"W1","amt":9.5}` {
		t.Errorf("unexpected payload: %s", payload)
	}
}

func TestHTTPReporter(t *testing.T) {
	var mu sync.Mutex
	var reports []verdictReport

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report verdictReport
		json.NewDecoder(r.Body).Decode(&report)

		mu.Lock()
		reports = append(reports, report)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testStreamConfig("")
	cfg.ReportURL = server.URL

	reporter := NewHTTPReporter(cfg, nil, testLogger())
	reporter.Report(context.Background(), "TXN42", domain.VerdictFraud)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(reports)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for report")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if reports[0].TransactionID != "TXN42" || reports[0].Verdict != domain.VerdictFraud {
		t.Errorf("unexpected report: %+v", reports[0])
	}
}

func TestHTTPReporterSoftError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	b := bus.NewChannelBus(100)
	defer b.Close()

	conns := collect(t, b, domain.TopicConnection)

	cfg := testStreamConfig("")
	cfg.ReportURL = server.URL

	reporter := NewHTTPReporter(cfg, b, testLogger())
	reporter.Report(context.Background(), "TXN1", domain.VerdictFraud)

	payload := waitFor(t, conns, time.Second)
	var ev domain.ConnectionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("bad connection event: %v", err)
	}
	if ev.Transport != "report" || ev.State != domain.ConnError {
		t.Errorf("unexpected soft-error event: %+v", ev)
	}
}

func TestHTTPReporterNoURL(t *testing.T) {
	reporter := NewHTTPReporter(testStreamConfig(""), nil, testLogger())

	// No report URL configured: must be a silent no-op.
	reporter.Report(context.Background(), "TXN1", domain.VerdictLegitimate)
}

func TestNewStreamFactory(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	for _, transport := range []string{"sse", "websocket"} {
		cfg := testStreamConfig("http://localhost:1")
		cfg.Transport = transport
		if _, err := New(cfg, b, testLogger()); err != nil {
			t.Errorf("factory failed for %s: %v", transport, err)
		}
	}

	cfg := testStreamConfig("")
	cfg.Transport = "smoke-signals"
	if _, err := New(cfg, b, testLogger()); err == nil {
		t.Error("expected error for unsupported transport")
	}
}
