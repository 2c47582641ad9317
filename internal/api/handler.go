package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/live"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/score"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	aggregator *live.Aggregator
	stream     domain.StreamClient
	worker     *worker.Worker
	ext        *score.Extension
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	aggregator *live.Aggregator,
	stream domain.StreamClient,
	w *worker.Worker,
	ext *score.Extension,
	version string,
) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		aggregator: aggregator,
		stream:     stream,
		worker:     w,
		ext:        ext,
		version:    version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// LiveFeed returns the rolling transaction buffer, newest first.
func (h *Handler) LiveFeed(w http.ResponseWriter, r *http.Request) {
	feed := h.aggregator.Feed()
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": feed,
		"count":        len(feed),
	})
}

// LiveTimeline returns the fraud timeline buckets.
func (h *Handler) LiveTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timeline": h.aggregator.Timeline(),
	})
}

// LivePatterns returns the fraud-pattern ranking.
func (h *Handler) LivePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": h.aggregator.Patterns(),
	})
}

// LiveAgeSegments returns the fraud age-segment histogram.
func (h *Handler) LiveAgeSegments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ageSegments": h.aggregator.AgeSegments(),
	})
}

// LiveStats returns the running pipeline counters.
func (h *Handler) LiveStats(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Stats()

	resp := map[string]any{
		"stats": stats,
	}
	if h.stream != nil {
		resp["connection"] = h.stream.State()
	}

	writeJSON(w, http.StatusOK, resp)
}

// StartMonitor connects the stream client and starts the worker.
func (h *Handler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "stream client not configured",
		})
		return
	}

	if h.worker != nil {
		if err := h.worker.Start(); err != nil {
			slog.Error("failed to start worker", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to start worker",
			})
			return
		}
	}

	// The stream must outlive this request, so it gets its own context.
	if err := h.stream.Connect(context.Background()); err != nil {
		slog.Error("failed to connect stream", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to connect stream",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring": true,
		"state":      h.stream.State(),
	})
}

// StopMonitor disconnects the stream client.
func (h *Handler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "stream client not configured",
		})
		return
	}

	if err := h.stream.Disconnect(); err != nil {
		slog.Error("failed to disconnect stream", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring": false,
		"state":      h.stream.State(),
	})
}

// ProcessTransaction ingests one raw event directly, bypassing the
// stream transport. Used by the dashboard's manual-entry form and by
// upstreams that push instead of serving a feed.
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := h.aggregator.Ingest(r.Context(), raw)
	if tx == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"duplicate": true,
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTransaction(r.Context(), tx); err != nil {
			slog.Error("failed to save transaction", "transaction_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
	})
}

// ListTransactions retrieves stored transactions, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	q := domain.TransactionQuery{
		Limit:     intQuery(r, "limit", 50),
		Offset:    intQuery(r, "offset", 0),
		FraudOnly: r.URL.Query().Get("fraud") == "true",
		Status:    r.URL.Query().Get("status"),
	}

	transactions, err := h.repo.ListTransactions(r.Context(), q)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		if err != repository.ErrNotFound {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// TransactionStats summarizes the historical store.
func (h *Handler) TransactionStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stats, err := h.repo.TransactionStats(r.Context())
	if err != nil {
		slog.Error("failed to compute transaction stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListNotifications retrieves the notification feed, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	notifications, err := h.repo.ListNotifications(r.Context(),
		intQuery(r, "limit", 50),
		intQuery(r, "offset", 0),
		r.URL.Query().Get("unread") == "true",
	)
	if err != nil {
		slog.Error("failed to list notifications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list notifications",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// MarkNotificationRead marks a notification as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "notification id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.MarkNotificationRead(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "notification not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"read": true,
	})
}

// ListRules returns all score extension rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.ext == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "score extension not available",
		})
		return
	}

	loaded := h.ext.LoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a score rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Points      int    `json:"points"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates, persists, and hot-loads a score extension rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.ext == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "score extension not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.ScoreRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Points:      req.Points,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression by attempting to load it.
	if err := h.ext.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveScoreRule(r.Context(), rule); err != nil {
			slog.Error("failed to save score rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("score rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": rule,
	})
}

// ReloadRules reloads all score extension rules from the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.ext == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "score extension or repository not available",
		})
		return
	}

	rules, err := h.repo.ListScoreRules(r.Context())
	if err != nil {
		slog.Error("failed to list score rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.ext.ReloadRules(rules); err != nil {
		slog.Error("failed to reload score rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("score rules reloaded", "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(rules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
