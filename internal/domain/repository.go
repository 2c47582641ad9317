package domain

import (
	"context"
	"time"
)

// Repository defines the interface for the historical store. The live
// pipeline is independent of it and must produce correct aggregates from
// an empty starting buffer; the store only serves initial page loads,
// bulk import, and the notification feed.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error)
	CountTransactions(ctx context.Context, fraudOnly bool) (int64, error)
	TransactionStats(ctx context.Context) (*StoreStats, error)

	// Notification operations
	SaveNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, limit, offset int, unreadOnly bool) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Score extension rule operations
	SaveScoreRule(ctx context.Context, rule *ScoreRule) error
	ListScoreRules(ctx context.Context) ([]*ScoreRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TransactionQuery filters ListTransactions.
type TransactionQuery struct {
	Limit     int
	Offset    int
	FraudOnly bool
	Status    string
}

// StoreStats summarizes the historical store for the dashboard's stats
// endpoint.
type StoreStats struct {
	Total       int64   `json:"total"`
	Fraud       int64   `json:"fraud"`
	Blocked     int64   `json:"blocked"`
	FraudRate   float64 `json:"fraudRate"`
	AmountTotal float64 `json:"amountTotal"`
	AmountAvg   float64 `json:"amountAvg"`
	AmountMax   float64 `json:"amountMax"`
}

// Notification is a persisted fraud alert shown in the dashboard's
// notification feed.
type Notification struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Severity      string    `json:"severity"` // "low", "medium", "high"
	TransactionID string    `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Merchant      string    `json:"merchant"`
	Pattern       string    `json:"pattern"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Notification severity levels, derived from the risk score.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
