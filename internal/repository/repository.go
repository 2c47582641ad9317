// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a canonical transaction. Re-saving the same ID
// updates the record, which makes replayed imports idempotent.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, amount, merchant, category, customer_name, location,
			unix_time, risk_score, is_fraud, pattern, age_segment,
			status, distance_km, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			merchant = excluded.merchant,
			category = excluded.category,
			customer_name = excluded.customer_name,
			location = excluded.location,
			unix_time = excluded.unix_time,
			risk_score = excluded.risk_score,
			is_fraud = excluded.is_fraud,
			pattern = excluded.pattern,
			age_segment = excluded.age_segment,
			status = excluded.status,
			distance_km = excluded.distance_km
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Amount, tx.Merchant, tx.Category,
		tx.CustomerName, tx.Location,
		tx.UnixTime, tx.RiskScore, boolToInt(tx.IsFraud),
		tx.Pattern, tx.AgeSegment, tx.Status,
		tx.DistanceKm, tx.CreatedAt,
	)
	return err
}

const transactionColumns = `id, amount, merchant, category, customer_name, location,
	   unix_time, risk_score, is_fraud, pattern, age_segment,
	   status, distance_km, created_at`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), id)
	tx, err := scanTransaction(row.Scan)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions retrieves transactions newest first, filtered by the
// query.
func (r *SQLRepository) ListTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	var where []string
	var args []any

	if q.FraudOnly {
		where = append(where, "is_fraud = 1")
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// CountTransactions counts stored transactions.
func (r *SQLRepository) CountTransactions(ctx context.Context, fraudOnly bool) (int64, error) {
	query := "SELECT COUNT(*) FROM transactions"
	if fraudOnly {
		query += " WHERE is_fraud = 1"
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// TransactionStats summarizes the store for the dashboard's stats
// endpoint.
func (r *SQLRepository) TransactionStats(ctx context.Context) (*domain.StoreStats, error) {
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(is_fraud), 0),
			   COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(amount), 0),
			   COALESCE(AVG(amount), 0),
			   COALESCE(MAX(amount), 0)
		FROM transactions
	`

	var stats domain.StoreStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Total, &stats.Fraud, &stats.Blocked,
		&stats.AmountTotal, &stats.AmountAvg, &stats.AmountMax,
	)
	if err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.FraudRate = float64(stats.Fraud) / float64(stats.Total) * 100
	}
	return &stats, nil
}

// SaveNotification stores a fraud notification.
func (r *SQLRepository) SaveNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("%w: notification ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO notifications (
			id, title, message, severity, transaction_id,
			amount, merchant, pattern, read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		n.ID, n.Title, n.Message, n.Severity, n.TransactionID,
		n.Amount, n.Merchant, n.Pattern, boolToInt(n.Read), n.CreatedAt,
	)
	return err
}

// ListNotifications retrieves notifications newest first.
func (r *SQLRepository) ListNotifications(ctx context.Context, limit, offset int, unreadOnly bool) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, title, message, severity, transaction_id,
			   amount, merchant, pattern, read, created_at
		FROM notifications
	`
	if unreadOnly {
		query += " WHERE read = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int

		if err := rows.Scan(
			&n.ID, &n.Title, &n.Message, &n.Severity, &n.TransactionID,
			&n.Amount, &n.Merchant, &n.Pattern, &read, &n.CreatedAt,
		); err != nil {
			return nil, err
		}

		n.Read = read == 1
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks a notification as read.
func (r *SQLRepository) MarkNotificationRead(ctx context.Context, id string) error {
	query := `UPDATE notifications SET read = 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveScoreRule stores a score extension rule, updating in place on
// conflict.
func (r *SQLRepository) SaveScoreRule(ctx context.Context, rule *domain.ScoreRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO score_rules (
			id, name, description, expression, points, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			points = excluded.points,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.Points, boolToInt(rule.Enabled), now, now,
	)
	return err
}

// ListScoreRules retrieves all enabled score extension rules.
func (r *SQLRepository) ListScoreRules(ctx context.Context) ([]*domain.ScoreRule, error) {
	query := `
		SELECT id, name, description, expression, points, enabled
		FROM score_rules
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ScoreRule
	for rows.Next() {
		var rule domain.ScoreRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description,
			&rule.Expression, &rule.Points, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanTransaction reads one transaction row via the given scan
// function, shared between QueryRow and Rows.
func scanTransaction(scan func(dest ...any) error) (*domain.Transaction, error) {
	var tx domain.Transaction
	var isFraud int
	var distance sql.NullFloat64

	err := scan(
		&tx.ID, &tx.Amount, &tx.Merchant, &tx.Category,
		&tx.CustomerName, &tx.Location,
		&tx.UnixTime, &tx.RiskScore, &isFraud,
		&tx.Pattern, &tx.AgeSegment, &tx.Status,
		&distance, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.IsFraud = isFraud == 1
	if distance.Valid {
		tx.DistanceKm = &distance.Float64
	}
	return &tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
