package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/api/domain"
	"github.com/cuongbtq/transaction-queue/internal/api/model"
	"github.com/cuongbtq/transaction-queue/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicateTransaction is returned when the identifier already exists
var ErrDuplicateTransaction = errors.New("duplicate transaction id")

const uniqueViolation = pq.ErrorCode("23505")

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateTransaction inserts the record and fills in the server-assigned
// timestamps
func (s *Storage) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	query := `
		INSERT INTO transaction_queue (
			id, account_id, transaction_data, status,
			priority, retry_count, max_retries, scheduled_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowxContext(
		ctx,
		query,
		tx.ID,
		tx.AccountID,
		tx.TransactionData,
		tx.Status,
		tx.Priority,
		tx.RetryCount,
		tx.MaxRetries,
		tx.ScheduledAt,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("failed to create transaction %s: %w", tx.ID, ErrDuplicateTransaction)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

const transactionColumns = `
			id, account_id, transaction_data, status, priority,
			retry_count, max_retries, created_at, updated_at,
			scheduled_at, processed_at, error_message`

func (s *Storage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	var tx model.Transaction
	query := `SELECT` + transactionColumns + `
		FROM transaction_queue
		WHERE id = $1
	`

	err := s.db.GetContext(ctx, &tx, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &tx, nil
}

// GetRateLimit returns the per-account override for limitType, or nil when
// the account uses the default budget
func (s *Storage) GetRateLimit(ctx context.Context, accountID, limitType string) (*model.RateLimit, error) {
	var rl model.RateLimit
	query := `
		SELECT id, account_id, limit_type, max_requests, window_seconds, created_at, updated_at
		FROM rate_limits
		WHERE account_id = $1 AND limit_type = $2
	`

	err := s.db.GetContext(ctx, &rl, query, accountID, limitType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}

	return &rl, nil
}

type TransactionFilter struct {
	AccountID string
	Status    string
	PageSize  int
	Cursor    *TransactionCursor
}

type TransactionCursor struct {
	CreatedAt time.Time
	ID        string
}

func (s *Storage) ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM transaction_queue
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.AccountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var txs []model.Transaction
	err := s.db.SelectContext(ctx, &txs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txs, nil
}
