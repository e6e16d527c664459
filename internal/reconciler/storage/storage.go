package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/reconciler/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database reads for the reconciler
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetTransaction retrieves a transaction by its ID
func (s *Storage) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, transaction_data, status, priority, created_at
		FROM transaction_queue
		WHERE id = $1
	`

	var tx domain.Transaction
	var priority sql.NullInt32

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.TransactionData,
		&tx.Status,
		&priority,
		&tx.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if priority.Valid {
		p := int(priority.Int32)
		tx.Priority = &p
	}

	return &tx, nil
}

// ListStalePending returns pending transactions created before the cutoff in
// (created_at, id) order, starting strictly after the given key when set
func (s *Storage) ListStalePending(ctx context.Context, createdBefore time.Time, after *domain.StaleRef, limit int) ([]domain.StaleRef, error) {
	query := `
		SELECT id, created_at
		FROM transaction_queue
		WHERE status = $1
		  AND created_at < $2
	`
	args := []interface{}{domain.TransactionStatusPending, createdBefore}
	argIdx := 3

	if after != nil {
		query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, after.CreatedAt, after.ID)
		argIdx += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", argIdx)
	args = append(args, limit)

	var refs []domain.StaleRef
	if err := s.db.SelectContext(ctx, &refs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}

	s.logger.Debug("Listed stale pending transactions",
		slog.Int("count", len(refs)),
		slog.Time("created_before", createdBefore),
	)

	return refs, nil
}
