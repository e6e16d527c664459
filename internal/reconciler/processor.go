package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transaction-queue/internal/queue"
	"github.com/cuongbtq/transaction-queue/internal/reconciler/domain"
)

// processTask re-enqueues a pending transaction unless it is already queued.
// A nil return means the transaction needs no further repair.
func (r *Reconciler) processTask(ctx context.Context, task *domain.RepairTask) error {
	tx, err := r.store.GetTransaction(ctx, task.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load transaction: %w", err))
	}

	if tx.Status != domain.TransactionStatusPending {
		r.logger.Debug("Transaction no longer pending, skipping",
			slog.String("transaction_id", tx.ID),
			slog.String("status", tx.Status),
		)
		return nil
	}

	queueName := r.queueFor(task)

	queued, err := r.queue.Contains(ctx, queueName, tx.ID)
	if err != nil {
		return domain.NewRetryableError(err)
	}
	if queued {
		r.logger.Debug("Transaction already queued, skipping",
			slog.String("transaction_id", tx.ID),
		)
		return nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return domain.NewRetryableError(fmt.Errorf("repair throttle: %w", err))
	}

	item := &queue.Item{
		ID:         tx.ID,
		AccountID:  tx.AccountID,
		Priority:   tx.Priority,
		Payload:    tx.TransactionData,
		EnqueuedAt: r.now(),
	}

	var position int64
	if tx.Priority != nil {
		position, err = r.queue.EnqueueWithPriority(ctx, queueName, item, *tx.Priority)
	} else {
		position, err = r.queue.Enqueue(ctx, queueName, item)
	}
	if err != nil {
		return domain.NewRetryableError(err)
	}

	r.logger.Info("Transaction re-enqueued",
		slog.String("transaction_id", tx.ID),
		slog.String("source", task.Source),
		slog.String("queue", queueName),
		slog.Int64("queue_position", position),
	)

	return nil
}

// queueFor honours the queue named by a hint and falls back to the configured one
func (r *Reconciler) queueFor(task *domain.RepairTask) string {
	if task.QueueName != "" {
		return task.QueueName
	}
	return r.queueName
}
