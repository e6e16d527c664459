package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transaction-queue/internal/reconciler/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (r *Reconciler) spawnWorkerPool(ctx context.Context) {
	r.logger.Info("Spawning worker pool",
		slog.Int("concurrency", r.concurrency),
		slog.String("worker_id", r.workerID),
	)

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (r *Reconciler) workerLoop(ctx context.Context, workerNum int) {
	defer r.wg.Done()

	workerName := fmt.Sprintf("%s-%d", r.workerID, workerNum)
	r.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-r.stopChan:
			r.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			r.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case task := <-r.tasksChan:
			err := r.processTask(ctx, task)
			if err != nil {
				r.logger.Error("Repair failed",
					slog.String("worker_name", workerName),
					slog.String("transaction_id", task.TransactionID),
					slog.String("source", task.Source),
					slog.String("error", err.Error()),
				)
			}
			r.settle(task, err)
		}
	}
}

// settle acknowledges the hint behind a task, if any
func (r *Reconciler) settle(task *domain.RepairTask, err error) {
	if task.Ack == nil {
		return
	}

	if err == nil {
		if ackErr := task.Ack.Ack(false); ackErr != nil {
			r.logger.Error("Failed to ACK hint",
				slog.String("transaction_id", task.TransactionID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	if nackErr := task.Ack.Nack(false, requeue); nackErr != nil {
		r.logger.Error("Failed to NACK hint",
			slog.String("transaction_id", task.TransactionID),
			slog.String("error", nackErr.Error()),
		)
		return
	}

	r.logger.Info("Hint NACKed",
		slog.String("transaction_id", task.TransactionID),
		slog.Bool("requeue", requeue),
	)
}

// shouldRequeue requeues only transient failures
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
