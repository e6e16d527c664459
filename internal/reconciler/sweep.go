package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/reconciler/domain"
)

// sweepLoop runs a sweep immediately and then once per interval
func (r *Reconciler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep queues a repair for every pending record older than the grace period.
// It pages through all of them in (created_at, id) order, so records that are
// still legitimately queued never hide newer orphans behind them. It returns
// the number of tasks dispatched.
func (r *Reconciler) sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.gracePeriod)
	batchSize := max(1, r.batchSize)

	var after *domain.StaleRef
	candidates, dispatched := 0, 0

	for {
		refs, err := r.store.ListStalePending(ctx, cutoff, after, batchSize)
		if err != nil {
			r.logger.Error("Sweep failed to list stale transactions",
				slog.String("error", err.Error()),
				slog.Int("dispatched", dispatched),
			)
			return dispatched
		}
		candidates += len(refs)

		for _, ref := range refs {
			if !r.dispatch(ctx, &domain.RepairTask{TransactionID: ref.ID, Source: domain.SourceSweep}) {
				return dispatched
			}
			dispatched++
		}

		if len(refs) < batchSize {
			break
		}
		last := refs[len(refs)-1]
		after = &last
	}

	if candidates > 0 {
		r.logger.Info("Sweep dispatched repairs",
			slog.Int("candidates", candidates),
			slog.Int("dispatched", dispatched),
			slog.Time("cutoff", cutoff),
		)
	}
	return dispatched
}
