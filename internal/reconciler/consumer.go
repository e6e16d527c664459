package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transaction-queue/internal/reconciler/domain"
	"github.com/cuongbtq/transaction-queue/internal/repair"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets up the hint consumer with QoS and returns the delivery channel
func (r *Reconciler) setupConsumer() (<-chan amqp.Delivery, error) {
	// prefetch bounds unacknowledged hints held by this consumer
	if err := r.broker.Qos(r.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	r.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", r.prefetchCount),
	)

	deliveries, err := r.broker.Consume(r.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	r.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", r.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher turns repair hints into tasks for the worker pool.
// Losing the delivery channel or the broker channel ends the dispatcher and
// is reported through failBroker.
func (r *Reconciler) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) {
	r.logger.Info("Message dispatcher started",
		slog.String("worker_id", r.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-r.stopChan:
			r.logger.Info("Message dispatcher stopped - stopChan closed")
			return

		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				r.failBroker(fmt.Errorf("%w: rabbitmq channel closed", ErrBrokerClosed))
			} else {
				r.failBroker(fmt.Errorf("%w: %w", ErrBrokerClosed, amqpErr))
			}
			return

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed")
				r.failBroker(fmt.Errorf("%w: delivery channel closed", ErrBrokerClosed))
				return
			}

			hint, err := repair.Decode(delivery.Body)
			if err != nil {
				r.logger.Error("Discarding malformed repair hint",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed hints go to the dead letter queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					r.logger.Error("Failed to NACK malformed hint",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			task := &domain.RepairTask{
				TransactionID: hint.TransactionID,
				QueueName:     hint.QueueName,
				Source:        domain.SourceHint,
				Ack:           delivery,
			}

			if !r.dispatch(ctx, task) {
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					r.logger.Error("Failed to NACK hint on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}

			r.logger.Debug("Repair hint dispatched",
				slog.String("transaction_id", hint.TransactionID),
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
			)
		}
	}
}

// dispatch hands a task to the pool; false means the reconciler is shutting down
func (r *Reconciler) dispatch(ctx context.Context, task *domain.RepairTask) bool {
	select {
	case r.tasksChan <- task:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopChan:
		return false
	}
}
