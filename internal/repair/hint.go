// Package repair carries the hint the API publishes when a persisted
// transaction could not be enqueued, and that the reconciler consumes.
package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	ContentType = "application/json"

	ReasonEnqueueFailed = "enqueue_failed"
)

// Hint asks the reconciler to re-enqueue one transaction.
type Hint struct {
	TransactionID string    `json:"transaction_id"`
	QueueName     string    `json:"queue_name"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate rejects hints that can never be processed.
func (h *Hint) Validate() error {
	if _, err := uuid.Parse(h.TransactionID); err != nil {
		return fmt.Errorf("invalid transaction_id %q: %w", h.TransactionID, err)
	}
	return nil
}

// Decode parses a hint from a message body.
func Decode(body []byte) (*Hint, error) {
	var h Hint
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("failed to parse repair hint: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// Broker is the publishing half of the message bus.
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Publisher sends hints to the broker.
type Publisher struct {
	broker Broker
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, logger: logger, now: time.Now}
}

// NotifyEnqueueFailed publishes a hint for transactionID.
func (p *Publisher) NotifyEnqueueFailed(ctx context.Context, queueName, transactionID string) error {
	body, err := json.Marshal(&Hint{
		TransactionID: transactionID,
		QueueName:     queueName,
		Reason:        ReasonEnqueueFailed,
		CreatedAt:     p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal repair hint: %w", err)
	}

	if err := p.broker.Publish(ctx, body, ContentType); err != nil {
		return fmt.Errorf("failed to publish repair hint: %w", err)
	}

	p.logger.Info("Repair hint published",
		slog.String("transaction_id", transactionID),
		slog.String("queue", queueName),
	)
	return nil
}
