package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/transaction-queue/internal/api/model"
	"github.com/cuongbtq/transaction-queue/internal/api/storage"
	"github.com/cuongbtq/transaction-queue/internal/api/submission"
	"github.com/cuongbtq/transaction-queue/internal/queue"
)

// Submitter runs the submission state machine
type Submitter interface {
	Submit(ctx context.Context, req *submission.Request) (*submission.Outcome, error)
}

// TransactionStore reads durable transaction records
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]model.Transaction, error)
}

// QueueReader exposes advisory queue introspection
type QueueReader interface {
	Position(ctx context.Context, name, id string) (int64, error)
	Stats(ctx context.Context, name string) (*queue.Stats, error)
}

// HealthChecker is implemented by the shared store clients
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Submitter    Submitter
	Transactions TransactionStore
	Queue        QueueReader
	QueueName    string
	MaxBodyBytes int64
	Checks       map[string]HealthChecker
}

// TransactionHandler handles transaction-related HTTP requests
type TransactionHandler struct {
	logger       *slog.Logger
	submitter    Submitter
	transactions TransactionStore
	queue        QueueReader
	queueName    string
	maxBodyBytes int64
}

// NewTransactionHandler creates a new TransactionHandler instance
func NewTransactionHandler(deps *Dependencies) *TransactionHandler {
	return &TransactionHandler{
		logger:       deps.Logger,
		submitter:    deps.Submitter,
		transactions: deps.Transactions,
		queue:        deps.Queue,
		queueName:    deps.QueueName,
		maxBodyBytes: deps.MaxBodyBytes,
	}
}
