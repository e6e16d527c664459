// Package submission sequences one transaction submission through
// validation, admission, persistence and enqueueing.
//
// Stages run strictly in that order. A rate-limited request leaves no durable
// trace, a record that failed to persist is never enqueued, and a record that
// persisted but failed to enqueue is kept and handed to the reconciler.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/api/domain"
	"github.com/cuongbtq/transaction-queue/internal/api/model"
	"github.com/cuongbtq/transaction-queue/internal/api/storage"
	"github.com/cuongbtq/transaction-queue/internal/queue"
	"github.com/cuongbtq/transaction-queue/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// State is a stage of the submission state machine.
type State string

const (
	StateValidating   State = "validating"
	StateRateLimiting State = "rate_limiting"
	StatePersisting   State = "persisting"
	StateEnqueueing   State = "enqueueing"
	StateResponding   State = "responding"
)

// Request is one incoming submission.
type Request struct {
	AccountID string
	Payload   json.RawMessage
	Priority  *int
}

// Outcome is returned for every submission, successful or not. RateLimit is
// set whenever the limiter was evaluated; Transaction is set once persisted.
type Outcome struct {
	State            State
	Transaction      *model.Transaction
	QueuePosition    int64
	EstimatedSeconds int64
	RateLimit        *ratelimit.Decision
}

// RecordStore creates durable transaction records.
type RecordStore interface {
	CreateTransaction(ctx context.Context, tx *model.Transaction) error
}

// LimitResolver looks up per-account budget overrides. A nil result means the
// default budget applies.
type LimitResolver interface {
	GetRateLimit(ctx context.Context, accountID, limitType string) (*model.RateLimit, error)
}

// Limiter is the admission check.
type Limiter interface {
	Check(ctx context.Context, key string, budget ratelimit.Budget) (*ratelimit.Decision, error)
}

// Enqueuer places persisted transactions in the processing queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, item *queue.Item) (int64, error)
	EnqueueWithPriority(ctx context.Context, name string, item *queue.Item, priority int) (int64, error)
}

// RepairNotifier is told about transactions that persisted but did not
// enqueue.
type RepairNotifier interface {
	NotifyEnqueueFailed(ctx context.Context, queueName, transactionID string) error
}

// Settings holds the tunables of the orchestrator.
type Settings struct {
	Limits             Limits
	Budget             ratelimit.Budget
	LimitType          string
	StoreTimeout       time.Duration
	DefaultMaxRetries  int
	QueueName          string
	BaseSecondsPerItem int64
	MaxEstimateSeconds int64
}

// Dependencies are the explicitly constructed collaborators of the
// orchestrator. Resolver and Notifier are optional.
type Dependencies struct {
	Records  RecordStore
	Resolver LimitResolver
	Limiter  Limiter
	Queue    Enqueuer
	Notifier RepairNotifier
	Logger   *slog.Logger
}

type Orchestrator struct {
	records  RecordStore
	resolver LimitResolver
	limiter  Limiter
	queue    Enqueuer
	notifier RepairNotifier
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(deps *Dependencies, settings Settings) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		records:  deps.Records,
		resolver: deps.Resolver,
		limiter:  deps.Limiter,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Submit runs one submission to completion. The returned Outcome is never nil;
// on failure the error is a *Error and Outcome.State is the failing stage.
func (o *Orchestrator) Submit(ctx context.Context, req *Request) (*Outcome, error) {
	out := &Outcome{State: StateValidating}
	logger := o.logger.With(slog.String("account_id", req.AccountID))

	if err := o.settings.Limits.Validate(req); err != nil {
		logger.Info("Submission rejected by validation", slog.Any("error", err))
		return out, err
	}

	out.State = StateRateLimiting
	decision, err := o.admit(ctx, req.AccountID)
	out.RateLimit = decision
	if err != nil {
		logger.Error("Rate limit stage failed", slog.Any("error", err))
		return out, err
	}
	if !decision.Allowed {
		logger.Info("Submission rate limited",
			slog.Int("limit", decision.Limit),
			slog.Time("reset_at", decision.ResetAt),
		)
		return out, &Error{Kind: KindRateLimited, Message: "rate limit exceeded"}
	}

	out.State = StatePersisting
	tx, err := o.persist(ctx, req)
	if err != nil {
		logger.Error("Persist stage failed", slog.Any("error", err))
		return out, err
	}
	out.Transaction = tx
	logger = logger.With(slog.String("transaction_id", tx.ID))

	out.State = StateEnqueueing
	position, err := o.enqueue(ctx, req, tx)
	if err != nil {
		logger.Error("Enqueue stage failed, record left pending for reconciliation",
			slog.Any("error", err),
		)
		o.notifyRepair(ctx, logger, tx.ID)
		return out, storeUnavailable("failed to enqueue transaction", err)
	}

	out.State = StateResponding
	out.QueuePosition = position
	out.EstimatedSeconds = EstimateSeconds(position, o.settings.BaseSecondsPerItem, o.settings.MaxEstimateSeconds)

	logger.Info("Transaction submitted",
		slog.Int64("queue_position", position),
		slog.Int64("estimated_seconds", out.EstimatedSeconds),
	)
	return out, nil
}

func (o *Orchestrator) admit(ctx context.Context, accountID string) (*ratelimit.Decision, error) {
	budget, err := o.budgetFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := o.storeContext(ctx)
	defer cancel()

	decision, err := o.limiter.Check(ctx, ratelimit.Key(accountID, o.settings.LimitType), budget)
	if err != nil {
		if errors.Is(err, ratelimit.ErrStoreUnavailable) {
			return nil, storeUnavailable("rate limit store unavailable", err)
		}
		return nil, &Error{Kind: KindInternal, Message: "rate limit check failed", Err: err}
	}
	return decision, nil
}

func (o *Orchestrator) budgetFor(ctx context.Context, accountID string) (ratelimit.Budget, error) {
	if o.resolver == nil {
		return o.settings.Budget, nil
	}

	ctx, cancel := o.storeContext(ctx)
	defer cancel()

	override, err := o.resolver.GetRateLimit(ctx, accountID, o.settings.LimitType)
	if err != nil {
		return ratelimit.Budget{}, storeUnavailable("failed to resolve rate limit", err)
	}
	if override == nil {
		return o.settings.Budget, nil
	}
	return ratelimit.Budget{
		MaxRequests: override.MaxRequests,
		Window:      time.Duration(override.WindowSeconds) * time.Second,
	}, nil
}

func (o *Orchestrator) persist(ctx context.Context, req *Request) (*model.Transaction, error) {
	scheduledAt := o.now().UTC()
	tx := &model.Transaction{
		ID:              o.newID(),
		AccountID:       req.AccountID,
		TransactionData: types.JSONText(req.Payload),
		Status:          domain.TransactionStatusPending,
		Priority:        req.Priority,
		RetryCount:      0,
		MaxRetries:      o.settings.DefaultMaxRetries,
		ScheduledAt:     &scheduledAt,
	}

	ctx, cancel := o.storeContext(ctx)
	defer cancel()

	if err := o.records.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrDuplicateTransaction) {
			return nil, &Error{Kind: KindPersistenceConflict, Message: "transaction already exists", Err: err}
		}
		return nil, storeUnavailable("failed to persist transaction", err)
	}
	return tx, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, req *Request, tx *model.Transaction) (int64, error) {
	ctx, cancel := o.storeContext(ctx)
	defer cancel()

	item := &queue.Item{
		ID:         tx.ID,
		AccountID:  tx.AccountID,
		Payload:    req.Payload,
		EnqueuedAt: o.now().UTC(),
	}
	if req.Priority != nil {
		return o.queue.EnqueueWithPriority(ctx, o.settings.QueueName, item, *req.Priority)
	}
	return o.queue.Enqueue(ctx, o.settings.QueueName, item)
}

// notifyRepair is best effort: the caller's response does not depend on it.
func (o *Orchestrator) notifyRepair(ctx context.Context, logger *slog.Logger, id string) {
	if o.notifier == nil {
		return
	}

	ctx, cancel := o.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := o.notifier.NotifyEnqueueFailed(ctx, o.settings.QueueName, id); err != nil {
		logger.Warn("Failed to publish repair hint", slog.Any("error", err))
	}
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.settings.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.settings.StoreTimeout)
}
