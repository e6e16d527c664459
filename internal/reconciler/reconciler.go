// Package reconciler repairs transactions that were persisted as pending but
// never reached the queue. Repair hints from the broker are the fast path; a
// periodic sweep of stale pending records is the backstop.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/queue"
	"github.com/cuongbtq/transaction-queue/internal/reconciler/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"
)

// ErrBrokerClosed is returned by Start when the hint consumer loses its channel
var ErrBrokerClosed = errors.New("repair hint consumer closed")

// Broker is the consuming half of the message bus
type Broker interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	NotifyClose() <-chan *amqp.Error
}

// Store reads durable transaction records
type Store interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, after *domain.StaleRef, limit int) ([]domain.StaleRef, error)
}

// Queue is the subset of the queue manager used for repairs
type Queue interface {
	Contains(ctx context.Context, name, id string) (bool, error)
	Enqueue(ctx context.Context, name string, item *queue.Item) (int64, error)
	EnqueueWithPriority(ctx context.Context, name string, item *queue.Item, priority int) (int64, error)
}

// Config holds reconciler configuration
type Config struct {
	Logger              *slog.Logger
	Store               Store
	Queue               Queue
	Broker              Broker // nil disables the hint consumer
	QueueName           string
	Concurrency         int
	PrefetchCount       int
	Interval            time.Duration
	GracePeriod         time.Duration
	BatchSize           int
	MaxRepairsPerSecond float64
}

// Reconciler re-enqueues pending transactions missing from the queue
type Reconciler struct {
	logger        *slog.Logger
	store         Store
	queue         Queue
	broker        Broker
	queueName     string
	concurrency   int
	prefetchCount int
	interval      time.Duration
	gracePeriod   time.Duration
	batchSize     int
	limiter       *rate.Limiter
	workerID      string
	now           func() time.Time

	tasksChan chan *domain.RepairTask
	brokerErr chan error
	wg        sync.WaitGroup
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewReconciler creates a new reconciler instance
func NewReconciler(cfg *Config) *Reconciler {
	limit := rate.Inf
	burst := 1
	if cfg.MaxRepairsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxRepairsPerSecond)
		burst = max(1, int(cfg.MaxRepairsPerSecond))
	}

	concurrency := max(1, cfg.Concurrency)

	return &Reconciler{
		logger:        cfg.Logger,
		store:         cfg.Store,
		queue:         cfg.Queue,
		broker:        cfg.Broker,
		queueName:     cfg.QueueName,
		concurrency:   concurrency,
		prefetchCount: max(cfg.PrefetchCount, concurrency),
		interval:      cfg.Interval,
		gracePeriod:   cfg.GracePeriod,
		batchSize:     cfg.BatchSize,
		limiter:       rate.NewLimiter(limit, burst),
		workerID:      "reconciler-" + uuid.NewString()[:8],
		now:           time.Now,
		tasksChan:     make(chan *domain.RepairTask, concurrency),
		brokerErr:     make(chan error, 1),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes hints, runs the sweep and blocks until ctx is canceled.
// It returns an error wrapping ErrBrokerClosed if the hint consumer dies, so
// the process can exit and be restarted with a fresh connection.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("Starting reconciler",
		slog.String("worker_id", r.workerID),
		slog.Int("concurrency", r.concurrency),
		slog.Duration("interval", r.interval),
		slog.Duration("grace_period", r.gracePeriod),
	)

	if r.broker != nil {
		deliveries, err := r.setupConsumer()
		if err != nil {
			return err
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.startMessageDispatcher(ctx, deliveries, r.broker.NotifyClose())
		}()
	} else {
		r.logger.Warn("Repair hint consumer disabled, relying on sweep only")
	}

	r.spawnWorkerPool(ctx)

	if r.interval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.sweepLoop(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		r.logger.Info("Reconciler context canceled, stopping...")
		return nil
	case err := <-r.brokerErr:
		r.logger.Error("Repair hint consumer failed", slog.String("error", err.Error()))
		return err
	}
}

// failBroker reports a dead hint consumer to Start; only the first report is kept
func (r *Reconciler) failBroker(err error) {
	select {
	case r.brokerErr <- err:
	default:
	}
}

// Stop signals every goroutine and waits for in-flight repairs to finish
func (r *Reconciler) Stop() {
	r.logger.Info("Stopping reconciler...")
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	r.logger.Info("Reconciler stopped")
}
