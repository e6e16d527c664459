package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/api/handler"
	"github.com/cuongbtq/transaction-queue/internal/api/router"
	"github.com/cuongbtq/transaction-queue/internal/api/storage"
	"github.com/cuongbtq/transaction-queue/internal/api/submission"
	"github.com/cuongbtq/transaction-queue/internal/config"
	"github.com/cuongbtq/transaction-queue/internal/queue"
	"github.com/cuongbtq/transaction-queue/internal/ratelimit"
	"github.com/cuongbtq/transaction-queue/internal/repair"
	"github.com/cuongbtq/transaction-queue/migrations"
	"github.com/cuongbtq/transaction-queue/shared/logger"
	"github.com/cuongbtq/transaction-queue/shared/postgresql"
	"github.com/cuongbtq/transaction-queue/shared/rabbitmq"
	"github.com/cuongbtq/transaction-queue/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := dbClient.Migrate(migrateCtx, migrations.FS)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	redisClient, err := initRedis(&cfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	checks := map[string]handler.HealthChecker{
		"postgresql": dbClient,
		"redis":      redisClient,
	}

	// Repair hints are optional; without them the reconciler sweep still
	// recovers unqueued records.
	var notifier submission.RepairNotifier
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		notifier = repair.NewPublisher(rabbitClient, appLogger.Component("repair"))
		checks["rabbitmq"] = rabbitClient
	}

	store := storage.NewStorage(dbClient)

	limiter := ratelimit.New(redisClient.GetClient(),
		ratelimit.WithLogger(appLogger.Component("ratelimit")),
	)

	queueOpts := []queue.Option{
		queue.WithLogger(appLogger.Component("queue")),
		queue.WithPriorityCeiling(cfg.Queue.PriorityCeiling),
		queue.WithProjectionTTL(cfg.Queue.ProjectionTTL),
	}
	if cfg.Queue.KeyPrefix != "" {
		queueOpts = append(queueOpts, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
	}
	queueManager := queue.New(redisClient.GetClient(), queueOpts...)

	orchestrator := submission.New(&submission.Dependencies{
		Records:  store,
		Resolver: store,
		Limiter:  limiter,
		Queue:    queueManager,
		Notifier: notifier,
		Logger:   appLogger.Component("submission"),
	}, submission.Settings{
		Limits: submission.Limits{
			MaxAccountIDBytes: cfg.Admission.MaxAccountIDBytes,
			MaxPayloadBytes:   cfg.Admission.MaxPayloadBytes,
			MinPriority:       cfg.Admission.MinPriority,
			MaxPriority:       cfg.Admission.MaxPriority,
		},
		Budget: ratelimit.Budget{
			MaxRequests: cfg.Admission.MaxRequests,
			Window:      cfg.Admission.Window,
		},
		LimitType:          cfg.Admission.LimitType,
		StoreTimeout:       cfg.Admission.StoreTimeout,
		DefaultMaxRetries:  cfg.Admission.DefaultMaxRetries,
		QueueName:          cfg.Queue.Name,
		BaseSecondsPerItem: int64(cfg.Queue.BaseSecondsPerItem),
		MaxEstimateSeconds: int64(cfg.Queue.MaxEstimateSeconds),
	})

	r := initRouter(cfg, &handler.Dependencies{
		Logger:       appLogger.Component("http"),
		ServiceName:  cfg.App.Name,
		Submitter:    orchestrator,
		Transactions: store,
		Queue:        queueManager,
		QueueName:    cfg.Queue.Name,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Checks:       checks,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.String("queue", cfg.Queue.Name),
		slog.Int("max_requests", cfg.Admission.MaxRequests),
		slog.Duration("window", cfg.Admission.Window),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRedis initializes the shared counter store client
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
