package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Queue      QueueConfig      `yaml:"queue"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DATABASE_HOST"`
	Port            int           `yaml:"port" env:"DATABASE_PORT"`
	User            string        `yaml:"user" env:"DATABASE_USER"`
	Password        string        `yaml:"password" env:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// RedisConfig holds the shared counter store connection and pool configuration
type RedisConfig struct {
	Host         string        `yaml:"host" env:"REDIS_HOST"`
	Port         int           `yaml:"port" env:"REDIS_PORT"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" env:"REDIS_DB"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolTimeout  time.Duration `yaml:"pool_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled" env:"RABBITMQ_ENABLED"`
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// AdmissionConfig holds validation bounds and the default per-account budget
type AdmissionConfig struct {
	MaxRequests       int           `yaml:"max_requests"`
	Window            time.Duration `yaml:"window"`
	LimitType         string        `yaml:"limit_type"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	MaxAccountIDBytes int           `yaml:"max_account_id_bytes"`
	MaxPayloadBytes   int           `yaml:"max_payload_bytes"`
	MinPriority       int           `yaml:"min_priority"`
	MaxPriority       int           `yaml:"max_priority"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
}

// QueueConfig holds priority queue naming and delay estimation settings
type QueueConfig struct {
	Name               string        `yaml:"name"`
	KeyPrefix          string        `yaml:"key_prefix"`
	PriorityCeiling    int           `yaml:"priority_ceiling"`
	BaseSecondsPerItem int           `yaml:"base_seconds_per_item"`
	MaxEstimateSeconds int           `yaml:"max_estimate_seconds"`
	ProjectionTTL      time.Duration `yaml:"projection_ttl"`
}

// ReconcilerConfig holds the repair worker settings
type ReconcilerConfig struct {
	Interval            time.Duration `yaml:"interval"`
	GracePeriod         time.Duration `yaml:"grace_period"`
	BatchSize           int           `yaml:"batch_size"`
	Concurrency         int           `yaml:"concurrency"`
	MaxRepairsPerSecond float64       `yaml:"max_repairs_per_second"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the YAML file and then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	a := &c.Admission
	if a.MaxRequests == 0 {
		a.MaxRequests = 100
	}
	if a.Window == 0 {
		a.Window = 60 * time.Second
	}
	if a.LimitType == "" {
		a.LimitType = "submit"
	}
	if a.StoreTimeout == 0 {
		a.StoreTimeout = 2 * time.Second
	}
	if a.MaxAccountIDBytes == 0 {
		a.MaxAccountIDBytes = 255
	}
	if a.MaxPayloadBytes == 0 {
		a.MaxPayloadBytes = 1 << 20
	}
	if a.MinPriority == 0 && a.MaxPriority == 0 {
		a.MinPriority, a.MaxPriority = -1000, 1000
	}
	if a.DefaultMaxRetries == 0 {
		a.DefaultMaxRetries = 3
	}

	q := &c.Queue
	if q.Name == "" {
		q.Name = "transactions"
	}
	if q.PriorityCeiling == 0 {
		q.PriorityCeiling = a.MaxPriority
	}
	if q.BaseSecondsPerItem == 0 {
		q.BaseSecondsPerItem = 30
	}
	if q.MaxEstimateSeconds == 0 {
		q.MaxEstimateSeconds = 3600
	}

	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 2 * int64(a.MaxPayloadBytes)
	}
}

// ValidateAPIConfig checks the settings the submission service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateStores(); err != nil {
		return err
	}

	if c.Admission.MaxRequests <= 0 {
		return fmt.Errorf("admission max_requests must be greater than 0")
	}

	if c.Admission.Window < time.Second {
		return fmt.Errorf("admission window must be at least 1s")
	}

	if c.Admission.MinPriority > c.Admission.MaxPriority {
		return fmt.Errorf("admission min_priority must not exceed max_priority")
	}

	if c.Queue.PriorityCeiling < c.Admission.MaxPriority {
		return fmt.Errorf("queue priority_ceiling must be at least admission max_priority")
	}

	if c.Queue.BaseSecondsPerItem <= 0 || c.Queue.MaxEstimateSeconds <= 0 {
		return fmt.Errorf("queue estimate settings must be greater than 0")
	}

	if int64(c.Admission.MaxPayloadBytes) > c.Server.MaxBodyBytes {
		return fmt.Errorf("server max_body_bytes must be at least admission max_payload_bytes")
	}

	return nil
}

// ValidateReconcilerConfig checks the settings the repair worker depends on
func (c *Config) ValidateReconcilerConfig() error {
	if err := c.validateStores(); err != nil {
		return err
	}

	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler interval must be greater than 0")
	}

	if c.Reconciler.GracePeriod <= 0 {
		return fmt.Errorf("reconciler grace_period must be greater than 0")
	}

	if c.Reconciler.BatchSize <= 0 {
		return fmt.Errorf("reconciler batch_size must be greater than 0")
	}

	if c.Reconciler.Concurrency <= 0 {
		return fmt.Errorf("reconciler concurrency must be greater than 0")
	}

	if c.Reconciler.ShutdownTimeout <= 0 {
		return fmt.Errorf("reconciler shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateStores() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}

	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
