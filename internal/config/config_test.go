package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "transactions_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "transaction_repairs"},
			Queue:    AMQPQueueConfig{Name: "transaction_repairs"},
		},
		Reconciler: ReconcilerConfig{
			Interval:        30 * time.Second,
			GracePeriod:     2 * time.Minute,
			BatchSize:       500,
			Concurrency:     4,
			ShutdownTimeout: 30 * time.Second,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, 5432, cfg.Database.Port)
			assert.Equal(t, "transactions_db", cfg.Database.Database)
			assert.Equal(t, 6379, cfg.Redis.Port)
			assert.Equal(t, "transaction_repairs", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "transactions", cfg.Queue.Name)
			assert.Equal(t, 100, cfg.Admission.MaxRequests)
			assert.Equal(t, 60*time.Second, cfg.Admission.Window)
			assert.Equal(t, 24*time.Hour, cfg.Queue.ProjectionTTL)
			assert.Equal(t, 2*time.Minute, cfg.Reconciler.GracePeriod)
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 255, cfg.Admission.MaxAccountIDBytes)
	assert.Equal(t, 1<<20, cfg.Admission.MaxPayloadBytes)
	assert.Equal(t, -1000, cfg.Admission.MinPriority)
	assert.Equal(t, 1000, cfg.Admission.MaxPriority)
	assert.Equal(t, 3, cfg.Admission.DefaultMaxRetries)
	assert.Equal(t, 1000, cfg.Queue.PriorityCeiling)
	assert.Equal(t, int64(2<<20), cfg.Server.MaxBodyBytes)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched by the environment
	assert.Equal(t, "txq", cfg.Database.User)
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty redis host",
			mutate:    func(c *Config) { c.Redis.Host = "" },
			errString: "redis host is required",
		},
		{
			name:      "empty rabbitmq host when enabled",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq settings ignored when disabled",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = false
				c.RabbitMQ.Host = ""
			},
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "non-positive budget",
			mutate:    func(c *Config) { c.Admission.MaxRequests = -1 },
			errString: "admission max_requests must be greater than 0",
		},
		{
			name:      "sub-second window",
			mutate:    func(c *Config) { c.Admission.Window = 500 * time.Millisecond },
			errString: "admission window must be at least 1s",
		},
		{
			name:      "inverted priority bounds",
			mutate:    func(c *Config) { c.Admission.MinPriority, c.Admission.MaxPriority = 10, -10 },
			errString: "admission min_priority must not exceed max_priority",
		},
		{
			name:      "ceiling below max priority",
			mutate:    func(c *Config) { c.Queue.PriorityCeiling = 10 },
			errString: "queue priority_ceiling must be at least admission max_priority",
		},
		{
			name:      "body cap below payload bound",
			mutate:    func(c *Config) { c.Server.MaxBodyBytes = 1024 },
			errString: "server max_body_bytes must be at least admission max_payload_bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateReconcilerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero interval",
			mutate:    func(c *Config) { c.Reconciler.Interval = 0 },
			errString: "reconciler interval must be greater than 0",
		},
		{
			name:      "zero grace period",
			mutate:    func(c *Config) { c.Reconciler.GracePeriod = 0 },
			errString: "reconciler grace_period must be greater than 0",
		},
		{
			name:      "zero batch size",
			mutate:    func(c *Config) { c.Reconciler.BatchSize = 0 },
			errString: "reconciler batch_size must be greater than 0",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Reconciler.Concurrency = 0 },
			errString: "reconciler concurrency must be greater than 0",
		},
		{
			name:      "missing database",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateReconcilerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateReconcilerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
