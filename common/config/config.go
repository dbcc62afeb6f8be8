package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Credits   CreditsConfig
	Crypto    CryptoConfig
	Callback  CallbackConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds two-level cache settings
type CacheConfig struct {
	Enabled       bool
	L1Capacity    int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	UseRedisL2    bool
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Partitions   int
	PollInterval time.Duration
}

// SchedulerConfig holds per-execution scheduler settings
type SchedulerConfig struct {
	Concurrency     int
	TaskQueueSize   int
	NodeTimeout     time.Duration
	WorkflowTimeout time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	CancelGrace     time.Duration
}

// CreditsConfig holds credit metering settings
type CreditsConfig struct {
	RateLimitPerMinute int64
}

// CryptoConfig holds credential encryption settings
type CryptoConfig struct {
	// Keys maps key id -> base64 master key; ActiveKeyID selects the
	// key used for new envelopes, older ids stay decryptable.
	Keys        map[string]string
	ActiveKeyID string
}

// CallbackConfig holds worker callback settings: where the runner
// posts status updates and how they are verified.
type CallbackConfig struct {
	DispatcherURL string
	SharedSecret  string
	TTL           time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPath   string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "loom"),
			User:        getEnv("POSTGRES_USER", "loom"),
			Password:    getEnv("POSTGRES_PASSWORD", "loom"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CACHE_ENABLED", true),
			L1Capacity:    getEnvInt("CACHE_L1_CAPACITY", 10000),
			DefaultTTL:    getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
			SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 60*time.Second),
			UseRedisL2:    getEnvBool("CACHE_USE_REDIS_L2", true),
		},
		Queue: QueueConfig{
			Partitions:   getEnvInt("QUEUE_PARTITIONS", 16),
			PollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		},
		Scheduler: SchedulerConfig{
			Concurrency:     getEnvInt("SCHEDULER_CONCURRENCY", 10),
			TaskQueueSize:   getEnvInt("SCHEDULER_TASK_QUEUE_SIZE", 100),
			NodeTimeout:     getEnvDuration("SCHEDULER_NODE_TIMEOUT", 30*time.Second),
			WorkflowTimeout: getEnvDuration("SCHEDULER_WORKFLOW_TIMEOUT", 1*time.Hour),
			MaxAttempts:     getEnvInt("SCHEDULER_MAX_ATTEMPTS", 3),
			RetryDelay:      getEnvDuration("SCHEDULER_RETRY_DELAY", 2*time.Second),
			MaxRetryDelay:   getEnvDuration("SCHEDULER_MAX_RETRY_DELAY", 5*time.Minute),
			CancelGrace:     getEnvDuration("SCHEDULER_CANCEL_GRACE", 5*time.Second),
		},
		Credits: CreditsConfig{
			RateLimitPerMinute: int64(getEnvInt("WORKSPACE_RATE_LIMIT_PER_MINUTE", 100)),
		},
		Crypto: CryptoConfig{
			Keys:        parseKeyRing(getEnv("CREDENTIAL_MASTER_KEYS", "")),
			ActiveKeyID: getEnv("CREDENTIAL_ACTIVE_KEY_ID", "v1"),
		},
		Callback: CallbackConfig{
			DispatcherURL: getEnv("DISPATCHER_URL", ""),
			SharedSecret:  getEnv("CALLBACK_SHARED_SECRET", ""),
			TTL:           getEnvDuration("CALLBACK_TTL", 300*time.Second),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPath:   getEnv("METRICS_PATH", "/metrics"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be >= 1")
	}

	if c.Queue.Partitions < 1 {
		return fmt.Errorf("queue partitions must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// parseKeyRing parses "v1:base64key,v2:base64key" into a key ring map
func parseKeyRing(raw string) map[string]string {
	ring := make(map[string]string)
	if raw == "" {
		return ring
	}
	for _, pair := range strings.Split(raw, ",") {
		id, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" || key == "" {
			continue
		}
		ring[id] = key
	}
	return ring
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
