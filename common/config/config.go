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
	Engine    EngineConfig
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
	Enabled     bool
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

// RedisConfig holds Redis connection settings for the event publisher
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	MaxConcurrentTasks int
	MaxTasksPerType    map[string]int
	MaxTasksPerAgent   map[string]int
	DefaultNodeTimeout time.Duration
	SchedulerInterval  time.Duration
	RateLimits         map[string]int // tokens per second, keyed by node type
	ExecutionRetention time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
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
			Enabled:     getEnvBool("POSTGRES_ENABLED", false),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "workflow_engine"),
			User:        getEnv("POSTGRES_USER", "workflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "workflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			MaxConcurrentTasks: getEnvInt("ENGINE_MAX_CONCURRENT_TASKS", 100),
			MaxTasksPerType:    getEnvIntMap("ENGINE_MAX_TASKS_PER_TYPE"),
			MaxTasksPerAgent:   getEnvIntMap("ENGINE_MAX_TASKS_PER_AGENT"),
			DefaultNodeTimeout: getEnvDuration("ENGINE_DEFAULT_NODE_TIMEOUT", 300*time.Second),
			SchedulerInterval:  getEnvDuration("ENGINE_SCHEDULER_INTERVAL", 100*time.Millisecond),
			RateLimits:         getEnvIntMap("ENGINE_RATE_LIMITS"),
			ExecutionRetention: getEnvDuration("ENGINE_EXECUTION_RETENTION", 30*24*time.Hour),
		},
		Telemetry: TelemetryConfig{
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

	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be positive")
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

// getEnvIntMap parses "key1=10,key2=5" into a map
func getEnvIntMap(key string) map[string]int {
	result := make(map[string]int)
	value := os.Getenv(key)
	if value == "" {
		return result
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if n, err := strconv.Atoi(parts[1]); err == nil {
			result[parts[0]] = n
		}
	}

	return result
}
