package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database postgres.Config

	// Redis configuration
	Redis postgres.RedisConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	AuditEnabled   bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MERIDIAN_HOST", "0.0.0.0"),
		Port:            getEnv("MERIDIAN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MERIDIAN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MERIDIAN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MERIDIAN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MERIDIAN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("MERIDIAN_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() postgres.Config {
	cfg := postgres.DefaultConfig(getEnv("MERIDIAN_POSTGRES_URL", ""))

	if maxConns := getEnvInt("MERIDIAN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("MERIDIAN_POSTGRES_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if timeout := getEnvDuration("MERIDIAN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.ConnectTimeout = timeout
	}

	return cfg
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        getEnv("MERIDIAN_REDIS_URL", ""),
		Password:   getEnv("MERIDIAN_REDIS_PASSWORD", ""),
		DB:         getEnvInt("MERIDIAN_REDIS_DB", 0),
		MaxRetries: getEnvInt("MERIDIAN_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("MERIDIAN_REDIS_POOL_SIZE", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(strings.ToLower(getEnv("MERIDIAN_LOG_LEVEL", "info"))),
		MetricsEnabled: getEnvBool("MERIDIAN_METRICS_ENABLED", true),
		AuditEnabled:   getEnvBool("MERIDIAN_AUDIT_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Redis is optional: without it the authorization cache is disabled and
	// every resolution computes from the store.
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
