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
	Devices   DevicesConfig
	Site      SiteConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	// PprofPort enables the localhost pprof server when positive.
	PprofPort int
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

// DevicesConfig holds device-backend settings
type DevicesConfig struct {
	// BaseURL of the Alpaca-style device management API.
	// Empty means no live backend; validation degrades to a warning.
	BaseURL string
	Timeout time.Duration
	// Simulate switches the execution engine to the built-in simulator.
	Simulate bool
}

// SiteConfig holds observatory site coordinates used for
// altitude/darkness/moon-separation telemetry
type SiteConfig struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	ElevationM   float64
}

// EngineConfig holds execution engine tuning knobs
type EngineConfig struct {
	// CancelPollInterval bounds how often long instructions check
	// for cancellation/pause (spec: sub-second to low-seconds).
	CancelPollInterval time.Duration
	// ProgressInterval bounds snapshot publication during long instructions.
	ProgressInterval time.Duration
	// TriggerPollInterval bounds recovery-trigger evaluation during
	// long-running children.
	TriggerPollInterval time.Duration
	SettleTimeout       time.Duration
	AutofocusTimeout    time.Duration
	// RetryBackoffBase is the first recovery-retry delay; it doubles per
	// attempt up to RetryBackoffCap.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
}

// RateLimitConfig holds the HTTP API request budgets
type RateLimitConfig struct {
	Enabled       bool
	GlobalLimit   int64
	ClientLimit   int64
	RunStartLimit int64
	WindowSeconds int
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
			PprofPort:   getEnvInt("PPROF_PORT", 0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "sequencer"),
			User:        getEnv("POSTGRES_USER", "sequencer"),
			Password:    getEnv("POSTGRES_PASSWORD", "sequencer"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Devices: DevicesConfig{
			BaseURL:  getEnv("DEVICE_API_URL", ""),
			Timeout:  getEnvDuration("DEVICE_API_TIMEOUT", 5*time.Second),
			Simulate: getEnvBool("DEVICE_SIMULATE", true),
		},
		Site: SiteConfig{
			LatitudeDeg:  getEnvFloat("SITE_LATITUDE", 0),
			LongitudeDeg: getEnvFloat("SITE_LONGITUDE", 0),
			ElevationM:   getEnvFloat("SITE_ELEVATION", 0),
		},
		Engine: EngineConfig{
			CancelPollInterval:  getEnvDuration("ENGINE_CANCEL_POLL", 500*time.Millisecond),
			ProgressInterval:    getEnvDuration("ENGINE_PROGRESS_INTERVAL", 2*time.Second),
			TriggerPollInterval: getEnvDuration("ENGINE_TRIGGER_POLL", 5*time.Second),
			SettleTimeout:       getEnvDuration("ENGINE_SETTLE_TIMEOUT", 2*time.Minute),
			AutofocusTimeout:    getEnvDuration("ENGINE_AUTOFOCUS_TIMEOUT", 10*time.Minute),
			RetryBackoffBase:    getEnvDuration("ENGINE_RETRY_BACKOFF_BASE", 2*time.Second),
			RetryBackoffCap:     getEnvDuration("ENGINE_RETRY_BACKOFF_CAP", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
			GlobalLimit:   int64(getEnvInt("RATE_LIMIT_GLOBAL", 600)),
			ClientLimit:   int64(getEnvInt("RATE_LIMIT_CLIENT", 240)),
			RunStartLimit: int64(getEnvInt("RATE_LIMIT_RUN_STARTS", 10)),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
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

	if c.Site.LatitudeDeg < -90 || c.Site.LatitudeDeg > 90 {
		return fmt.Errorf("invalid site latitude: %f", c.Site.LatitudeDeg)
	}

	if c.Site.LongitudeDeg < -180 || c.Site.LongitudeDeg > 180 {
		return fmt.Errorf("invalid site longitude: %f", c.Site.LongitudeDeg)
	}

	if c.Engine.CancelPollInterval <= 0 || c.Engine.CancelPollInterval > 5*time.Second {
		return fmt.Errorf("cancel poll interval must be within (0, 5s]: %s", c.Engine.CancelPollInterval)
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatVal
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
