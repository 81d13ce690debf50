package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
)

type Config struct {
	// HTTP Server
	Port string
	// Write requests allowed per client per minute. Zero disables limiting.
	RateLimitPerMinute int

	// Database
	SQLiteDBPath string

	// AMQP. An empty URL disables event forwarding and the import consumer.
	AMQPURL              string
	AMQPExchange         string
	AMQPEventsRoutingKey string
	AMQPImportQueue      string

	// Locking and retries
	LockTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Rollover
	RolloverCheckInterval time.Duration
	RolloverDay           int
	RolloverCarryPolicy   string

	// Consistency
	VerifyWrites bool

	// Analytics cache
	CacheTTL  time.Duration
	CacheSize int

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		SQLiteDBPath:       getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPEventsRoutingKey: getEnv("AMQP_EVENTS_ROUTING_KEY", "ledger.events"),
		AMQPImportQueue:      getEnv("AMQP_IMPORT_QUEUE", "ledger_imports"),

		LockTimeout:      getEnvDuration("LOCK_TIMEOUT", 5*time.Second),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 10*time.Millisecond),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 500*time.Millisecond),

		RolloverCheckInterval: getEnvDuration("ROLLOVER_CHECK_INTERVAL", time.Hour),
		RolloverDay:           getEnvInt("ROLLOVER_DAY", 1),
		RolloverCarryPolicy:   getEnv("ROLLOVER_CARRY_POLICY", string(core.CarryForfeit)),

		VerifyWrites: getEnvBool("VERIFY_WRITES", false),

		CacheTTL:  getEnvDuration("CACHE_TTL", 30*time.Second),
		CacheSize: getEnvInt("CACHE_SIZE", 128),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// AMQPEnabled reports whether a broker is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// CarryPolicy returns the parsed carry policy. Call Validate first.
func (c *Config) CarryPolicy() core.CarryPolicy {
	p, err := core.ParseCarryPolicy(c.RolloverCarryPolicy)
	if err != nil {
		return core.CarryForfeit
	}
	return p
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPImportQueue == "" {
			errors = append(errors, "AMQP import queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsRoutingKey == "" {
			errors = append(errors, "AMQP events routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.LockTimeout < time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid lock timeout %v: must be at least 1ms", c.LockTimeout))
	} else if c.LockTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid lock timeout %v: must be at most 1 minute", c.LockTimeout))
	}

	if c.RetryMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid retry max attempts %d: must be at least 1", c.RetryMaxAttempts))
	} else if c.RetryMaxAttempts > 100 {
		errors = append(errors, fmt.Sprintf("invalid retry max attempts %d: must be at most 100", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid retry base delay %v: must be positive", c.RetryBaseDelay))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errors = append(errors, fmt.Sprintf("invalid retry max delay %v: must not be below the base delay %v", c.RetryMaxDelay, c.RetryBaseDelay))
	}

	if c.RolloverCheckInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rollover check interval %v: must be at least 1 second", c.RolloverCheckInterval))
	} else if c.RolloverCheckInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rollover check interval %v: must be at most 24 hours", c.RolloverCheckInterval))
	}
	if c.RolloverDay < 1 || c.RolloverDay > 31 {
		errors = append(errors, fmt.Sprintf("invalid rollover day %d: must be between 1 and 31", c.RolloverDay))
	}
	if _, err := core.ParseCarryPolicy(c.RolloverCarryPolicy); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rollover carry policy '%s': must be 'forfeit' or 'debt'", c.RolloverCarryPolicy))
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
