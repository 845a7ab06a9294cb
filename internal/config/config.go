package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargeledger/libs/config"
)

// HTTPConfig holds the listen address.
type HTTPConfig struct {
	Port string `yaml:"port" env:"COORDINATOR_HTTP_PORT"`
}

// DatabaseConfig holds the session store DSN and pool sizing.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" env:"COORDINATOR_POSTGRES_DSN"`
	MaxOpenConns int    `yaml:"maxOpenConns" env:"COORDINATOR_POSTGRES_MAX_CONNS"`
}

// RedisConfig holds the read-through cache settings.
type RedisConfig struct {
	Addr       string `yaml:"addr" env:"COORDINATOR_REDIS_ADDR"`
	Password   string `yaml:"password" env:"COORDINATOR_REDIS_PASSWORD"`
	TTLSeconds int    `yaml:"ttlSeconds" env:"COORDINATOR_REDIS_TTL"`
}

// LedgerConfig holds the ledger gateway connection settings.
type LedgerConfig struct {
	BaseURL        string `yaml:"baseUrl" env:"COORDINATOR_LEDGER_URL"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"COORDINATOR_LEDGER_TIMEOUT"`
	RetrySeconds   int    `yaml:"retrySeconds" env:"COORDINATOR_LEDGER_RETRY"`
}

// QueueConfig tunes the ledger write queue drain loop.
type QueueConfig struct {
	DrainIntervalSeconds int `yaml:"drainIntervalSeconds" env:"COORDINATOR_QUEUE_DRAIN_INTERVAL"`
	BatchSize            int `yaml:"batchSize" env:"COORDINATOR_QUEUE_BATCH_SIZE"`
	MaxAttempts          int `yaml:"maxAttempts" env:"COORDINATOR_QUEUE_MAX_ATTEMPTS"`
	BaseDelaySeconds     int `yaml:"baseDelaySeconds" env:"COORDINATOR_QUEUE_BASE_DELAY"`
	ReclaimAfterSeconds  int `yaml:"reclaimAfterSeconds" env:"COORDINATOR_QUEUE_RECLAIM_AFTER"`
}

// SessionConfig tunes lifecycle defaults.
type SessionConfig struct {
	DefaultExpiryHours int `yaml:"defaultExpiryHours" env:"COORDINATOR_SESSION_EXPIRY_HOURS"`
}

// AdminConfig guards the administrative interface.
type AdminConfig struct {
	Username        string `yaml:"username" env:"COORDINATOR_ADMIN_USERNAME"`
	PasswordHash    string `yaml:"passwordHash" env:"COORDINATOR_ADMIN_PASSWORD_HASH"`
	JWTSecret       string `yaml:"jwtSecret" env:"COORDINATOR_ADMIN_JWT_SECRET"`
	TokenTTLMinutes int    `yaml:"tokenTtlMinutes" env:"COORDINATOR_ADMIN_TOKEN_TTL"`
}

// NotifyConfig tunes the subscriber fan-out.
type NotifyConfig struct {
	PingIntervalSeconds int `yaml:"pingIntervalSeconds" env:"COORDINATOR_NOTIFY_PING_INTERVAL"`
}

// Config defines session coordinator configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Queue    QueueConfig    `yaml:"queue"`
	Session  SessionConfig  `yaml:"session"`
	Admin    AdminConfig    `yaml:"admin"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:     HTTPConfig{Port: "8090"},
		Database: DatabaseConfig{MaxOpenConns: 25},
		Redis:    RedisConfig{Addr: "localhost:6379", TTLSeconds: 60},
		Ledger:   LedgerConfig{TimeoutSeconds: 5, RetrySeconds: 5},
		Queue:    QueueConfig{DrainIntervalSeconds: 2, BatchSize: 10, MaxAttempts: 5, BaseDelaySeconds: 1, ReclaimAfterSeconds: 30},
		Session:  SessionConfig{DefaultExpiryHours: 6},
		Admin:    AdminConfig{Username: "admin", TokenTTLMinutes: 60},
		Notify:   NotifyConfig{PingIntervalSeconds: 30},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Ledger.BaseURL) == "" {
		return nil, errors.New("config: ledger base url required")
	}
	if strings.TrimSpace(cfg.Admin.JWTSecret) == "" {
		return nil, errors.New("config: admin jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// CacheTTL returns the session cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.Redis.TTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// LedgerTimeout returns the bounded per-call ledger timeout.
func (c *Config) LedgerTimeout() time.Duration {
	if c.Ledger.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Ledger.TimeoutSeconds) * time.Second
}

// LedgerRetryInterval returns the connect retry interval.
func (c *Config) LedgerRetryInterval() time.Duration {
	if c.Ledger.RetrySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Ledger.RetrySeconds) * time.Second
}

// DefaultExpiry returns the session expiry horizon.
func (c *Config) DefaultExpiry() time.Duration {
	if c.Session.DefaultExpiryHours <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(c.Session.DefaultExpiryHours) * time.Hour
}

// DrainInterval returns the queue drain tick.
func (c *Config) DrainInterval() time.Duration {
	if c.Queue.DrainIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Queue.DrainIntervalSeconds) * time.Second
}

// BaseRetryDelay returns the backoff base.
func (c *Config) BaseRetryDelay() time.Duration {
	if c.Queue.BaseDelaySeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Queue.BaseDelaySeconds) * time.Second
}

// ReclaimAfter returns the age at which a processing queue row is treated as
// orphaned and fetched again.
func (c *Config) ReclaimAfter() time.Duration {
	if c.Queue.ReclaimAfterSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Queue.ReclaimAfterSeconds) * time.Second
}

// AdminTokenTTL returns the operator JWT lifetime.
func (c *Config) AdminTokenTTL() time.Duration {
	if c.Admin.TokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Admin.TokenTTLMinutes) * time.Minute
}

// PingInterval returns the subscriber keepalive interval.
func (c *Config) PingInterval() time.Duration {
	if c.Notify.PingIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Notify.PingIntervalSeconds) * time.Second
}
