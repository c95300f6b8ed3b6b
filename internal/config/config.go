// Package config loads the import service settings from the environment.
//
// Every field is bound to an environment variable through struct tags and
// has a default, so a bare environment yields a working in-memory setup.
// Validate reports all problems at once so a misconfigured deploy fails on
// startup with the full list.
package config

import (
	"net"
	"strconv"
	"time"
)

// Ledger backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds the drain of in-flight imports on exit.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to every route except the import upload, which
	// is bounded by Import.Timeout instead.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `env:"METRICS_ENABLED" default:"true"`
}

// DatabaseConfig holds PostgreSQL pool settings. Only used by the postgres
// ledger backend.
type DatabaseConfig struct {
	// URL accepts DATABASE_URL or DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// LedgerConfig selects where accounts and entries live.
type LedgerConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `env:"LEDGER_BACKEND" default:"postgres"`

	// SeedAccounts pre-creates zero-balance accounts in the memory backend.
	SeedAccounts []string `env:"LEDGER_SEED_ACCOUNTS"`

	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool `env:"LEDGER_AUTO_MIGRATE" default:"false"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 10MB).
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrent is the number of runs allowed at once.
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a run waits for a free slot.
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds the apply stage of one run.
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"5m"`

	// Workers is the apply concurrency inside one run; 1 keeps file order.
	Workers int `env:"IMPORT_WORKERS" default:"1"`

	DefaultDelimiter string `env:"IMPORT_DEFAULT_DELIMITER" default:","`

	// DefaultEncoding is empty for strict UTF-8.
	DefaultEncoding string `env:"IMPORT_DEFAULT_ENCODING"`
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for the upload endpoint.
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies lists CIDRs allowed to set forwarding headers.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enforces X-API-Key on /api routes.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
