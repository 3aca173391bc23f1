// Package config loads salesqc settings from environment variables,
// applies defaults, and validates everything up front so misconfiguration
// fails at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings for the serve command.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, runs can be long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining runs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxUploadSize is the largest accepted CSV body in bytes (default: 100MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"104857600"`
}

// DatabaseConfig holds database connection settings. The URL is only
// required by commands that touch PostgreSQL.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// PipelineConfig holds run processing settings.
type PipelineConfig struct {
	// BatchSize is the number of rows per persistence write (default: 1000)
	BatchSize int `env:"PIPELINE_BATCH_SIZE" default:"1000"`

	// Workers is the validation and transformation fan-out (default: 4)
	Workers int `env:"PIPELINE_WORKERS" default:"4"`

	// MaxAttempts is the number of tries per persistence write (default: 3)
	MaxAttempts int `env:"PIPELINE_MAX_ATTEMPTS" default:"3"`

	// InitialBackoff is the first retry delay (default: 100ms)
	InitialBackoff time.Duration `env:"PIPELINE_INITIAL_BACKOFF" default:"100ms"`

	// MaxBackoff caps the retry delay (default: 2s)
	MaxBackoff time.Duration `env:"PIPELINE_MAX_BACKOFF" default:"2s"`

	// WriteTimeout bounds a single write attempt (default: 30s)
	WriteTimeout time.Duration `env:"PIPELINE_WRITE_TIMEOUT" default:"30s"`

	// DateLayout is the one accepted order_date layout, in Go reference form (default: 2006-01-02)
	DateLayout string `env:"PIPELINE_DATE_LAYOUT" default:"2006-01-02"`

	// MaxConcurrentRuns bounds runs started through the API (default: 4)
	MaxConcurrentRuns int `env:"PIPELINE_MAX_CONCURRENT_RUNS" default:"4"`

	// MaxWaitTime is how long a request waits for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"PIPELINE_MAX_WAIT_TIME" default:"30s"`

	// RunTimeout bounds a whole run (default: 10m)
	RunTimeout time.Duration `env:"PIPELINE_RUN_TIMEOUT" default:"10m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
