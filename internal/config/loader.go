package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads every section of Config from the environment, falls back to
// the `default` tag for unset variables and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := reflect.ValueOf(cfg).Elem()
	for i := 0; i < sections.NumField(); i++ {
		if err := loadSection(sections.Field(i)); err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadSection fills one section struct. A field is read from its `env`
// variable, then `envAlt`, then its `default`.
func loadSection(section reflect.Value) error {
	t := section.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("env")
		if name == "" {
			continue
		}

		value := os.Getenv(name)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}
		if value == "" {
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(section.Field(i), value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// setField parses value into a string, integer or time.Duration field.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(value)
	case field.CanInt():
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	db := c.Database
	require(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	require(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	require(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	require(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	require(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	require(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	require(srv.MaxUploadSize > 0, "SERVER_MAX_UPLOAD_SIZE must be positive")

	p := c.Pipeline
	require(p.BatchSize > 0, "PIPELINE_BATCH_SIZE must be positive")
	require(p.Workers > 0, "PIPELINE_WORKERS must be positive")
	require(p.MaxAttempts > 0, "PIPELINE_MAX_ATTEMPTS must be positive")
	require(p.InitialBackoff > 0, "PIPELINE_INITIAL_BACKOFF must be positive")
	require(p.MaxBackoff >= p.InitialBackoff, "PIPELINE_MAX_BACKOFF must be >= PIPELINE_INITIAL_BACKOFF")
	require(p.WriteTimeout > 0, "PIPELINE_WRITE_TIMEOUT must be positive")
	if msg := checkDateLayout(p.DateLayout); msg != "" {
		errs = append(errs, msg)
	}
	require(p.MaxConcurrentRuns > 0, "PIPELINE_MAX_CONCURRENT_RUNS must be positive")
	require(p.MaxWaitTime > 0, "PIPELINE_MAX_WAIT_TIME must be positive")
	require(p.RunTimeout > 0, "PIPELINE_RUN_TIMEOUT must be positive")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	format := strings.ToLower(c.Logging.Format)
	require(format == "text" || format == "json", "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL (or DB_URL) is required")
	}
	return nil
}

// checkDateLayout rejects layouts that do not round-trip a calendar date.
func checkDateLayout(layout string) string {
	if layout == "" {
		return "PIPELINE_DATE_LAYOUT must not be empty"
	}
	ref := time.Date(2024, 11, 28, 0, 0, 0, 0, time.UTC)
	got, err := time.Parse(layout, ref.Format(layout))
	if err != nil || !got.Equal(ref) {
		return fmt.Sprintf("PIPELINE_DATE_LAYOUT (%q) must contain a year, month and day", layout)
	}
	return ""
}

// String renders the config for logging with the database URL masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Host: %q, Port: %d}, "+
		"Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Pipeline: {BatchSize: %d, Workers: %d, MaxAttempts: %d, DateLayout: %q}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Server.Host, c.Server.Port,
		c.Database.MaxConns, c.Database.MinConns,
		c.Pipeline.BatchSize, c.Pipeline.Workers, c.Pipeline.MaxAttempts, c.Pipeline.DateLayout,
		c.Logging.Level, c.Logging.Format)
}
