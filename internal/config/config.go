// Package config holds the immutable runtime configuration shared by the
// compiler, loader, and connection layer.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config is the top-level configuration value. It is read once and then passed
// by value; nothing mutates it after Load returns.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Relation      RelationConfig      `mapstructure:"relation"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// DatabaseConfig describes how to reach the database.
type DatabaseConfig struct {
	Driver   string     `mapstructure:"driver"`
	DSN      string     `mapstructure:"dsn"`
	Host     string     `mapstructure:"host"`
	Port     int        `mapstructure:"port"`
	User     string     `mapstructure:"user"`
	Password string     `mapstructure:"password"`
	Database string     `mapstructure:"database"`
	SSLMode  string     `mapstructure:"ssl_mode"`
	Pool     PoolConfig `mapstructure:"pool"`
}

// PoolConfig configures database/sql connection pooling.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// RelationConfig tunes query compilation and loading.
type RelationConfig struct {
	// TimeZone is the IANA zone loaded time values are converted into.
	TimeZone string `mapstructure:"time_zone"`
	// BatchSize is the default InBatches window.
	BatchSize int `mapstructure:"batch_size"`
	// PreloadConcurrency bounds concurrent association queries on one level.
	PreloadConcurrency int `mapstructure:"preload_concurrency"`
	// MaxInListSize splits preload key lists into chunks; 0 means unlimited.
	MaxInListSize int `mapstructure:"max_in_list_size"`
	// PreparedStatements enables the prepared statement cache.
	PreparedStatements bool `mapstructure:"prepared_statements"`
	StmtCacheCapacity  int  `mapstructure:"stmt_cache_capacity"`
	// ValidateRawFragments rejects raw SQL fragments matching injection patterns.
	ValidateRawFragments bool `mapstructure:"validate_raw_fragments"`
	// SensitiveFields are masked in logged parameters.
	SensitiveFields []string `mapstructure:"sensitive_fields"`
}

// LoggingConfig selects the slog handler built by logger.New.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Audit selects audited operations: none, writes or all.
	Audit string `mapstructure:"audit"`
}

// ObservabilityConfig toggles tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled bool `mapstructure:"tracing_enabled"`
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	// DriverInstrumentation wraps the driver with otelsql on Open.
	DriverInstrumentation bool `mapstructure:"driver_instrumentation"`
	SQLCommenterEnabled   bool `mapstructure:"sqlcommenter_enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: ":memory:",
		},
		Relation: RelationConfig{
			TimeZone:           "UTC",
			BatchSize:          1000,
			PreloadConcurrency: 1,
			StmtCacheCapacity:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Audit:  "none",
		},
	}
}

// Location returns the configured time zone.
func (c Config) Location() (*time.Location, error) {
	switch c.Relation.TimeZone {
	case "", "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Relation.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("relation.time_zone: %w", err)
	}
	return loc, nil
}

// DataSourceName returns the DSN to hand to sql.Open. An explicit DSN wins;
// otherwise one is assembled from the discrete fields for the driver.
func (d DatabaseConfig) DataSourceName() string {
	if d.DSN != "" {
		return d.DSN
	}

	switch d.Driver {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = d.address(3306)
		cfg.DBName = d.Database
		cfg.ParseTime = true
		return cfg.FormatDSN()
	case "postgres", "postgresql", "pgx":
		u := url.URL{
			Scheme: "postgres",
			Host:   d.address(5432),
			Path:   "/" + d.Database,
		}
		if d.User != "" {
			if d.Password != "" {
				u.User = url.UserPassword(d.User, d.Password)
			} else {
				u.User = url.User(d.User)
			}
		}
		if d.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
		}
		return u.String()
	default:
		return d.Database
	}
}

func (d DatabaseConfig) address(defaultPort int) string {
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ValidationError describes a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors []ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	switch c.Database.Driver {
	case "mysql", "postgres", "postgresql", "pgx", "sqlite", "sqlite3":
	default:
		result.add("database.driver", "unsupported driver %q", c.Database.Driver)
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		result.add("database.port", "port %d is out of valid range (1-65535)", c.Database.Port)
	}
	if c.Database.Pool.MaxOpen < 0 || c.Database.Pool.MaxIdle < 0 {
		result.add("database.pool", "pool sizes must not be negative")
	}

	if c.Relation.BatchSize <= 0 {
		result.add("relation.batch_size", "must be positive, got %d", c.Relation.BatchSize)
	}
	if c.Relation.PreloadConcurrency < 1 {
		result.add("relation.preload_concurrency", "must be at least 1, got %d", c.Relation.PreloadConcurrency)
	}
	if c.Relation.MaxInListSize < 0 {
		result.add("relation.max_in_list_size", "must not be negative, got %d", c.Relation.MaxInListSize)
	}
	if c.Relation.StmtCacheCapacity < 0 {
		result.add("relation.stmt_cache_capacity", "must not be negative, got %d", c.Relation.StmtCacheCapacity)
	}
	if _, err := c.Location(); err != nil {
		result.add("relation.time_zone", "unknown time zone %q", c.Relation.TimeZone)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		result.add("logging.level", "must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		result.add("logging.format", "must be json or text; got %q", c.Logging.Format)
	}
	switch c.Logging.Audit {
	case "", "none", "writes", "all":
	default:
		result.add("logging.audit", "must be one of none, writes, all; got %q", c.Logging.Audit)
	}

	return result
}
