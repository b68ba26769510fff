package database

import (
	"time"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/validation"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects the driver and tunes the connection pool. Durations accept
// Go syntax in YAML and env ("30m", "200ms").
type Config struct {
	Driver string `yaml:"driver" json:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	// DSN is a libpq URL for postgres and a file path for sqlite.
	DSN string `yaml:"dsn" json:"dsn" mapstructure:"dsn" validate:"required"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=1,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time" validate:"gte=0"`

	// MaxRetries bounds connect attempts at startup.
	MaxRetries int `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries" validate:"gte=1"`
	// Queries slower than this are logged at warn.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold" mapstructure:"slow_query_threshold" validate:"gte=0"`
	// LogLevel is gorm's level: silent, error, warn or info.
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=silent error warn info"`
}

func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	switch {
	case c.Driver == DriverSQLite:
		// one writer at a time, or SQLITE_BUSY
		c.MaxOpenConns, c.MaxIdleConns = 1, 1
	default:
		if c.MaxOpenConns <= 0 {
			c.MaxOpenConns = 25
		}
		if c.MaxIdleConns <= 0 {
			c.MaxIdleConns = 5
		}
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.SlowQueryThreshold == 0 {
		c.SlowQueryThreshold = 200 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// Validate checks c against its tags. Errors are INVALID_INPUT AppErrors.
func (c *Config) Validate() error {
	return validation.ValidateAs(c, apperrors.ErrCodeInvalidInput)
}
