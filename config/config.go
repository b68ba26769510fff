package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/validation"
)

// ServiceName is used to locate config.yml and .env files.
const ServiceName = "agentflow"

// Lock backends.
const (
	LockBackendPostgres = "postgres"
	LockBackendFile     = "file"
)

// Config is the full engine configuration.
type Config struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Database      database.Config      `yaml:"database" mapstructure:"database"`
	Engine        EngineConfig         `yaml:"engine" mapstructure:"engine"`
	Agent         AgentConfig          `yaml:"agent" mapstructure:"agent"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// EngineConfig tunes the scheduler and the publish path.
type EngineConfig struct {
	Workers        int           `json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=1"`
	PollInterval   time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`
	ShadowTimeout  time.Duration `json:"shadow_timeout" yaml:"shadow_timeout" mapstructure:"shadow_timeout" validate:"gt=0"`
	StagingRoot    string        `json:"staging_root" yaml:"staging_root" mapstructure:"staging_root" validate:"required"`
	ProductionRoot string        `json:"production_root" yaml:"production_root" mapstructure:"production_root" validate:"required"`
	LockDir        string        `json:"lock_dir" yaml:"lock_dir" mapstructure:"lock_dir" validate:"required_if=LockBackend file"`
	LockBackend    string        `json:"lock_backend" yaml:"lock_backend" mapstructure:"lock_backend" validate:"oneof=postgres file"`
	WorkflowFile   string        `json:"workflow_file" yaml:"workflow_file" mapstructure:"workflow_file"`
	MaxFileSize    int64         `json:"max_file_size" yaml:"max_file_size" mapstructure:"max_file_size" validate:"gte=0"`
}

// AgentConfig wraps every agent call.
type AgentConfig struct {
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	BreakerFailures int           `json:"breaker_failures" yaml:"breaker_failures" mapstructure:"breaker_failures" validate:"gte=0"`
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown" mapstructure:"breaker_cooldown" validate:"gte=0"`
	MaxConcurrent   int           `json:"max_concurrent" yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`
	ConcurrencyWait time.Duration `json:"concurrency_wait" yaml:"concurrency_wait" mapstructure:"concurrency_wait" validate:"gte=0"`
}

// ApplyDefaults fills every zero value.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()

	if c.Database.Driver == "" {
		c.Database.Driver = database.DriverSQLite
	}
	if c.Database.Driver == database.DriverSQLite && c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(dataDir(), "agentflow.db")
	}
	c.Database.ApplyDefaults()

	c.Engine.applyDefaults(c.Database.Driver)
	c.Agent.applyDefaults()
	c.Observability.ApplyDefaults()
}

func (e *EngineConfig) applyDefaults(driver string) {
	if e.Workers <= 0 {
		e.Workers = 3
	}
	if e.PollInterval <= 0 {
		e.PollInterval = 250 * time.Millisecond
	}
	if e.ShadowTimeout <= 0 {
		e.ShadowTimeout = 5 * time.Minute
	}
	if e.StagingRoot == "" {
		e.StagingRoot = filepath.Join(os.TempDir(), "agentflow", "staging")
	}
	if e.ProductionRoot == "" {
		e.ProductionRoot = filepath.Join(dataDir(), "sites")
	}
	if e.LockBackend == "" {
		e.LockBackend = LockBackendFile
		if driver == database.DriverPostgres {
			e.LockBackend = LockBackendPostgres
		}
	}
	if e.LockDir == "" {
		e.LockDir = filepath.Join(os.TempDir(), "agentflow", "locks")
	}
	if e.MaxFileSize == 0 {
		e.MaxFileSize = 10 * 1024 * 1024
	}
}

func (a *AgentConfig) applyDefaults() {
	if a.Timeout == 0 {
		a.Timeout = 2 * time.Minute
	}
	if a.BreakerFailures == 0 {
		a.BreakerFailures = 5
	}
	if a.BreakerCooldown == 0 {
		a.BreakerCooldown = 30 * time.Second
	}
	if a.ConcurrencyWait == 0 {
		a.ConcurrencyWait = 30 * time.Second
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("config.database: %w", err)
	}
	if err := validation.Validate(c.Engine); err != nil {
		return fmt.Errorf("config.engine: %w", err)
	}
	if c.Engine.LockBackend == LockBackendPostgres && c.Database.Driver != database.DriverPostgres {
		return fmt.Errorf("config.engine: lock_backend %q requires the %s driver", LockBackendPostgres, database.DriverPostgres)
	}
	if err := validation.Validate(c.Agent); err != nil {
		return fmt.Errorf("config.agent: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("config.observability: %w", err)
	}
	return nil
}

// Load reads path (or the default search locations when empty), applies
// defaults and validates.
func Load(path string, opts ...LoaderOption) (*Config, error) {
	if path != "" {
		opts = append(opts, WithConfigFile(path))
	}
	var cfg Config
	if err := LoadConfig(ServiceName, &cfg, opts...); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func dataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "agentflow")
	}
	return filepath.Join(os.TempDir(), "agentflow")
}
