package config

import (
	"fmt"
	"slices"

	"github.com/kbukum/agentflow/logger"
)

// Environments accepted by ServiceConfig.
var Environments = []string{"development", "staging", "production"}

// ServiceConfig holds the process identity and logging settings.
// Config embeds it with mapstructure squash so the keys sit at the top level.
type ServiceConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults fills the service name, environment and logging defaults.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "agentflow"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
}

// Validate checks the service fields.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	if !slices.Contains(Environments, c.Environment) {
		return fmt.Errorf("config.environment must be one of %v (got: %s)", Environments, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}

// NewLogger builds the root logger described by the logging section.
func (c *ServiceConfig) NewLogger() *logger.Logger {
	return logger.New(&c.Logging, c.Name)
}
