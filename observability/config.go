package observability

import (
	"fmt"
	"time"
)

// Config enables and points the OTLP exporters. Both signals share one
// collector endpoint.
type Config struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
}

func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
}

// Validate checks the exporter settings. A disabled config is always valid.
func (c *Config) Validate() error {
	switch {
	case !c.Enabled:
		return nil
	case c.Endpoint == "":
		return fmt.Errorf("observability.endpoint is required when enabled")
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("observability.sample_rate must be between 0 and 1 (got: %v)", c.SampleRate)
	}
	return nil
}

// Service identifies the process in exported telemetry.
type Service struct {
	Name        string
	Version     string
	Environment string
}
