package storage

import "fmt"

// ProviderLocal is the local filesystem backend.
const ProviderLocal = "local"

// DefaultMaxFileSize caps a single generated file.
const DefaultMaxFileSize int64 = 10 << 20

// Config selects a backend and its root.
type Config struct {
	Provider    string `yaml:"provider" mapstructure:"provider" json:"provider"`
	BasePath    string `yaml:"base_path" mapstructure:"base_path" json:"base_path"`
	MaxFileSize int64  `yaml:"max_file_size" mapstructure:"max_file_size" json:"max_file_size"`
}

func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
}

func (c *Config) Validate() error {
	if c.Provider != ProviderLocal {
		return fmt.Errorf("storage: unsupported provider %q", c.Provider)
	}
	if c.BasePath == "" {
		return fmt.Errorf("storage: base_path is required for the %s provider", c.Provider)
	}
	return nil
}
