package storage

import (
	"fmt"
	"sync"

	"github.com/kbukum/agentflow/logger"
)

// Factory creates a Storage implementation from core config and
// provider-specific configuration.
type Factory func(cfg Config, providerCfg any, log *logger.Logger) (Storage, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory registers a backend factory for the given provider name.
// Backend packages call this from init.
func RegisterFactory(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// New creates the Storage selected by cfg.Provider. The backend package must
// be imported so its factory is registered.
func New(cfg Config, providerCfg any, log *logger.Logger) (Storage, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.RLock()
	f, ok := factories[cfg.Provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported provider %q (not registered)", cfg.Provider)
	}
	return f(cfg, providerCfg, log.WithComponent("storage"))
}
