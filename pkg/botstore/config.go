package botstore

import (
	"github.com/rzpsarthak13/botstore/internal/registry"
	"github.com/rzpsarthak13/botstore/internal/writeback"
)

// Config is the root configuration of a Persistence: the remote key-value
// store, the relational database and the write-back cache.
type Config = registry.Config

// DefaultConfig returns a configuration using the in-memory key-value store
// and a local SQLite database.
func DefaultConfig() *Config {
	return registry.DefaultConfig()
}

// LoadConfig builds a configuration from defaults, the optional YAML or JSON
// file at path, and BOTSTORE_* environment variables, in that order. Each
// layer is validated as it is applied.
func LoadConfig(path string) (*Config, error) {
	cm := registry.NewConfigManager()
	if path != "" {
		if err := cm.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cm.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cm.GetConfig(), nil
}

// cacheConfig maps the cache section onto the write-back cache settings.
func cacheConfig(c registry.CacheConfig) writeback.Config {
	return writeback.Config{
		Namespace:       c.Namespace,
		FlushInterval:   c.FlushInterval,
		FlushTimeout:    c.FlushTimeout,
		HydrateAttempts: c.HydrateAttempts,
		HydrateInterval: c.HydrateInterval,
		TTL:             c.TTL,
	}
}
