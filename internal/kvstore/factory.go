package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/registry"
)

// KVStoreFactory is the Strategy interface for creating KV store
// implementations. Each backend registers one from its init() function.
type KVStoreFactory interface {
	// Create creates a new KV store instance from config.
	Create(ctx context.Context, config registry.KVStoreConfig) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config registry.KVStoreConfig) error
}

var (
	factoryRegistry = make(map[string]KVStoreFactory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a KV store factory, together with a
// registry.ConfigValidator delegating to its Validate method.
func RegisterFactory(factory KVStoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
	registry.RegisterValidator(configValidator{factory})
}

// Create creates a KV store using the factory registered for config.Type.
func Create(ctx context.Context, config registry.KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory.Create(ctx, config)
}

// GetRegisteredTypes returns the registered KV store types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

// configValidator validates the kvstore section of a registry.Config with a
// factory's own rules.
type configValidator struct {
	factory KVStoreFactory
}

func (v configValidator) Type() string { return v.factory.Type() }

func (v configValidator) Validate(config *registry.Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.KVStore.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", config.KVStore.MaxRetries)
	}
	return v.factory.Validate(config.KVStore)
}
