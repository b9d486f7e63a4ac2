package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rzpsarthak13/botstore/internal/database"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "BOTSTORE_"

// ConfigValidator is the Strategy interface for validating configuration.
// Each key-value backend provides its own validator for its section of the
// configuration.
type ConfigValidator interface {
	// Validate validates the key-value store section of config.
	Validate(config *Config) error

	// Type returns the type identifier for this validator (e.g., "redis", "dynamodb").
	Type() string
}

var (
	validatorRegistry      = make(map[string]ConfigValidator)
	validatorRegistryMutex sync.RWMutex
)

// RegisterValidator registers a config validator. It is called from the
// init() function of each backend and panics if validator is nil, has an
// empty type, or its type is already registered.
func RegisterValidator(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// GetValidator retrieves a validator by type.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *Config
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{config: DefaultConfig()}
}

// DefaultConfig returns a configuration using an in-memory key-value store
// and a local SQLite database, with the cache timings of a production bot.
func DefaultConfig() *Config {
	return &Config{
		KVStore: KVStoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 2,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Database: DatabaseConfig{
			Dialect:        "sqlite",
			Database:       "botstore.db",
			ConnectTimeout: 10 * time.Second,
			MaxAttempts:    3,
		},
		Cache: CacheConfig{
			FlushInterval:   180 * time.Second,
			FlushTimeout:    30 * time.Second,
			HydrateAttempts: 5,
			HydrateInterval: time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data over the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data over the defaults.
// Durations are given in nanoseconds.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromEnv overlays environment variables on the current configuration.
// Variables follow the pattern BOTSTORE_<SECTION>_<KEY>, for example:
//   - BOTSTORE_KVSTORE_TYPE=redis
//   - BOTSTORE_KVSTORE_ENDPOINTS=localhost:6379,localhost:6380
//   - BOTSTORE_DATABASE_DIALECT=postgres
//   - BOTSTORE_DATABASE_DSN=postgres://bot@localhost/bot?sslmode=disable
//   - BOTSTORE_CACHE_FLUSH_INTERVAL=3m
func (cm *ConfigManager) LoadFromEnv() error {
	config := *cm.config
	var errs []string

	str := func(key string, dst *string) {
		if val, ok := os.LookupEnv(EnvPrefix + key); ok && val != "" {
			*dst = val
		}
	}
	num := func(key string, dst *int) {
		if val, ok := os.LookupEnv(EnvPrefix + key); ok && val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if val, ok := os.LookupEnv(EnvPrefix + key); ok && val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	// Key-value store
	str("KVSTORE_TYPE", &config.KVStore.Type)
	if val := os.Getenv(EnvPrefix + "KVSTORE_ENDPOINTS"); val != "" {
		config.KVStore.Redis.Endpoints = strings.Split(val, ",")
	}
	str("KVSTORE_USERNAME", &config.KVStore.Redis.Username)
	str("KVSTORE_PASSWORD", &config.KVStore.Redis.Password)
	num("KVSTORE_DB", &config.KVStore.Redis.DB)
	num("KVSTORE_POOL_SIZE", &config.KVStore.Redis.PoolSize)
	num("KVSTORE_MAX_RETRIES", &config.KVStore.MaxRetries)
	str("KVSTORE_REGION", &config.KVStore.DynamoDB.Region)
	str("KVSTORE_TABLE_NAME", &config.KVStore.DynamoDB.TableName)
	str("KVSTORE_ENDPOINT", &config.KVStore.DynamoDB.Endpoint)

	// Database
	str("DATABASE_DIALECT", &config.Database.Dialect)
	str("DATABASE_DSN", &config.Database.DSN)
	str("DATABASE_HOST", &config.Database.Host)
	num("DATABASE_PORT", &config.Database.Port)
	str("DATABASE_DATABASE", &config.Database.Database)
	str("DATABASE_USERNAME", &config.Database.Username)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_SSL_MODE", &config.Database.SSLMode)
	num("DATABASE_MAX_ATTEMPTS", &config.Database.MaxAttempts)
	dur("DATABASE_ATTEMPT_TIMEOUT", &config.Database.AttemptTimeout)

	// Cache
	str("CACHE_NAMESPACE", &config.Cache.Namespace)
	dur("CACHE_FLUSH_INTERVAL", &config.Cache.FlushInterval)
	num("CACHE_HYDRATE_ATTEMPTS", &config.Cache.HydrateAttempts)
	dur("CACHE_HYDRATE_INTERVAL", &config.Cache.HydrateInterval)
	dur("CACHE_TTL", &config.Cache.TTL)

	if len(errs) != 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return cm.apply(&config)
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

func (cm *ConfigManager) apply(config *Config) error {
	if err := ValidateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// ValidateConfig validates config. The key-value section is checked by the
// validator registered for its type.
func ValidateConfig(config *Config) error {
	if config.KVStore.Type == "" {
		return fmt.Errorf("kvstore.type is required")
	}
	validator, exists := GetValidator(config.KVStore.Type)
	if !exists {
		return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("kvstore validation failed: %w", err)
	}

	if _, err := database.DialectFor(config.Database.Dialect); err != nil {
		return fmt.Errorf("database.dialect: %w", err)
	}
	if config.Database.DSN == "" && config.Database.Database == "" {
		return fmt.Errorf("database.dsn or database.database is required")
	}
	if config.Database.Port < 0 || config.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 0 and 65535, where 0 uses the dialect default")
	}
	if config.Database.MaxAttempts < 0 {
		return fmt.Errorf("database.max_attempts must be non-negative")
	}

	if config.Cache.FlushInterval <= 0 {
		return fmt.Errorf("cache.flush_interval must be greater than 0")
	}
	if config.Cache.HydrateAttempts <= 0 {
		return fmt.Errorf("cache.hydrate_attempts must be greater than 0")
	}
	if config.Cache.HydrateInterval < 0 {
		return fmt.Errorf("cache.hydrate_interval must be non-negative")
	}
	if config.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}
	return nil
}

// DataSourceName returns DSN if set, and otherwise builds one for the
// configured dialect from the discrete connection fields.
func (c DatabaseConfig) DataSourceName() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	dialect, err := database.DialectFor(c.Dialect)
	if err != nil {
		return "", err
	}

	switch dialect.Name() {
	case "mysql":
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return database.MySQLDSN(c.Host, port, c.Database, c.Username, c.Password, c.ConnectTimeout), nil
	case "postgres":
		parts := []string{"dbname=" + pqValue(c.Database)}
		if c.Host != "" {
			parts = append(parts, "host="+pqValue(c.Host))
		}
		if c.Port != 0 {
			parts = append(parts, "port="+strconv.Itoa(c.Port))
		}
		if c.Username != "" {
			parts = append(parts, "user="+pqValue(c.Username))
		}
		if c.Password != "" {
			parts = append(parts, "password="+pqValue(c.Password))
		}
		if c.SSLMode != "" {
			parts = append(parts, "sslmode="+pqValue(c.SSLMode))
		}
		if c.ConnectTimeout > 0 {
			parts = append(parts, "connect_timeout="+strconv.Itoa(int(c.ConnectTimeout.Seconds())))
		}
		return strings.Join(parts, " "), nil
	default:
		return c.Database, nil
	}
}

// ConnectorConfig returns the connector settings for this database.
func (c DatabaseConfig) ConnectorConfig() (database.ConnectorConfig, error) {
	dialect, err := database.DialectFor(c.Dialect)
	if err != nil {
		return database.ConnectorConfig{}, err
	}
	dsn, err := c.DataSourceName()
	if err != nil {
		return database.ConnectorConfig{}, err
	}
	return database.ConnectorConfig{
		Driver:          dialect.DriverName(),
		DSN:             dsn,
		ConnectTimeout:  c.ConnectTimeout,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}, nil
}

// ExecutorConfig returns the retry settings for this database.
func (c DatabaseConfig) ExecutorConfig() database.ExecutorConfig {
	cfg := database.DefaultExecutorConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	cfg.AttemptTimeout = c.AttemptTimeout
	cfg.RetryBackoff = c.RetryBackoff
	return cfg
}

// pqValue quotes a lib/pq key=value parameter when needed.
func pqValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}
