package registry

import (
	"time"
)

// Config is the complete configuration of a persistence context.
type Config struct {
	KVStore  KVStoreConfig  `yaml:"kvstore" json:"kvstore"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
}

// KVStoreConfig contains configuration for the remote key-value store backing
// the write-back cache. Backends are plugged in by type.
type KVStoreConfig struct {
	Type         string         `yaml:"type" json:"type"`
	Redis        RedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB     DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
	MaxRetries   int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout  time.Duration  `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration  `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration  `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Username     string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MinIdleConns int      `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// DynamoDBConfig contains DynamoDB-specific configuration.
type DynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// DatabaseConfig contains configuration for the relational store and the
// executor that serializes access to it. DSN, when set, takes precedence
// over the discrete connection fields.
type DatabaseConfig struct {
	Dialect         string        `yaml:"dialect" json:"dialect"`
	DSN             string        `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Host            string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port            int           `yaml:"port,omitempty" json:"port,omitempty"`
	Database        string        `yaml:"database,omitempty" json:"database,omitempty"`
	Username        string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password        string        `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode         string        `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	MaxAttempts     int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout,omitempty" json:"attempt_timeout,omitempty"`
	RetryBackoff    time.Duration `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty"`
}

// CacheConfig contains write-back cache configuration.
type CacheConfig struct {
	// Namespace prefixes remote keys as "{namespace}:{table}".
	Namespace       string        `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	FlushInterval   time.Duration `yaml:"flush_interval" json:"flush_interval"`
	FlushTimeout    time.Duration `yaml:"flush_timeout,omitempty" json:"flush_timeout,omitempty"`
	HydrateAttempts int           `yaml:"hydrate_attempts" json:"hydrate_attempts"`
	HydrateInterval time.Duration `yaml:"hydrate_interval" json:"hydrate_interval"`
	// TTL is applied to every flushed blob. Zero means no expiry.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}
