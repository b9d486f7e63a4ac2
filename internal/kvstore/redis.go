package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/registry"
	log "github.com/sirupsen/logrus"
)

// RedisKVStore implements core.KVStore on a single Redis node.
type RedisKVStore struct {
	opts *redis.Options

	mu     sync.RWMutex
	client *redis.Client
	closed bool
}

// NewRedisKVStore connects to the first endpoint of config and verifies
// the connection with a PING.
func NewRedisKVStore(ctx context.Context, config registry.KVStoreConfig) (*RedisKVStore, error) {
	rc := config.Redis
	if len(rc.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	if len(rc.Endpoints) > 1 {
		log.WithFields(log.Fields{
			"component": "kvstore",
			"endpoint":  rc.Endpoints[0],
			"ignored":   rc.Endpoints[1:],
		}).Warn("redis store uses only the first endpoint")
	}

	s := &RedisKVStore{opts: &redis.Options{
		Addr:         rc.Endpoints[0],
		Username:     rc.Username,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}}
	s.client = redis.NewClient(s.opts)

	if err := s.ping(ctx); err != nil {
		_ = s.client.Close()
		return nil, err
	}
	return s, nil
}

func (r *RedisKVStore) ping(ctx context.Context) error {
	if r.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.DialTimeout)
		defer cancel()
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", redisError(err))
	}
	return nil
}

// current returns the live client, or core.ErrClosed.
func (r *RedisKVStore) current() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, core.ErrClosed
	}
	return r.client, nil
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := r.current()
	if err != nil {
		return nil, err
	}

	val, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, redisError(err))
	}
	return val, nil
}

// Set stores a key-value pair. A zero ttl never expires.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	client, err := r.current()
	if err != nil {
		return err
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, redisError(err))
	}
	return nil
}

// Delete removes a key from the store.
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	client, err := r.current()
	if err != nil {
		return err
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, redisError(err))
	}
	return nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	client, err := r.current()
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, redisError(err))
	}
	return n > 0, nil
}

// BatchSet writes all items in one round trip: a single MSET, or a
// MULTI/EXEC pipeline of SET ... EX when ttl is positive.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	client, err := r.current()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	if ttl <= 0 {
		pairs := make([]interface{}, 0, 2*len(items))
		for key, value := range items {
			pairs = append(pairs, key, value)
		}
		err = client.MSet(ctx, pairs...).Err()
	} else {
		_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, value := range items {
				pipe.Set(ctx, key, value, ttl)
			}
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("failed to batch set %d keys: %w", len(items), redisError(err))
	}
	return nil
}

// Reauthenticate replaces the client, so that every connection runs AUTH
// again, and verifies the new client with a PING.
func (r *RedisKVStore) Reauthenticate(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return core.ErrClosed
	}
	old := r.client
	r.client = redis.NewClient(r.opts)
	r.mu.Unlock()

	if err := old.Close(); err != nil {
		log.WithFields(log.Fields{"component": "kvstore", "err": err}).Warn("closing replaced redis client")
	}
	return r.ping(ctx)
}

// Close closes the connection pool.
func (r *RedisKVStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// redisError marks authentication failures with core.ErrUnauthenticated.
func redisError(err error) error {
	msg := err.Error()
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "ERR invalid password", "ERR AUTH", "ERR Client sent AUTH"} {
		if strings.HasPrefix(msg, prefix) {
			return fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
		}
	}
	return err
}

// RedisKVStoreFactory creates Redis KV stores.
type RedisKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisKVStoreFactory) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration.
func (f *RedisKVStoreFactory) Validate(config registry.KVStoreConfig) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	rc := config.Redis
	if len(rc.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if rc.DB < 0 || rc.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", rc.DB)
	}
	if rc.PoolSize < 0 {
		return fmt.Errorf("pool_size must be non-negative, got: %d", rc.PoolSize)
	}
	if rc.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", rc.MinIdleConns)
	}
	if config.DialTimeout < 0 || config.ReadTimeout < 0 || config.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	return nil
}

// Create creates a new Redis KV store.
func (f *RedisKVStoreFactory) Create(ctx context.Context, config registry.KVStoreConfig) (core.KVStore, error) {
	store, err := NewRedisKVStore(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&RedisKVStoreFactory{})
}
