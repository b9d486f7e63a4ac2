package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned by KVStore.Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnauthenticated is returned by a KVStore when the remote rejects its credentials.
	ErrUnauthenticated = errors.New("kv store authentication failed")

	// ErrClosed is returned when operating on a closed store or cache.
	ErrClosed = errors.New("closed")
)

// KVStore defines the interface for the remote key-value store that backs
// the write-back cache. Values are opaque blobs keyed by logical table name.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns an error wrapping ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// BatchSet stores multiple key-value pairs in one combined write with a shared TTL.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close closes the connection to the KV store and releases resources.
	Close() error
}

// Reauthenticator is implemented by stores that can re-establish their
// credentials after the remote rejected them.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}
