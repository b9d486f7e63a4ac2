package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/registry"
	"github.com/stretchr/testify/require"
)

func redisConfig(m *miniredis.Miniredis) registry.KVStoreConfig {
	return registry.KVStoreConfig{
		Type:        "redis",
		Redis:       registry.RedisConfig{Endpoints: []string{m.Addr()}, PoolSize: 2},
		DialTimeout: time.Second,
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := miniredis.RunT(t)

	s, err := NewRedisKVStore(ctx, redisConfig(m))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "a", []byte(`{"x":1}`), 0))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, `{"x":1}`, string(v))

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(ctx, "a"))
	ok, err = s.Exists(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisBatchSet(t *testing.T) {
	ctx := context.Background()
	m := miniredis.RunT(t)

	s, err := NewRedisKVStore(ctx, redisConfig(m))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BatchSet(ctx, map[string][]byte{"bot:guilds": []byte("1"), "bot:users": []byte("2")}, 0))
	got, err := m.Get("bot:users")
	require.NoError(t, err)
	require.Equal(t, "2", got)
	require.Zero(t, m.TTL("bot:guilds"))

	require.NoError(t, s.BatchSet(ctx, map[string][]byte{"bot:guilds": []byte("3")}, time.Minute))
	got, err = m.Get("bot:guilds")
	require.NoError(t, err)
	require.Equal(t, "3", got)
	require.Equal(t, time.Minute, m.TTL("bot:guilds"))

	m.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "bot:guilds")
	require.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.BatchSet(ctx, nil, 0))
}

func TestRedisAuthFailuresAreTyped(t *testing.T) {
	ctx := context.Background()
	m := miniredis.RunT(t)
	m.RequireAuth("secret")

	_, err := NewRedisKVStore(ctx, redisConfig(m))
	require.ErrorIs(t, err, core.ErrUnauthenticated)

	cfg := redisConfig(m)
	cfg.Redis.Password = "wrong"
	_, err = NewRedisKVStore(ctx, cfg)
	require.ErrorIs(t, err, core.ErrUnauthenticated)

	cfg.Redis.Password = "secret"
	s, err := NewRedisKVStore(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Reauthenticate(ctx))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestRedisClosed(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisKVStore(ctx, redisConfig(miniredis.RunT(t)))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrClosed)
	require.ErrorIs(t, s.Reauthenticate(ctx), core.ErrClosed)
}
