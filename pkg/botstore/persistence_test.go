package botstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rzpsarthak13/botstore/internal/codec"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/database"
	"github.com/rzpsarthak13/botstore/internal/kvstore"
	"github.com/rzpsarthak13/botstore/pkg/botstore"
	"github.com/stretchr/testify/require"
)

var guildsSpec = core.TableSpec{
	Name: "guilds",
	Columns: []core.ColumnSpec{
		{Name: "id", Type: core.TypeInt64, PrimaryKey: true},
		{Name: "prefix", Type: core.TypeText, Default: core.Literal("!")},
		{Name: "enabled", Type: core.TypeBoolean, Default: core.Literal("true")},
		{Name: "settings", Type: core.TypeJSON, Nullable: true},
	},
}

// countingStore counts remote reads of a memory store and can slow its
// batch writes down.
type countingStore struct {
	*kvstore.MemoryKVStore

	mu         sync.Mutex
	gets       int
	batchDelay time.Duration
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.MemoryKVStore.Get(ctx, key)
}

func (s *countingStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	s.mu.Lock()
	delay := s.batchDelay
	s.mu.Unlock()
	time.Sleep(delay)
	return s.MemoryKVStore.BatchSet(ctx, items, ttl)
}

func (s *countingStore) setBatchDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchDelay = d
}

func (s *countingStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func testBackends(t *testing.T) (botstore.Backends, *countingStore) {
	t.Helper()
	connector, err := database.NewSQLConnector(context.Background(), database.ConnectorConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "bot.db"),
	})
	require.NoError(t, err)
	dialect, err := database.DialectFor("sqlite")
	require.NoError(t, err)

	store := &countingStore{MemoryKVStore: kvstore.NewMemoryKVStore()}
	return botstore.Backends{
		Executor: database.NewExecutor(connector, database.DefaultExecutorConfig()),
		Dialect:  dialect,
		Store:    store,
	}, store
}

func testConfig(interval time.Duration) *botstore.Config {
	cfg := botstore.DefaultConfig()
	cfg.Cache.Namespace = "bot"
	cfg.Cache.FlushInterval = interval
	cfg.Cache.HydrateInterval = 0
	return cfg
}

func TestGuildPrefixScenario(t *testing.T) {
	ctx := context.Background()
	backends, store := testBackends(t)

	p, err := botstore.New(ctx, testConfig(100*time.Millisecond), backends, botstore.Declarations{
		Tables: []core.TableSpec{guildsSpec},
		Cached: []string{"guilds"},
	})
	require.NoError(t, err)
	defer p.Close(ctx)

	reports := p.Reports()
	require.Len(t, reports, 1)
	require.Equal(t, "guilds", reports[0].Table)
	require.Empty(t, reports[0].Failed)

	require.Equal(t, "!", p.Get(ctx, "guilds", 42, "!"))
	require.NoError(t, p.Set(ctx, "guilds", 42, "?"))
	require.Equal(t, "?", p.Get(ctx, "guilds", 42, "!"))
	require.Equal(t, "?", p.Get(ctx, "guilds", int64(42), "!"))
	require.Equal(t, 1, store.getCount(), "reads after hydration are served from memory")

	require.Eventually(t, func() bool {
		blob, err := store.MemoryKVStore.Get(ctx, "bot:guilds")
		if err != nil {
			return false
		}
		m, ok := codec.Decode(blob).(map[interface{}]interface{})
		return ok && m[int64(42)] == "?"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordOperations(t *testing.T) {
	ctx := context.Background()
	backends, _ := testBackends(t)

	p, err := botstore.New(ctx, testConfig(time.Hour), backends, botstore.Declarations{
		Cached: []string{"xp", "roles"},
	})
	require.NoError(t, err)
	defer p.Close(ctx)

	v, err := p.Increment(ctx, "xp", 7, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), v)
	v, err = p.Increment(ctx, "xp", 7, 2.5)
	require.NoError(t, err)
	require.Equal(t, 12.5, v)

	require.NoError(t, p.Set(ctx, "roles", 7, []interface{}{"mod", 3}))
	all, err := p.FetchAll(ctx, "roles")
	require.NoError(t, err)
	require.Equal(t, map[interface{}]interface{}{int64(7): []interface{}{"mod", int64(3)}}, all)

	require.True(t, p.Has(ctx, "roles", 7))
	require.NoError(t, p.DeleteTableEntry(ctx, "roles", 7))
	require.False(t, p.Has(ctx, "roles", 7))
	require.Nil(t, p.Get(ctx, "roles", 7, nil))
	require.Equal(t, []string{"roles", "xp"}, p.Tables())
}

func TestUndeclaredTables(t *testing.T) {
	ctx := context.Background()
	backends, _ := testBackends(t)

	p, err := botstore.New(ctx, testConfig(time.Hour), backends, botstore.Declarations{})
	require.NoError(t, err)
	defer p.Close(ctx)

	require.Equal(t, "!", p.Get(ctx, "guilds", 1, "!"))
	require.False(t, p.Has(ctx, "guilds", 1))
	require.ErrorIs(t, p.Set(ctx, "guilds", 1, "?"), botstore.ErrUnknownTable)
	_, err = p.Increment(ctx, "guilds", 1, 1)
	require.ErrorIs(t, err, botstore.ErrUnknownTable)
	require.ErrorIs(t, p.DeleteTableEntry(ctx, "guilds", 1), botstore.ErrUnknownTable)
	_, err = p.FetchAll(ctx, "guilds")
	require.ErrorIs(t, err, botstore.ErrUnknownTable)
	require.ErrorIs(t, p.Release(ctx, "guilds"), botstore.ErrUnknownTable)
}

func TestReleaseFlushesTable(t *testing.T) {
	ctx := context.Background()
	backends, store := testBackends(t)

	p, err := botstore.New(ctx, testConfig(time.Hour), backends, botstore.Declarations{Cached: []string{"guilds"}})
	require.NoError(t, err)
	defer p.Close(ctx)

	require.NoError(t, p.Set(ctx, "guilds", 1, "?"))
	require.NoError(t, p.Release(ctx, "guilds"))

	ok, err := store.Exists(ctx, "bot:guilds")
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, p.Set(ctx, "guilds", 1, "!"), botstore.ErrUnknownTable)
}

func TestReleaseDoesNotBlockOtherTables(t *testing.T) {
	ctx := context.Background()
	backends, store := testBackends(t)

	p, err := botstore.New(ctx, testConfig(time.Hour), backends, botstore.Declarations{
		Cached: []string{"guilds", "users"},
	})
	require.NoError(t, err)
	defer p.Close(ctx)

	require.NoError(t, p.Set(ctx, "users", 1, "alice"))
	require.NoError(t, p.Set(ctx, "guilds", 1, "?"))

	store.setBatchDelay(300 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- p.Release(ctx, "guilds") }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.Equal(t, "alice", p.Get(ctx, "users", 1, nil))
	require.Less(t, time.Since(start), 100*time.Millisecond, "reads of hydrated tables stay in memory")
	require.Equal(t, "!", p.Get(ctx, "guilds", 1, "!"), "a table being released is no longer served")

	require.NoError(t, <-done)
	blob, err := store.MemoryKVStore.Get(ctx, "bot:guilds")
	require.NoError(t, err)
	require.Equal(t, map[interface{}]interface{}{int64(1): "?"}, codec.Decode(blob))
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	backends, store := testBackends(t)

	p, err := botstore.New(ctx, testConfig(time.Hour), backends, botstore.Declarations{Cached: []string{"guilds"}})
	require.NoError(t, err)

	require.NoError(t, p.Set(ctx, "guilds", 1, "?"))
	require.Empty(t, store.Keys())

	require.NoError(t, p.Close(ctx))
	require.NoError(t, p.Close(ctx))
	require.Equal(t, "!", p.Get(ctx, "guilds", 1, "!"), "a closed persistence serves defaults")

	require.Equal(t, []string{"bot:guilds"}, store.Keys())
	_, err = store.MemoryKVStore.Get(ctx, "bot:guilds")
	require.ErrorIs(t, err, core.ErrClosed)
}

func TestNewRejectsMissingBackends(t *testing.T) {
	ctx := context.Background()

	_, err := botstore.New(ctx, nil, botstore.Backends{}, botstore.Declarations{})
	require.Error(t, err)

	_, err = botstore.New(ctx, nil, botstore.Backends{Store: kvstore.NewMemoryKVStore()}, botstore.Declarations{
		Tables: []core.TableSpec{guildsSpec},
	})
	require.Error(t, err)

	backends, _ := testBackends(t)
	_, err = botstore.New(ctx, nil, backends, botstore.Declarations{
		Tables: []core.TableSpec{{Name: "broken"}},
	})
	require.Error(t, err)
}

func TestOpenFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(time.Hour)
	cfg.Database.Database = filepath.Join(t.TempDir(), "open.db")

	p, err := botstore.Open(ctx, cfg, botstore.Declarations{
		Tables: []core.TableSpec{guildsSpec},
		Cached: []string{"guilds"},
	})
	require.NoError(t, err)
	defer p.Close(ctx)

	require.NoError(t, p.Set(ctx, "guilds", 1, "?"))
	require.NoError(t, p.Flush(ctx))
	require.Equal(t, "?", p.Get(ctx, "guilds", 1, "!"))

	_, err = botstore.Open(ctx, nil, botstore.Declarations{})
	require.Error(t, err)
}
