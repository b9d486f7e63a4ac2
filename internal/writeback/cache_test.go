package writeback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzpsarthak13/botstore/internal/codec"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory core.KVStore that records batches and can be
// told to fail reads.
type fakeStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	getErrs    []error // returned by the next Gets, in order
	getDelay   time.Duration
	gets       int
	batches    []map[string][]byte
	batchErr   error
	batchDelay time.Duration
	reauths    int
	closed     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getDelay > 0 {
		time.Sleep(s.getDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		return nil, err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	return v, nil
}

func (s *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.BatchSet(ctx, map[string][]byte{key: value}, ttl)
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *fakeStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if s.batchDelay > 0 {
		time.Sleep(s.batchDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	batch := make(map[string][]byte, len(items))
	for k, v := range items {
		batch[k] = v
		s.data[k] = v
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) Reauthenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reauths++
	return nil
}

func (s *fakeStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *fakeStore) put(t *testing.T, key string, v interface{}) {
	blob, err := codec.Encode(v)
	require.NoError(t, err)
	s.mu.Lock()
	s.data[key] = blob
	s.mu.Unlock()
}

func (s *fakeStore) decoded(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return codec.Decode(s.data[key])
}

func testConfig() Config {
	return Config{
		Namespace:       "bot",
		FlushInterval:   50 * time.Millisecond,
		HydrateAttempts: 3,
	}
}

func TestCacheCoalescesWritesIntoOneBatch(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	c := New(store, testConfig())

	guilds, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.Equal(t, "!", guilds.Get(42, "!"))

	for _, prefix := range []string{"?", "$", "%"} {
		require.NoError(t, guilds.Set(42, prefix))
	}
	require.Equal(t, "%", guilds.Get(42, "!"))

	require.Eventually(t, func() bool { return store.batchCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, store.batchCount())
	require.Equal(t, map[interface{}]interface{}{int64(42): "%"}, store.decoded("bot:guilds"))
}

func TestCacheHydratesFromStore(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.put(t, "bot:xp", map[interface{}]interface{}{int64(7): int64(120), "top": 2.5})
	c := New(store, testConfig())

	xp, err := c.Table(ctx, "xp")
	require.NoError(t, err)
	require.Equal(t, int64(120), xp.Get(7, nil))
	require.Equal(t, 2.5, xp.Get("top", nil))

	again, err := c.Table(ctx, "xp")
	require.NoError(t, err)
	require.Same(t, xp, again)
	require.Equal(t, 1, store.getCount())
}

func TestCacheMissingTableStartsEmpty(t *testing.T) {
	store := newFakeStore()
	c := New(store, testConfig())

	tbl, err := c.Table(context.Background(), "users")
	require.NoError(t, err)
	require.Zero(t, tbl.Len())
	require.Equal(t, 1, store.getCount(), "a missing key is not retried")
}

func TestCacheHydrationRetriesThenGivesUp(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("connection reset")
	store.getErrs = []error{boom, boom, boom, boom}
	cfg := testConfig()
	cfg.HydrateInterval = time.Millisecond
	c := New(store, cfg)

	tbl, err := c.Table(context.Background(), "users")
	require.NoError(t, err)
	require.Zero(t, tbl.Len())
	require.Equal(t, 3, store.getCount())
}

func TestCacheHydrationRecoversAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.put(t, "bot:users", map[string]interface{}{"alice": "admin"})
	store.getErrs = []error{errors.New("timeout")}
	c := New(store, testConfig())

	tbl, err := c.Table(context.Background(), "users")
	require.NoError(t, err)
	require.Equal(t, "admin", tbl.Get("alice", nil))
	require.Equal(t, 2, store.getCount())
}

func TestCacheHydrationReauthenticatesOnce(t *testing.T) {
	store := newFakeStore()
	store.put(t, "bot:users", map[string]interface{}{"alice": "admin"})
	store.getErrs = []error{core.ErrUnauthenticated}
	cfg := testConfig()
	cfg.HydrateAttempts = 1
	c := New(store, cfg)

	tbl, err := c.Table(context.Background(), "users")
	require.NoError(t, err)
	require.Equal(t, "admin", tbl.Get("alice", nil))
	require.Equal(t, 1, store.reauths)
	require.Equal(t, 2, store.getCount(), "re-authentication grants one extra attempt")
}

func TestCacheSharesConcurrentHydration(t *testing.T) {
	store := newFakeStore()
	store.getDelay = 30 * time.Millisecond
	c := New(store, testConfig())

	var wg sync.WaitGroup
	tables := make([]*Table, 8)
	errs := make([]error, 8)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i], errs[i] = c.Table(context.Background(), "guilds")
		}(i)
	}
	wg.Wait()

	for i := range tables {
		require.NoError(t, errs[i])
		require.Same(t, tables[0], tables[i])
	}
	require.Equal(t, 1, store.getCount())
}

func TestCacheHydrationOutlivesCancelledCaller(t *testing.T) {
	store := newFakeStore()
	store.put(t, "bot:guilds", map[string]interface{}{"alice": "admin"})
	store.getErrs = []error{errors.New("connection reset")}
	store.getDelay = 100 * time.Millisecond
	c := New(store, testConfig())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Table(first, "guilds")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		tbl *Table
		err error
	}
	second := make(chan result, 1)
	go func() {
		tbl, err := c.Table(context.Background(), "guilds")
		second <- result{tbl, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-firstErr, context.Canceled)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "admin", res.tbl.Get("alice", nil))
	require.Equal(t, 2, store.getCount(), "both callers shared one hydration")
}

func TestCacheNonMappingBlobStartsEmpty(t *testing.T) {
	store := newFakeStore()
	store.put(t, "bot:guilds", []interface{}{"not", "a", "mapping"})
	c := New(store, testConfig())

	tbl, err := c.Table(context.Background(), "guilds")
	require.NoError(t, err)
	require.Zero(t, tbl.Len())
}

func TestCacheIntegerKeysSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	first := New(store, testConfig())

	tbl, err := first.Table(ctx, "members")
	require.NoError(t, err)
	require.NoError(t, tbl.Set(uint64(123456789012345678), map[string]interface{}{"level": 3}))
	require.NoError(t, tbl.Set("123456789012345678", "string key"))
	require.NoError(t, first.Flush(ctx))

	second := New(store, testConfig())
	tbl, err = second.Table(ctx, "members")
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"level": int64(3)}, tbl.Get(int64(123456789012345678), nil))
	require.Equal(t, "string key", tbl.Get("123456789012345678", nil))
}

func TestCacheFlushFailureKeepsTablesDirty(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.batchErr = errors.New("read-only replica")
	c := New(store, testConfig())

	tbl, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.NoError(t, tbl.Set(1, "x"))

	require.Error(t, c.Flush(ctx))
	require.Equal(t, []string{"guilds"}, c.Scheduler().Dirty())

	store.mu.Lock()
	store.batchErr = nil
	store.mu.Unlock()
	require.NoError(t, c.Flush(ctx))
	require.Empty(t, c.Scheduler().Dirty())
	require.Equal(t, map[interface{}]interface{}{int64(1): "x"}, store.decoded("bot:guilds"))
}

func TestCacheCloseTableRehydrates(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	c := New(store, testConfig())

	tbl, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.NoError(t, tbl.Set(1, "x"))
	require.NoError(t, c.CloseTable(ctx, "guilds"))
	require.Equal(t, 1, store.batchCount())

	again, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.NotSame(t, tbl, again)
	require.Equal(t, "x", again.Get(1, nil))
	require.Equal(t, 2, store.getCount())
}

func TestCacheCloseTableKeepsWritesDuringFinalFlush(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	c := New(store, cfg)

	tbl, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.NoError(t, tbl.Set(1, "x"))

	store.batchDelay = 100 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- c.CloseTable(ctx, "guilds") }()

	require.Eventually(t, func() bool {
		_, err := c.Table(ctx, "guilds")
		return errors.Is(err, ErrTableClosing)
	}, time.Second, time.Millisecond)
	require.NoError(t, tbl.Set(2, "y"))

	require.NoError(t, <-done)
	require.Empty(t, c.Scheduler().Dirty())
	require.Equal(t, map[interface{}]interface{}{int64(1): "x", int64(2): "y"}, store.decoded("bot:guilds"))
}

func TestCacheCloseTableFailureKeepsTable(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	c := New(store, cfg)

	tbl, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.NoError(t, tbl.Set(1, "x"))

	store.mu.Lock()
	store.batchErr = errors.New("read-only replica")
	store.mu.Unlock()
	require.Error(t, c.CloseTable(ctx, "guilds"))

	again, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.Same(t, tbl, again)
	require.Equal(t, []string{"guilds"}, c.Scheduler().Dirty())
	require.Equal(t, 1, store.getCount())
}

func TestCacheCloseFlushesAndRejectsUse(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	c := New(store, cfg)

	tbl, err := c.Table(ctx, "guilds")
	require.NoError(t, err)
	require.NoError(t, tbl.Set(1, "x"))
	require.Zero(t, store.batchCount())

	require.NoError(t, c.Close(ctx))
	require.Equal(t, 1, store.batchCount())
	require.True(t, store.closed)
	require.NoError(t, c.Close(ctx))

	_, err = c.Table(ctx, "guilds")
	require.ErrorIs(t, err, core.ErrClosed)
}

func TestCacheKey(t *testing.T) {
	require.Equal(t, "bot:guilds", New(newFakeStore(), testConfig()).Key("guilds"))
	require.Equal(t, "guilds", New(newFakeStore(), Config{}).Key("guilds"))
}
