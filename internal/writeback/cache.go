package writeback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/botstore/internal/codec"
	"github.com/rzpsarthak13/botstore/internal/core"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Config tunes a Cache.
type Config struct {
	// Namespace prefixes remote keys as "{Namespace}:{table}".
	Namespace string

	// FlushInterval is the minimum spacing of timed flushes.
	FlushInterval time.Duration

	// FlushTimeout bounds each remote write when positive.
	FlushTimeout time.Duration

	// HydrateAttempts bounds the reads tried when a table is first used.
	HydrateAttempts int

	// HydrateInterval spaces hydration attempts.
	HydrateInterval time.Duration

	// TTL is applied to flushed blobs when positive.
	TTL time.Duration
}

// DefaultConfig flushes at most every three minutes and tries hydration
// five times, a second apart.
func DefaultConfig() Config {
	return Config{
		FlushInterval:   180 * time.Second,
		FlushTimeout:    30 * time.Second,
		HydrateAttempts: 5,
		HydrateInterval: time.Second,
	}
}

// ErrTableClosing is returned for a table whose CloseTable is in progress.
var ErrTableClosing = errors.New("table is being closed")

// Cache owns the hydrated tables of one process and their flush scheduler.
type Cache struct {
	store     core.KVStore
	cfg       Config
	scheduler *Scheduler
	hydration singleflight.Group

	// life is cancelled by Close and bounds shared hydrations, which no
	// single caller's context may cancel.
	life context.Context
	stop context.CancelFunc

	mu      sync.RWMutex
	tables  map[string]*Table
	closing map[string]*Table
	closed  bool
}

// New returns a Cache persisting to store. Zero fields of cfg take their
// DefaultConfig values.
func New(store core.KVStore, cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.HydrateAttempts <= 0 {
		cfg.HydrateAttempts = def.HydrateAttempts
	}
	if cfg.HydrateInterval < 0 {
		cfg.HydrateInterval = 0
	}

	c := &Cache{
		store:   store,
		cfg:     cfg,
		tables:  make(map[string]*Table),
		closing: make(map[string]*Table),
	}
	c.life, c.stop = context.WithCancel(context.Background())
	c.scheduler = NewScheduler(cfg.FlushInterval, c.flushTables)
	return c
}

// Key returns the remote key of a logical table.
func (c *Cache) Key(table string) string {
	if c.cfg.Namespace == "" {
		return table
	}
	return c.cfg.Namespace + ":" + table
}

// Scheduler returns the flush scheduler of the cache.
func (c *Cache) Scheduler() *Scheduler { return c.scheduler }

// Table returns the named table, hydrating it from the remote store on
// first use. Concurrent first uses share one hydration, which runs detached
// from every caller's cancellation and is bounded by HydrateAttempts and
// Close. A table that cannot be hydrated starts empty; an error is returned
// only if the cache is closed, the table is being closed, or ctx ends
// before the hydration completes.
func (c *Cache) Table(ctx context.Context, name string) (*Table, error) {
	c.mu.RLock()
	t, ok := c.tables[name]
	_, closing := c.closing[name]
	closed := c.closed
	c.mu.RUnlock()

	switch {
	case closed:
		return nil, core.ErrClosed
	case closing:
		return nil, fmt.Errorf("%w: %s", ErrTableClosing, name)
	case ok:
		return t, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.hydration.DoChan(name, func() (interface{}, error) {
		c.mu.RLock()
		t, ok := c.tables[name]
		c.mu.RUnlock()
		if ok {
			return t, nil
		}

		hctx, cancel := context.WithCancel(detached)
		defer cancel()
		stop := context.AfterFunc(c.life, cancel)
		defer stop()

		data, err := c.hydrate(hctx, name)
		if err != nil {
			if c.life.Err() != nil {
				return nil, core.ErrClosed
			}
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, core.ErrClosed
		}
		t = newTable(name, data, c.scheduler.MarkDirty)
		c.tables[name] = t
		return t, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Table), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// hydrate reads the remote blob of a table. A missing key is an empty
// table. Other failures are retried up to HydrateAttempts times, with one
// extra attempt after re-authenticating if the store rejected its
// credentials; exhaustion also yields an empty table.
func (c *Cache) hydrate(ctx context.Context, name string) (map[interface{}]interface{}, error) {
	var (
		key      = c.Key(name)
		limiter  = rate.NewLimiter(rate.Every(c.cfg.HydrateInterval), 1)
		reauthed bool
		lastErr  error
	)

	for attempt := 1; attempt <= c.cfg.HydrateAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		blob, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			hydrationsTotal.WithLabelValues("loaded").Inc()
			return decodeTable(name, blob), nil
		case errors.Is(err, core.ErrKeyNotFound):
			hydrationsTotal.WithLabelValues("missing").Inc()
			return nil, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		lastErr = err

		fields := log.Fields{"component": "writeback", "table": name, "attempt": attempt, "err": err}
		if ra, ok := c.store.(core.Reauthenticator); ok && !reauthed && errors.Is(err, core.ErrUnauthenticated) {
			reauthed = true
			if rerr := ra.Reauthenticate(ctx); rerr != nil {
				fields["reauth_err"] = rerr
			} else {
				attempt--
			}
			log.WithFields(fields).Warn("hydration rejected; re-authenticating store")
			continue
		}
		log.WithFields(fields).Warn("hydration attempt failed")
	}

	hydrationsTotal.WithLabelValues("exhausted").Inc()
	log.WithFields(log.Fields{
		"component": "writeback",
		"table":     name,
		"attempts":  c.cfg.HydrateAttempts,
		"err":       lastErr,
	}).Error("hydration exhausted; table starts empty")
	return nil, nil
}

// decodeTable turns a remote blob into table data. Blobs that do not decode
// to a mapping are logged and dropped.
func decodeTable(name string, blob []byte) map[interface{}]interface{} {
	data := make(map[interface{}]interface{})
	switch m := codec.Decode(blob).(type) {
	case map[string]interface{}:
		for k, v := range m {
			data[k] = v
		}
	case map[interface{}]interface{}:
		for k, v := range m {
			data[k] = v
		}
	default:
		log.WithFields(log.Fields{
			"component": "writeback",
			"table":     name,
			"type":      fmt.Sprintf("%T", m),
		}).Error("remote blob is not a mapping; table starts empty")
	}
	return data
}

// flushTables encodes the named tables and writes them in one BatchSet.
// Tables being closed are still written; tables no longer held by the
// cache are skipped.
func (c *Cache) flushTables(ctx context.Context, names []string) error {
	items := make(map[string][]byte, len(names))

	c.mu.RLock()
	for _, name := range names {
		t, ok := c.tables[name]
		if !ok {
			t, ok = c.closing[name]
		}
		if !ok {
			continue
		}
		blob, err := t.encode()
		if err != nil {
			c.mu.RUnlock()
			return fmt.Errorf("encoding table %s: %w", name, err)
		}
		items[c.Key(name)] = blob
	}
	c.mu.RUnlock()

	if len(items) == 0 {
		return nil
	}
	if c.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FlushTimeout)
		defer cancel()
	}
	if err := c.store.BatchSet(ctx, items, c.cfg.TTL); err != nil {
		return fmt.Errorf("writing %d tables: %w", len(items), err)
	}

	log.WithFields(log.Fields{"component": "writeback", "tables": len(items)}).Debug("flushed tables")
	return nil
}

// Flush writes every dirty table now.
func (c *Cache) Flush(ctx context.Context) error {
	return c.scheduler.FlushNow(ctx)
}

// CloseTable stops serving the named table, writes its pending state and
// forgets it. Writes made through a handle obtained earlier are flushed
// until none is pending. If the write fails the table is served again,
// still dirty. The next use of the name after a successful close hydrates
// it again.
func (c *Cache) CloseTable(ctx context.Context, name string) error {
	c.mu.Lock()
	t, ok := c.tables[name]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.tables, name)
	c.closing[name] = t
	c.mu.Unlock()

	var err error
	for err == nil {
		if err = c.scheduler.FlushNow(ctx); err == nil && !c.scheduler.IsDirty(name) {
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.closing, name)
	if err != nil {
		c.tables[name] = t
		return err
	}
	return nil
}

// Close stops scheduling, runs a final flush and closes the store.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.stop()

	return errors.Join(c.scheduler.Close(ctx), c.store.Close())
}
