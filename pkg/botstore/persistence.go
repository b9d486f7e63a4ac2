package botstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/database"
	"github.com/rzpsarthak13/botstore/internal/kvstore"
	"github.com/rzpsarthak13/botstore/internal/registry"
	"github.com/rzpsarthak13/botstore/internal/schema"
	"github.com/rzpsarthak13/botstore/internal/writeback"
	log "github.com/sirupsen/logrus"
)

// ErrUnknownTable is returned when a table was not declared to the
// Persistence.
var ErrUnknownTable = errors.New("unknown table")

// Declarations lists the tables a Persistence serves. They are consumed once,
// when the Persistence is built.
type Declarations struct {
	// Tables are relational tables. Each is reconciled against the live
	// schema when declared.
	Tables []core.TableSpec

	// Cached names logical tables served by the write-back cache.
	Cached []string
}

// Declarer is implemented by typed fields, which declare the cache table
// holding their values.
type Declarer interface {
	Table() string
}

// AddFields declares the cache tables of fields.
func (d *Declarations) AddFields(fields ...Declarer) {
	for _, f := range fields {
		d.Cached = append(d.Cached, f.Table())
	}
}

// Backends are the connections a Persistence drives. Executor and Dialect
// may be nil when no relational tables are declared.
type Backends struct {
	Executor *database.Executor
	Dialect  database.Dialect
	Store    core.KVStore
}

// Persistence is the process-wide persistence context. It owns the
// relational executor, the schema reconciler, the write-back cache and the
// registry of declared tables. Build one at startup and pass it to whatever
// needs to read or write bot data.
//
// Typical usage:
//
//	p, _ := botstore.Open(ctx, cfg, decl)
//	defer p.Close(ctx)
//
//	prefix := p.Get(ctx, "guilds", guildID, "!")
//	p.Set(ctx, "guilds", guildID, "?")
type Persistence struct {
	exec       *database.Executor
	dialect    database.Dialect
	reconciler *schema.Reconciler
	translator *schema.Translator
	cache      *writeback.Cache
	tables     *registry.TableRegistry

	mu         sync.Mutex
	reports    []schema.Report
	reconciled map[string]core.TableSpec
	closed     bool
}

// Open connects to the configured database and key-value store, then builds
// a Persistence over them with New.
func Open(ctx context.Context, cfg *Config, decl Declarations) (*Persistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := registry.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dialect, err := database.DialectFor(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	connCfg, err := cfg.Database.ConnectorConfig()
	if err != nil {
		return nil, err
	}
	connector, err := database.NewSQLConnector(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	exec := database.NewExecutor(connector, cfg.Database.ExecutorConfig())

	store, err := kvstore.Create(ctx, cfg.KVStore)
	if err != nil {
		_ = exec.Close()
		return nil, fmt.Errorf("failed to create KV store: %w", err)
	}

	p, err := New(ctx, cfg, Backends{Executor: exec, Dialect: dialect, Store: store}, decl)
	if err != nil {
		_ = exec.Close()
		_ = store.Close()
		return nil, err
	}
	return p, nil
}

// New builds a Persistence over injected backends and declares decl:
// relational tables are reconciled in declaration order and cached tables
// are registered for lazy hydration. Reconciliation failures of individual
// operations are logged and available from Reports; New fails only if a
// table cannot be declared at all.
func New(ctx context.Context, cfg *Config, b Backends, decl Declarations) (*Persistence, error) {
	if b.Store == nil {
		return nil, fmt.Errorf("a KV store is required")
	}
	if len(decl.Tables) != 0 && (b.Executor == nil || b.Dialect == nil) {
		return nil, fmt.Errorf("relational tables declared without a database")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Persistence{
		exec:       b.Executor,
		dialect:    b.Dialect,
		cache:      writeback.New(b.Store, cacheConfig(cfg.Cache)),
		reconciled: make(map[string]core.TableSpec),
	}
	if b.Executor != nil && b.Dialect != nil {
		p.reconciler = schema.NewReconciler(b.Executor, b.Dialect)
		p.translator = schema.NewTranslator(b.Dialect)
	}

	lifecycle := registry.NewLifecycleManager()
	lifecycle.RegisterHook(registry.LifecycleHookFuncs{
		Declare: p.onDeclare,
		Release: p.onRelease,
	})
	p.tables = registry.NewTableRegistry(lifecycle)

	for _, spec := range decl.Tables {
		if err := p.tables.DeclareRelational(ctx, spec); err != nil {
			return nil, p.abort(ctx, err)
		}
	}
	for _, name := range decl.Cached {
		if err := p.tables.DeclareCached(ctx, name); err != nil {
			return nil, p.abort(ctx, err)
		}
	}

	log.WithFields(log.Fields{
		"component":  "botstore",
		"relational": len(decl.Tables),
		"cached":     len(decl.Cached),
	}).Info("persistence ready")
	return p, nil
}

// abort stops the cache scheduler of a Persistence that failed to build.
// The backends stay open; they belong to the caller.
func (p *Persistence) abort(ctx context.Context, err error) error {
	_ = p.cache.Scheduler().Close(ctx)
	return err
}

// onDeclare reconciles a relational table whose spec has not been
// reconciled yet. Declaring the same name as cached does not reconcile it
// again.
func (p *Persistence) onDeclare(ctx context.Context, table registry.TableMetadata) error {
	if !table.Relational {
		return nil
	}
	p.mu.Lock()
	prev, done := p.reconciled[table.Name]
	p.mu.Unlock()
	if done && reflect.DeepEqual(prev, table.Spec) {
		return nil
	}

	report, err := p.reconciler.Reconcile(ctx, table.Spec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.reports = append(p.reports, report)
	p.reconciled[table.Name] = table.Spec
	p.mu.Unlock()
	return nil
}

func (p *Persistence) onRelease(ctx context.Context, table registry.TableMetadata) error {
	if !table.Cached {
		return nil
	}
	return p.cache.CloseTable(ctx, table.Name)
}

// Reports returns the reconciliation reports of the declared relational
// tables, in declaration order.
func (p *Persistence) Reports() []schema.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schema.Report(nil), p.reports...)
}

// Tables returns the names of every declared table, sorted.
func (p *Persistence) Tables() []string {
	return p.tables.List()
}

// cached returns the hydrated cache table for name.
func (p *Persistence) cached(ctx context.Context, name string) (*writeback.Table, error) {
	if !p.tables.IsCached(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return p.cache.Table(ctx, name)
}

// Get returns the value stored under key in table, or def when there is
// none. It never fails: an undeclared table or a closed Persistence is
// logged and yields def, as does a table whose hydration was exhausted.
func (p *Persistence) Get(ctx context.Context, table string, key, def interface{}) interface{} {
	t, err := p.cached(ctx, table)
	if err != nil {
		log.WithFields(log.Fields{
			"component": "botstore",
			"table":     table,
			"err":       err,
		}).Warn("get served the default value")
		return def
	}
	return t.Get(key, def)
}

// Has reports whether key has a value in table. Like Get, it never fails:
// an unusable table has no keys.
func (p *Persistence) Has(ctx context.Context, table string, key interface{}) bool {
	t, err := p.cached(ctx, table)
	if err != nil {
		return false
	}
	return t.Has(key)
}

// Set stores value under key in table. The write is visible to the next Get
// immediately and reaches the remote store with the next flush.
func (p *Persistence) Set(ctx context.Context, table string, key, value interface{}) error {
	t, err := p.cached(ctx, table)
	if err != nil {
		return err
	}
	return t.Set(key, value)
}

// Increment adds delta to the number stored under key in table, treating a
// missing value as zero, and returns the new value.
func (p *Persistence) Increment(ctx context.Context, table string, key, delta interface{}) (interface{}, error) {
	t, err := p.cached(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.Increment(key, delta)
}

// DeleteTableEntry removes key from table.
func (p *Persistence) DeleteTableEntry(ctx context.Context, table string, key interface{}) error {
	t, err := p.cached(ctx, table)
	if err != nil {
		return err
	}
	return t.Delete(key)
}

// FetchAll returns a copy of every entry of table.
func (p *Persistence) FetchAll(ctx context.Context, table string) (map[interface{}]interface{}, error) {
	t, err := p.cached(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.FetchAll(), nil
}

// Flush writes every dirty cache table to the remote store now.
func (p *Persistence) Flush(ctx context.Context) error {
	return p.cache.Flush(ctx)
}

// Release flushes and forgets a declared table. A released cache table can
// no longer be used through this Persistence.
func (p *Persistence) Release(ctx context.Context, table string) error {
	err := p.tables.Release(ctx, table)
	if errors.Is(err, registry.ErrTableNotDeclared) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return err
}

// Close flushes the cache, then closes the key-value store and the
// database. It is safe to call more than once.
func (p *Persistence) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	errs := []error{p.cache.Close(ctx)}
	if p.exec != nil {
		errs = append(errs, p.exec.Close())
	}
	return errors.Join(errs...)
}
