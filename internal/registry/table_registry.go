package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/schema"
)

// ErrTableNotDeclared is returned for names no table was declared under.
var ErrTableNotDeclared = errors.New("table is not declared")

// TableMetadata describes a declared table. A name can be declared as a
// relational table, as a write-back cache table, or as both.
type TableMetadata struct {
	// Name is the logical table name.
	Name string

	// Spec is the relational declaration, when Relational is set.
	Spec core.TableSpec

	// Relational is set when the table has a relational declaration.
	Relational bool

	// Cached is set when the table is served by the write-back cache.
	Cached bool

	// CreatedAt is when the table was first declared.
	CreatedAt time.Time

	// UpdatedAt is when the declaration last changed.
	UpdatedAt time.Time
}

// TableRegistry records the declared tables of a persistence context.
// Declarations happen once at startup; lookups are safe for concurrent use.
type TableRegistry struct {
	mu        sync.RWMutex
	tables    map[string]*TableMetadata
	releasing map[string]bool
	order     []string
	lifecycle *LifecycleManager
}

// NewTableRegistry creates an empty registry. A nil lifecycle gets a
// manager without hooks.
func NewTableRegistry(lifecycle *LifecycleManager) *TableRegistry {
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TableRegistry{
		tables:    make(map[string]*TableMetadata),
		releasing: make(map[string]bool),
		lifecycle: lifecycle,
	}
}

// DeclareRelational validates spec and declares it. Declaring a name again
// replaces its relational spec.
func (tr *TableRegistry) DeclareRelational(ctx context.Context, spec core.TableSpec) error {
	if err := schema.Validate(spec); err != nil {
		return err
	}
	return tr.declare(ctx, spec.Name, func(m *TableMetadata) {
		m.Spec = spec
		m.Relational = true
	})
}

// DeclareCached declares name as a write-back cache table.
func (tr *TableRegistry) DeclareCached(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	return tr.declare(ctx, name, func(m *TableMetadata) {
		m.Cached = true
	})
}

func (tr *TableRegistry) declare(ctx context.Context, name string, update func(*TableMetadata)) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.releasing[name] {
		return fmt.Errorf("table %q is being released", name)
	}

	now := time.Now()
	next := TableMetadata{Name: name, CreatedAt: now}
	existing, exists := tr.tables[name]
	if exists {
		next = *existing
	}
	update(&next)
	next.UpdatedAt = now

	if err := tr.lifecycle.runDeclare(ctx, next); err != nil {
		return fmt.Errorf("declare hook failed for table %q: %w", name, err)
	}
	if !exists {
		tr.order = append(tr.order, name)
	}
	tr.tables[name] = &next
	return nil
}

// Release removes a table after running the release hooks. The hooks run
// without the registry lock, so lookups of other tables proceed while they
// do remote I/O; the released table itself reads as undeclared from the
// moment Release starts. A hook error keeps the table declared.
func (tr *TableRegistry) Release(ctx context.Context, name string) error {
	tr.mu.Lock()
	metadata, exists := tr.tables[name]
	switch {
	case !exists:
		tr.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTableNotDeclared, name)
	case tr.releasing[name]:
		tr.mu.Unlock()
		return fmt.Errorf("table %q is already being released", name)
	}
	tr.releasing[name] = true
	snapshot := *metadata
	tr.mu.Unlock()

	err := tr.lifecycle.runRelease(ctx, snapshot)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.releasing, name)
	if err != nil {
		return fmt.Errorf("release hook failed for table %q: %w", name, err)
	}

	delete(tr.tables, name)
	for i, n := range tr.order {
		if n == name {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
	return nil
}

// lookup returns the metadata of a declared table that is not being
// released. Callers hold tr.mu.
func (tr *TableRegistry) lookup(name string) (*TableMetadata, bool) {
	if tr.releasing[name] {
		return nil, false
	}
	metadata, exists := tr.tables[name]
	return metadata, exists
}

// Get returns a copy of the metadata of name.
func (tr *TableRegistry) Get(name string) (TableMetadata, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.lookup(name)
	if !exists {
		return TableMetadata{}, fmt.Errorf("%w: %q", ErrTableNotDeclared, name)
	}
	return *metadata, nil
}

// IsCached reports whether name is declared as a cache table.
func (tr *TableRegistry) IsCached(name string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.lookup(name)
	return exists && metadata.Cached
}

// Spec returns the relational declaration of name.
func (tr *TableRegistry) Spec(name string) (core.TableSpec, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.lookup(name)
	if !exists || !metadata.Relational {
		return core.TableSpec{}, false
	}
	return metadata.Spec, true
}

// Specs returns every relational declaration in declaration order.
func (tr *TableRegistry) Specs() []core.TableSpec {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var specs []core.TableSpec
	for _, name := range tr.order {
		if m := tr.tables[name]; m.Relational {
			specs = append(specs, m.Spec)
		}
	}
	return specs
}

// List returns all declared table names, sorted.
func (tr *TableRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tables))
	for name := range tr.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of declared tables.
func (tr *TableRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tables)
}
