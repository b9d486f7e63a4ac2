package botstore

import (
	"context"
	"reflect"

	log "github.com/sirupsen/logrus"
)

// Field is a typed per-key value kept in one cache table, such as the
// command prefix of each guild. Declare fields once at package level and
// pass them to Declarations.AddFields, so the set of fields is known when
// the program is built:
//
//	var Prefix = botstore.NewField("guild_prefix", "!")
//
//	decl.AddFields(Prefix)
//	p, _ := botstore.Open(ctx, cfg, decl)
//	Prefix.Set(ctx, p, guildID, "?")
//
// V should be a type the cache stores as-is (string, bool, int64, float64,
// map[string]interface{}, []interface{}) or any integer or float type.
type Field[V any] struct {
	table string
	def   V
}

// NewField declares a field stored in table with default value def.
func NewField[V any](table string, def V) *Field[V] {
	return &Field[V]{table: table, def: def}
}

// Table implements Declarer.
func (f *Field[V]) Table() string { return f.table }

// Default returns the value read for keys without one.
func (f *Field[V]) Default() V { return f.def }

// Get returns the value of the field for key, or its default. A stored value
// of another type is logged and read as the default.
func (f *Field[V]) Get(ctx context.Context, p *Persistence, key interface{}) V {
	raw := p.Get(ctx, f.table, key, nil)
	if raw == nil {
		return f.def
	}
	if v, ok := raw.(V); ok {
		return v
	}
	if v, ok := convertNumber[V](raw); ok {
		return v
	}
	log.WithFields(log.Fields{
		"component": "botstore",
		"table":     f.table,
		"key":       key,
		"type":      reflect.TypeOf(raw).String(),
	}).Warn("stored value has the wrong type; using the default")
	return f.def
}

// Set stores value for key.
func (f *Field[V]) Set(ctx context.Context, p *Persistence, key interface{}, value V) error {
	return p.Set(ctx, f.table, key, value)
}

// Delete resets key to the default.
func (f *Field[V]) Delete(ctx context.Context, p *Persistence, key interface{}) error {
	return p.DeleteTableEntry(ctx, f.table, key)
}

// convertNumber converts a canonical number to a numeric V. The cache holds
// every integer as int64 and every float as float64.
func convertNumber[V any](raw interface{}) (V, bool) {
	var zero V
	target := reflect.TypeOf((*V)(nil)).Elem()
	rv := reflect.ValueOf(raw)
	if !isNumericKind(target.Kind()) || !isNumericKind(rv.Kind()) {
		return zero, false
	}
	return rv.Convert(target).Interface().(V), true
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
