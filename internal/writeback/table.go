package writeback

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rzpsarthak13/botstore/internal/codec"
)

// ErrNotNumeric is returned by Increment when the stored value or the
// delta is not a number.
var ErrNotNumeric = errors.New("value is not numeric")

// Table is the in-memory mapping of one logical table. Keys are normalized
// with codec.NormalizeKey and values are held in codec canonical form, the
// shape a hydrated table has. Reads never touch the network.
type Table struct {
	name    string
	onWrite func(table string)

	mu   sync.RWMutex
	data map[interface{}]interface{}
}

func newTable(name string, data map[interface{}]interface{}, onWrite func(string)) *Table {
	if data == nil {
		data = make(map[interface{}]interface{})
	}
	if onWrite == nil {
		onWrite = func(string) {}
	}
	return &Table{name: name, data: data, onWrite: onWrite}
}

// Name returns the logical table name.
func (t *Table) Name() string { return t.name }

// Get returns the value stored under key, or def when there is none.
// Structured values are returned as copies.
func (t *Table) Get(key interface{}, def interface{}) interface{} {
	k, err := codec.NormalizeKey(key)
	if err != nil {
		return def
	}

	t.mu.RLock()
	v, ok := t.data[k]
	t.mu.RUnlock()

	if !ok {
		return def
	}
	return detach(v)
}

// Has reports whether key has a value.
func (t *Table) Has(key interface{}) bool {
	k, err := codec.NormalizeKey(key)
	if err != nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.data[k]
	return ok
}

// Set stores value under key.
func (t *Table) Set(key, value interface{}) error {
	return t.SetMany(map[interface{}]interface{}{key: value})
}

// SetMany stores every entry of values. Either all entries are stored or,
// if any key or value cannot be encoded, none are.
func (t *Table) SetMany(values map[interface{}]interface{}) error {
	normalized := make(map[interface{}]interface{}, len(values))
	for key, value := range values {
		k, err := codec.NormalizeKey(key)
		if err != nil {
			return fmt.Errorf("table %s: %w", t.name, err)
		}
		v, err := codec.Canonical(value)
		if err != nil {
			return fmt.Errorf("table %s key %v: %w", t.name, key, err)
		}
		normalized[k] = v
	}

	t.mu.Lock()
	for k, v := range normalized {
		t.data[k] = v
	}
	t.mu.Unlock()

	t.onWrite(t.name)
	return nil
}

// Increment adds delta to the number stored under key, treating a missing
// value as zero, and returns the new value. Two integers stay an int64;
// anything involving a float yields a float64.
func (t *Table) Increment(key, delta interface{}) (interface{}, error) {
	k, err := codec.NormalizeKey(key)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.name, err)
	}
	d, err := codec.Canonical(delta)
	if err != nil || !isNumber(d) {
		return nil, fmt.Errorf("%w: delta %v (%T)", ErrNotNumeric, delta, delta)
	}

	t.mu.Lock()
	current, ok := t.data[k]
	if !ok {
		current = int64(0)
	}
	sum, err := add(current, d)
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("table %s key %v: %w", t.name, key, err)
	}
	t.data[k] = sum
	t.mu.Unlock()

	t.onWrite(t.name)
	return sum, nil
}

// Delete removes key.
func (t *Table) Delete(key interface{}) error {
	return t.DeleteMany([]interface{}{key})
}

// DeleteMany removes every key in keys.
func (t *Table) DeleteMany(keys []interface{}) error {
	normalized := make([]interface{}, len(keys))
	for i, key := range keys {
		k, err := codec.NormalizeKey(key)
		if err != nil {
			return fmt.Errorf("table %s: %w", t.name, err)
		}
		normalized[i] = k
	}

	t.mu.Lock()
	for _, k := range normalized {
		delete(t.data, k)
	}
	t.mu.Unlock()

	t.onWrite(t.name)
	return nil
}

// FetchAll returns a copy of the whole mapping.
func (t *Table) FetchAll() map[interface{}]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[interface{}]interface{}, len(t.data))
	for k, v := range t.data {
		out[k] = detach(v)
	}
	return out
}

// Len returns the number of keys.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// encode serializes the current mapping for the remote store.
func (t *Table) encode() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return codec.Encode(t.data)
}

// detach copies structured values so callers cannot mutate table state.
func detach(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, map[interface{}]interface{}, []interface{}:
		c, err := codec.Canonical(v)
		if err != nil {
			return v
		}
		return c
	default:
		return v
	}
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int64, uint64, float64:
		return true
	default:
		return false
	}
}

func add(current, delta interface{}) (interface{}, error) {
	switch a := current.(type) {
	case int64:
		switch b := delta.(type) {
		case int64:
			if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
				return nil, fmt.Errorf("int64 overflow adding %d to %d", b, a)
			}
			return a + b, nil
		case uint64:
			return float64(a) + float64(b), nil
		case float64:
			return float64(a) + b, nil
		}
	case uint64:
		switch b := delta.(type) {
		case int64:
			return float64(a) + float64(b), nil
		case uint64:
			return float64(a) + float64(b), nil
		case float64:
			return float64(a) + b, nil
		}
	case float64:
		switch b := delta.(type) {
		case int64:
			return a + float64(b), nil
		case uint64:
			return a + float64(b), nil
		case float64:
			return a + b, nil
		}
	}
	return nil, fmt.Errorf("%w: %v (%T)", ErrNotNumeric, current, current)
}
