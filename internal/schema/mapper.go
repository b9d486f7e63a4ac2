package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/botstore/internal/codec"
	"github.com/rzpsarthak13/botstore/internal/core"
)

// TypeMapper converts between Go values and column values for each DataType.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// ToColumnValue converts a Go value into an argument for a column of type t.
// JSON values are passed through; the executor encodes them with the codec.
func (tm *TypeMapper) ToColumnValue(value interface{}, t core.DataType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case core.TypeInt64:
		return tm.toInt64(value)
	case core.TypeBoolean:
		return tm.toBool(value)
	case core.TypeText:
		return tm.toString(value)
	case core.TypeJSON:
		canonical, err := codec.Canonical(value)
		if err != nil {
			return nil, err
		}
		switch canonical.(type) {
		case map[string]interface{}, map[interface{}]interface{}, []interface{}:
			return canonical, nil
		}
		// Scalars are stored as encoded documents as well.
		text, err := codec.Encode(canonical)
		if err != nil {
			return nil, err
		}
		return string(text), nil
	default:
		return nil, fmt.Errorf("unsupported column type: %s", t)
	}
}

// FromColumnValue converts a fetched column value back to its canonical Go
// form: int64, bool, string, or a codec-decoded document.
func (tm *TypeMapper) FromColumnValue(value interface{}, t core.DataType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case core.TypeInt64:
		return tm.toInt64(value)
	case core.TypeBoolean:
		return tm.toBool(value)
	case core.TypeText:
		return tm.toString(value)
	case core.TypeJSON:
		// The executor already decoded JSON columns; raw bytes only reach
		// here from callers that scanned the column themselves.
		if v, ok := value.([]byte); ok {
			return codec.Decode(v), nil
		}
		return codec.Canonical(value)
	default:
		return value, nil
	}
}

// toInt64 converts various numeric types to int64.
func (tm *TypeMapper) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return tm.fromUint(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return tm.fromUint(v)
	case float32:
		return tm.fromFloat(float64(v))
	case float64:
		return tm.fromFloat(v)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return tm.toInt64(string(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to int64: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func (tm *TypeMapper) fromUint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func (tm *TypeMapper) fromFloat(v float64) (int64, error) {
	if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
		return 0, fmt.Errorf("float %v is not an int64", v)
	}
	return int64(v), nil
}

// toBool converts various types to bool. Integers are true when non-zero.
func (tm *TypeMapper) toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case []byte:
		return tm.toBool(string(v))
	case string:
		def := core.NormalizeDefault(core.TypeBoolean, &v)
		switch {
		case def != nil && *def == "true":
			return true, nil
		case def != nil && *def == "false":
			return false, nil
		}
		return false, fmt.Errorf("cannot convert string '%s' to bool", v)
	default:
		n, err := tm.toInt64(value)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", value)
		}
		return n != 0, nil
	}
}

// toString converts scalar types to string.
func (tm *TypeMapper) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", value)
	}
}
