// Package codec encodes structured values to JSON text while preserving the
// integer/float distinction of values and of mapping keys.
//
// JSON only has strings, and one generic number kind, and mapping keys must be
// strings. Before serialization every integer or float (value or key) is
// replaced by an escape tag:
//
//	__CONVERT_NUMBER__ INTEGER 1234567890123456789
//	__CONVERT_NUMBER__ FLOAT 2.5
//
// and Decode reverses the substitution. A string that already matches the
// escape grammar is decoded as the number it spells; this collision is a
// known limitation of the format.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

const (
	escapePrefix = "__CONVERT_NUMBER__"
	kindInteger  = "INTEGER"
	kindFloat    = "FLOAT"
)

// ErrUnsupportedType is returned by Encode for values outside the supported
// scalar and container kinds, including binary blobs.
var ErrUnsupportedType = errors.New("codec: unsupported value type")

// Encode walks v, tags every number, and serializes the result as JSON.
func Encode(v interface{}) ([]byte, error) {
	tagged, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return out, nil
}

// EncodeValue returns the tagged tree of v without serializing it. Mapping
// keys become strings, numbers become escape tags.
func EncodeValue(v interface{}) (interface{}, error) {
	return encodeValue(reflect.ValueOf(v))
}

func encodeValue(rv reflect.Value) (interface{}, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		if n, ok := rv.Interface().(json.Number); ok {
			return encodeJSONNumber(n)
		}
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return tag(kindInteger, strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return tag(kindInteger, strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32:
		return tag(kindFloat, strconv.FormatFloat(rv.Float(), 'g', -1, 32)), nil
	case reflect.Float64:
		return tag(kindFloat, strconv.FormatFloat(rv.Float(), 'g', -1, 64)), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeValue(rv.Elem())
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := encodeKey(iter.Key())
			if err != nil {
				return nil, err
			}
			val, err := encodeValue(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", key, err)
			}
			out[key] = val
		}
		return out, nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
		}
		if rv.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			val, err := encodeValue(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
	}
}

func encodeKey(rv reflect.Value) (string, error) {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", fmt.Errorf("%w: nil mapping key", ErrUnsupportedType)
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		v, err := encodeValue(rv)
		if err != nil {
			return "", err
		}
		return v.(string), nil
	default:
		return "", fmt.Errorf("%w: mapping key of type %s", ErrUnsupportedType, rv.Type())
	}
}

func encodeJSONNumber(n json.Number) (interface{}, error) {
	if i, err := n.Int64(); err == nil {
		return tag(kindInteger, strconv.FormatInt(i, 10)), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed json.Number %q", ErrUnsupportedType, n.String())
	}
	return tag(kindFloat, strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func tag(kind, literal string) string {
	return escapePrefix + " " + kind + " " + literal
}

// Decode parses JSON text produced by Encode. It never fails: text that is
// not valid JSON is returned unchanged as a string.
func Decode(data []byte) interface{} {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return string(data)
	}
	if dec.More() {
		return string(data)
	}
	return DecodeValue(raw, false)
}

// DecodeString is Decode for string input.
func DecodeString(s string) interface{} {
	return Decode([]byte(s))
}

// DecodeValue reverses the tag walk on an already-parsed value. With
// coerceBareNumericStrings set, untagged strings that parse as numbers are
// converted too; that mode exists for foreign data that never went through
// Encode. Tags always take precedence.
func DecodeValue(v interface{}, coerceBareNumericStrings bool) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return decodeString(x, coerceBareNumericStrings)
	case json.Number:
		return decodeNumber(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, elem := range x {
			out[i] = DecodeValue(elem, coerceBareNumericStrings)
		}
		return out
	case map[string]interface{}:
		keys := make([]interface{}, 0, len(x))
		vals := make([]interface{}, 0, len(x))
		for k, val := range x {
			keys = append(keys, decodeString(k, coerceBareNumericStrings))
			vals = append(vals, DecodeValue(val, coerceBareNumericStrings))
		}
		return buildMap(keys, vals)
	case map[interface{}]interface{}:
		keys := make([]interface{}, 0, len(x))
		vals := make([]interface{}, 0, len(x))
		for k, val := range x {
			if s, ok := k.(string); ok {
				keys = append(keys, decodeString(s, coerceBareNumericStrings))
			} else {
				keys = append(keys, k)
			}
			vals = append(vals, DecodeValue(val, coerceBareNumericStrings))
		}
		return buildMap(keys, vals)
	default:
		return v
	}
}

// buildMap returns a map[string]interface{} when every key is a string and a
// map[interface{}]interface{} otherwise.
func buildMap(keys, vals []interface{}) interface{} {
	allStrings := true
	for _, k := range keys {
		if _, ok := k.(string); !ok {
			allStrings = false
			break
		}
	}
	if allStrings {
		out := make(map[string]interface{}, len(keys))
		for i, k := range keys {
			out[k.(string)] = vals[i]
		}
		return out
	}
	out := make(map[interface{}]interface{}, len(keys))
	for i, k := range keys {
		out[k] = vals[i]
	}
	return out
}

func decodeString(s string, coerce bool) interface{} {
	if strings.HasPrefix(s, escapePrefix+" ") {
		if n, ok := parseTag(s); ok {
			return n
		}
		return s
	}
	if coerce && looksNumeric(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// parseTag parses an escape tag. A malformed tag falls back to an integer
// parse of its last field.
func parseTag(s string) (interface{}, bool) {
	parts := strings.SplitN(s, " ", 3)
	if len(parts) == 3 {
		switch parts[1] {
		case kindInteger:
			if i, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
				return i, true
			}
			if u, err := strconv.ParseUint(parts[2], 10, 64); err == nil {
				return u, true
			}
		case kindFloat:
			if f, err := strconv.ParseFloat(parts[2], 64); err == nil {
				return f, true
			}
		}
	}
	fields := strings.Fields(s)
	if i, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil {
		return i, true
	}
	return nil, false
}

func decodeNumber(n json.Number) interface{} {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	switch c := s[0]; {
	case c >= '0' && c <= '9', c == '-', c == '+', c == '.':
		return true
	}
	return false
}

// Canonical returns v in the shape Decode(Encode(v)) would produce, without
// the JSON step: integers become int64, floats float64, maps and slices are
// rebuilt. It fails for the same values Encode rejects.
func Canonical(v interface{}) (interface{}, error) {
	tagged, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return DecodeValue(tagged, false), nil
}

// NormalizeKey converts a mapping key to its canonical form: integer kinds to
// int64 (uint64 above math.MaxInt64), floats to float64, strings unchanged.
func NormalizeKey(k interface{}) (interface{}, error) {
	rv := reflect.ValueOf(k)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := rv.Uint(); u > math.MaxInt64 {
			return u, nil
		} else {
			return int64(u), nil
		}
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	default:
		return nil, fmt.Errorf("%w: mapping key of type %T", ErrUnsupportedType, k)
	}
}
