package database

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/botstore/internal/codec"
)

// encodeArgs replaces structured arguments (maps and non-byte slices) with
// their codec text so JSON columns keep integer mapping keys.
func encodeArgs(args []interface{}) ([]interface{}, error) {
	out := args
	copied := false
	for i, arg := range args {
		if !isStructured(arg) {
			continue
		}
		if !copied {
			out = append([]interface{}(nil), args...)
			copied = true
		}
		text, err := codec.Encode(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = string(text)
	}
	return out, nil
}

func isStructured(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map:
		return true
	case reflect.Slice:
		_, isBytes := v.([]byte)
		return !isBytes
	default:
		return false
	}
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col.Name()] = convertColumn(col.DatabaseTypeName(), vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// convertColumn turns a scanned driver value into the shape callers expect:
// JSON documents are decoded with the codec, byte text becomes string, and
// integers a text protocol delivered as bytes become int64.
func convertColumn(typeName string, v interface{}) interface{} {
	typeName = strings.ToUpper(typeName)
	switch x := v.(type) {
	case []byte:
		switch {
		case isJSONType(typeName):
			return codec.Decode(x)
		case isIntegerType(typeName):
			if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
				return n
			}
		}
		return string(x)
	case string:
		if isJSONType(typeName) {
			return codec.DecodeString(x)
		}
		return x
	default:
		return v
	}
}

func isJSONType(name string) bool {
	return name == "JSON" || name == "JSONB"
}

func isIntegerType(name string) bool {
	switch name {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "MEDIUMINT", "TINYINT", "INT2", "INT4", "INT8",
		"UNSIGNED BIGINT", "UNSIGNED INT":
		return true
	}
	return false
}

func abbreviate(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 120 {
		return query[:117] + "..."
	}
	return query
}
