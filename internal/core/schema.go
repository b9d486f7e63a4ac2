package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DataType is the portable column type vocabulary understood by the reconciler.
// Each dialect renders it to its own SQL type and recognizes it back from
// introspected type names.
type DataType int

const (
	// TypeUnknown is reported for live columns whose type no dialect mapping recognizes.
	TypeUnknown DataType = iota

	// TypeInt64 is a signed 64-bit integer column.
	TypeInt64

	// TypeText is an unbounded text column.
	TypeText

	// TypeBoolean is a boolean column.
	TypeBoolean

	// TypeJSON is an opaque structured document column. Values are encoded
	// with the structured codec so integer mapping keys survive the round-trip.
	TypeJSON
)

// String returns the lower-case name used in schema files and logs.
func (t DataType) String() string {
	switch t {
	case TypeInt64:
		return "int64"
	case TypeText:
		return "text"
	case TypeBoolean:
		return "boolean"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseDataType parses the names produced by DataType.String.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "int64", "bigint", "integer":
		return TypeInt64, nil
	case "text", "string":
		return TypeText, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "json", "jsonb":
		return TypeJSON, nil
	default:
		return TypeUnknown, fmt.Errorf("unknown data type %q", s)
	}
}

// ColumnSpec declares one column of a table.
type ColumnSpec struct {
	// Name is the column name.
	Name string

	// Type is the declared data type.
	Type DataType

	// Default is the bare default literal (e.g. "0", "!", "false", "{}").
	// A nil Default means the column has no default.
	Default *string

	// PrimaryKey marks the column as part of the table's primary key.
	PrimaryKey bool

	// Nullable indicates whether the column accepts NULL.
	Nullable bool
}

// TableSpec declares a table as an ordered set of uniquely named columns.
type TableSpec struct {
	// Name is the table name.
	Name string

	// Columns are the declared columns, in creation order.
	Columns []ColumnSpec

	// DropUnlisted makes reconciliation drop live columns that are not declared.
	DropUnlisted bool
}

// Column looks up a declared column by name.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnSpec{}, false
}

// PrimaryKey returns the primary-key columns in declaration order.
func (t TableSpec) PrimaryKey() []ColumnSpec {
	var pk []ColumnSpec
	for _, col := range t.Columns {
		if col.PrimaryKey {
			pk = append(pk, col)
		}
	}
	return pk
}

// Key returns the columns identifying a row: the primary key, or the first
// column when none is declared.
func (t TableSpec) Key() []ColumnSpec {
	pk := t.PrimaryKey()
	if len(pk) == 0 && len(t.Columns) > 0 {
		first := t.Columns[0]
		first.PrimaryKey = true
		pk = []ColumnSpec{first}
	}
	return pk
}

// LiveColumn is a column reconstructed by introspecting the live schema.
// The embedded ColumnSpec carries the recognized type and the normalized
// bare default; RawType and RawDefault keep what the store reported.
type LiveColumn struct {
	ColumnSpec

	// RawType is the type name as reported by the store.
	RawType string

	// RawDefault is the default expression as reported by the store.
	RawDefault *string
}

// Literal returns a pointer to s, for use as a ColumnSpec default.
func Literal(s string) *string {
	return &s
}

// NormalizeDefault reduces a bare default literal to the canonical form used
// to compare declared and live defaults. Integers are re-formatted in base 10,
// booleans become "true" or "false", JSON documents are compacted and text is
// kept verbatim. A nil default or the literal NULL yields nil. Literals that
// do not parse for t are returned unchanged.
func NormalizeDefault(t DataType, def *string) *string {
	if def == nil {
		return nil
	}
	s := *def
	if strings.EqualFold(strings.TrimSpace(s), "null") {
		return nil
	}
	switch t {
	case TypeInt64:
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			s = strconv.FormatInt(n, 10)
		}
	case TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "t", "yes", "y", "on":
			s = "true"
		case "0", "false", "f", "no", "n", "off":
			s = "false"
		}
	case TypeJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err == nil {
			s = buf.String()
		}
	}
	return &s
}

// EquivalentDefault reports whether two defaults are equal after
// normalization for t.
func EquivalentDefault(t DataType, a, b *string) bool {
	na, nb := NormalizeDefault(t, a), NormalizeDefault(t, b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	return *na == *nb
}
