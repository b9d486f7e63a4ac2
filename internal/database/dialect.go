package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rzpsarthak13/botstore/internal/core"
)

// Dialect renders the statements the reconciler and the row API need for one
// SQL flavour.
type Dialect interface {
	// Name is the configuration name of the dialect.
	Name() string

	// DriverName is the database/sql driver to open.
	DriverName() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// ColumnType renders a DataType.
	ColumnType(t core.DataType) string

	// DataTypeOf recognizes a type name reported by introspection.
	DataTypeOf(reported string) core.DataType

	// RenderDefault renders the DEFAULT expression of c, or "" when c has none.
	RenderDefault(c core.ColumnSpec) string

	// NormalizeDefault reduces a reported default expression to its bare
	// literal. It returns nil for an absent or NULL default.
	NormalizeDefault(raw *string) *string

	// CreateTable creates the table with only its key columns if it is missing.
	CreateTable(spec core.TableSpec) string

	// ListColumns returns a query (and its arguments) whose result columns are
	// column_name, data_type, column_default, is_nullable and is_pk.
	ListColumns(table string) (string, []interface{})

	// AddColumn, AlterType, AlterDefault and DropColumn return the
	// statements of one schema operation, to be run in order. live is the
	// current column set of the table.
	AddColumn(table string, c core.ColumnSpec) []string
	AlterType(table string, c core.ColumnSpec, live []core.LiveColumn) []string
	AlterDefault(table string, c core.ColumnSpec, live []core.LiveColumn) []string
	DropColumn(table string, name string, live []core.LiveColumn) []string

	// Upsert inserts one row keyed by keyCols, updating valueCols on conflict.
	// Arguments are bound keyCols first, then valueCols.
	Upsert(table string, keyCols, valueCols []string) string

	// ConcurrentDDL reports whether independent schema statements may run
	// concurrently.
	ConcurrentDDL() bool

	// TransactionalDDL reports whether schema statements can be grouped in a
	// transaction.
	TransactionalDDL() bool
}

var dialects = map[string]Dialect{}

func registerDialect(d Dialect, aliases ...string) {
	dialects[d.Name()] = d
	for _, a := range aliases {
		dialects[a] = d
	}
}

// DialectFor looks a dialect up by name.
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %s (available: %v)", name, DialectNames())
	}
	return d, nil
}

// DialectNames lists the registered dialect names.
func DialectNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range dialects {
		if !seen[d.Name()] {
			seen[d.Name()] = true
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// unquoteLiteral reverses quoteLiteral; unquoted input is returned as is.
func unquoteLiteral(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// stripParens removes balanced outer parentheses.
func stripParens(s string) string {
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// baseTypeName lower-cases a reported type and drops any length or
// precision suffix, e.g. "VARCHAR(191)" becomes "varchar".
func baseTypeName(reported string) string {
	t := strings.ToLower(strings.TrimSpace(reported))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

func quoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.Quote(n)
	}
	return out
}

// columnDef renders "name TYPE [NOT NULL] [DEFAULT x]".
func columnDef(d Dialect, c core.ColumnSpec, typ string) string {
	var b strings.Builder
	b.WriteString(d.Quote(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable || c.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if def := d.RenderDefault(c); def != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String()
}

// createTable renders CREATE TABLE IF NOT EXISTS over the key columns.
func createTable(d Dialect, name string, cols []core.ColumnSpec, def func(core.ColumnSpec) string) string {
	defs := make([]string, 0, len(cols)+1)
	var keys []string
	for _, c := range cols {
		defs = append(defs, def(c))
		if c.PrimaryKey {
			keys = append(keys, d.Quote(c.Name))
		}
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(name), strings.Join(defs, ", "))
}

func placeholders(d Dialect, from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(from + i)
	}
	return out
}
