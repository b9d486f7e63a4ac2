package database

import (
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rzpsarthak13/botstore/internal/core"
)

// SQLite is the SQLite dialect (driver github.com/mattn/go-sqlite3).
//
// SQLite cannot change a column's type or default in place, so those
// operations rebuild the table: copy into a fresh table with the wanted
// definition, drop the original and rename the copy.
type SQLite struct{}

func init() {
	registerDialect(SQLite{}, "sqlite3")
}

const rebuildPrefix = "_botstore_rebuild_"

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ColumnType(t core.DataType) string {
	switch t {
	case core.TypeInt64:
		return "INTEGER"
	case core.TypeBoolean:
		return "BOOLEAN"
	case core.TypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

func (SQLite) DataTypeOf(reported string) core.DataType {
	switch baseTypeName(reported) {
	case "integer", "int", "bigint":
		return core.TypeInt64
	case "text", "varchar", "char", "clob":
		return core.TypeText
	case "boolean", "bool":
		return core.TypeBoolean
	case "json", "jsonb":
		return core.TypeJSON
	default:
		return core.TypeUnknown
	}
}

func (SQLite) RenderDefault(c core.ColumnSpec) string {
	def := core.NormalizeDefault(c.Type, c.Default)
	if def == nil {
		return ""
	}
	switch c.Type {
	case core.TypeInt64:
		return *def
	case core.TypeBoolean:
		if *def == "true" {
			return "1"
		}
		return "0"
	default:
		return quoteLiteral(*def)
	}
}

func (SQLite) NormalizeDefault(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := stripParens(strings.TrimSpace(*raw))
	if strings.EqualFold(s, "null") {
		return nil
	}
	s = unquoteLiteral(s)
	return &s
}

func (s SQLite) CreateTable(spec core.TableSpec) string {
	return createTable(s, spec.Name, spec.Key(), func(c core.ColumnSpec) string {
		return columnDef(s, c, s.ColumnType(c.Type))
	})
}

func (SQLite) ListColumns(table string) (string, []interface{}) {
	return `
		SELECT name AS column_name,
		       type AS data_type,
		       dflt_value AS column_default,
		       CASE WHEN "notnull" = 1 OR pk > 0 THEN 'NO' ELSE 'YES' END AS is_nullable,
		       pk > 0 AS is_pk
		FROM pragma_table_info(?)
		ORDER BY cid`, []interface{}{table}
}

// AddColumn omits NOT NULL when there is no default; SQLite rejects a
// NOT NULL column without one on ALTER TABLE ADD COLUMN.
func (s SQLite) AddColumn(table string, c core.ColumnSpec) []string {
	if s.RenderDefault(c) == "" {
		c.Nullable = true
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		s.Quote(table), columnDef(s, c, s.ColumnType(c.Type)))}
}

func (s SQLite) AlterType(table string, c core.ColumnSpec, live []core.LiveColumn) []string {
	return s.rebuild(table, c, live)
}

func (s SQLite) AlterDefault(table string, c core.ColumnSpec, live []core.LiveColumn) []string {
	return s.rebuild(table, c, live)
}

func (s SQLite) DropColumn(table, name string, _ []core.LiveColumn) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", s.Quote(table), s.Quote(name))}
}

func (s SQLite) rebuild(table string, want core.ColumnSpec, live []core.LiveColumn) []string {
	tmp := rebuildPrefix + table

	var defs, keys, names, exprs []string
	for _, l := range live {
		col := l.ColumnSpec
		typ := s.ColumnType(col.Type)
		if col.Type == core.TypeUnknown && l.RawType != "" {
			typ = l.RawType
		}
		expr := s.Quote(l.Name)

		if l.Name == want.Name {
			pk := col.PrimaryKey
			col = want
			col.PrimaryKey = pk
			if want.Type != l.Type {
				typ = s.ColumnType(want.Type)
				expr = fmt.Sprintf("CAST(%s AS %s)", expr, typ)
			}
			if def := s.RenderDefault(col); def == "" {
				col.Nullable = col.Nullable || l.Nullable
			} else if !col.Nullable {
				expr = fmt.Sprintf("COALESCE(%s, %s)", expr, def)
			}
		}

		defs = append(defs, columnDef(s, col, typ))
		names = append(names, s.Quote(l.Name))
		exprs = append(exprs, expr)
		if col.PrimaryKey {
			keys = append(keys, s.Quote(l.Name))
		}
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", s.Quote(tmp)),
		fmt.Sprintf("CREATE TABLE %s (%s)", s.Quote(tmp), strings.Join(defs, ", ")),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			s.Quote(tmp), strings.Join(names, ", "), strings.Join(exprs, ", "), s.Quote(table)),
		fmt.Sprintf("DROP TABLE %s", s.Quote(table)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.Quote(tmp), s.Quote(table)),
	}
}

func (s SQLite) Upsert(table string, keyCols, valueCols []string) string {
	return conflictUpsert(s, table, keyCols, valueCols)
}

// ConcurrentDDL is false: each rebuild reads the live column set, so
// schema operations must observe one another.
func (SQLite) ConcurrentDDL() bool    { return false }
func (SQLite) TransactionalDDL() bool { return true }
