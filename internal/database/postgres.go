package database

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rzpsarthak13/botstore/internal/core"
)

// Postgres is the PostgreSQL dialect (driver github.com/lib/pq).
type Postgres struct{}

func init() {
	registerDialect(Postgres{}, "postgresql", "pg")
}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }

func (Postgres) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) ColumnType(t core.DataType) string {
	switch t {
	case core.TypeInt64:
		return "bigint"
	case core.TypeBoolean:
		return "boolean"
	case core.TypeJSON:
		return "jsonb"
	default:
		return "text"
	}
}

func (Postgres) DataTypeOf(reported string) core.DataType {
	switch baseTypeName(reported) {
	case "bigint", "integer", "smallint", "int8", "int4", "int2":
		return core.TypeInt64
	case "text", "character varying", "varchar", "character", "char":
		return core.TypeText
	case "boolean", "bool":
		return core.TypeBoolean
	case "jsonb", "json":
		return core.TypeJSON
	default:
		return core.TypeUnknown
	}
}

func (Postgres) RenderDefault(c core.ColumnSpec) string {
	def := core.NormalizeDefault(c.Type, c.Default)
	if def == nil {
		return ""
	}
	switch c.Type {
	case core.TypeInt64:
		return *def
	case core.TypeBoolean:
		return strings.ToUpper(*def)
	case core.TypeJSON:
		return quoteLiteral(*def) + "::jsonb"
	default:
		return quoteLiteral(*def)
	}
}

// NormalizeDefault strips the casts and quoting PostgreSQL adds to stored
// defaults: '!'::text becomes !, ('{}'::jsonb) becomes {}.
func (Postgres) NormalizeDefault(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := stripParens(strings.TrimSpace(*raw))
	for {
		i := strings.LastIndex(s, "::")
		if i < 0 || strings.LastIndexByte(s, '\'') > i {
			break
		}
		s = stripParens(strings.TrimSpace(s[:i]))
	}
	if strings.EqualFold(s, "null") {
		return nil
	}
	s = unquoteLiteral(s)
	return &s
}

func (p Postgres) CreateTable(spec core.TableSpec) string {
	return createTable(p, spec.Name, spec.Key(), func(c core.ColumnSpec) string {
		return columnDef(p, c, p.ColumnType(c.Type))
	})
}

func (Postgres) ListColumns(table string) (string, []interface{}) {
	return `
		SELECT c.column_name AS column_name,
		       c.data_type AS data_type,
		       c.column_default AS column_default,
		       c.is_nullable AS is_nullable,
		       EXISTS (
		           SELECT 1
		           FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage k
		             ON k.constraint_name = tc.constraint_name
		            AND k.table_schema = tc.table_schema
		            AND k.table_name = tc.table_name
		           WHERE tc.constraint_type = 'PRIMARY KEY'
		             AND tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND k.column_name = c.column_name
		       ) AS is_pk
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`, []interface{}{table}
}

// AddColumn omits NOT NULL when there is no default: existing rows would
// hold NULL in the new column and the statement would fail on every run.
func (p Postgres) AddColumn(table string, c core.ColumnSpec) []string {
	if p.RenderDefault(c) == "" {
		c.Nullable = true
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		p.Quote(table), columnDef(p, c, p.ColumnType(c.Type)))}
}

// AlterType drops the current default first, since it may not be castable
// to the new type; the plan re-applies the declared default afterwards.
func (p Postgres) AlterType(table string, c core.ColumnSpec, live []core.LiveColumn) []string {
	from := core.TypeUnknown
	for _, l := range live {
		if l.Name == c.Name {
			from = l.Type
		}
	}
	col := p.Quote(c.Name)
	return []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", p.Quote(table), col),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s",
			p.Quote(table), col, p.ColumnType(c.Type), p.using(col, from, c.Type)),
	}
}

func (p Postgres) using(col string, from, to core.DataType) string {
	switch to {
	case core.TypeBoolean:
		if from == core.TypeInt64 {
			return "(" + col + " <> 0)"
		}
		return col + "::text::boolean"
	case core.TypeInt64:
		if from == core.TypeBoolean {
			return col + "::int::bigint"
		}
		return col + "::text::bigint"
	case core.TypeJSON:
		if from == core.TypeText {
			return col + "::jsonb"
		}
		return "to_jsonb(" + col + ")"
	default:
		return col + "::text"
	}
}

func (p Postgres) AlterDefault(table string, c core.ColumnSpec, _ []core.LiveColumn) []string {
	if def := p.RenderDefault(c); def != "" {
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s",
			p.Quote(table), p.Quote(c.Name), def)}
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT",
		p.Quote(table), p.Quote(c.Name))}
}

func (p Postgres) DropColumn(table, name string, _ []core.LiveColumn) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", p.Quote(table), p.Quote(name))}
}

func (p Postgres) Upsert(table string, keyCols, valueCols []string) string {
	return conflictUpsert(p, table, keyCols, valueCols)
}

func (Postgres) ConcurrentDDL() bool    { return true }
func (Postgres) TransactionalDDL() bool { return true }

// conflictUpsert renders INSERT ... ON CONFLICT, shared by PostgreSQL and SQLite.
func conflictUpsert(d Dialect, table string, keyCols, valueCols []string) string {
	cols := append(append([]string{}, keyCols...), valueCols...)
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		d.Quote(table),
		strings.Join(quoteAll(d, cols), ", "),
		strings.Join(placeholders(d, 1, len(cols)), ", "),
		strings.Join(quoteAll(d, keyCols), ", "))
	if len(valueCols) == 0 {
		return q + " DO NOTHING"
	}
	sets := make([]string, len(valueCols))
	for i, c := range valueCols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c))
	}
	return q + " DO UPDATE SET " + strings.Join(sets, ", ")
}
