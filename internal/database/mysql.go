package database

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rzpsarthak13/botstore/internal/core"
)

// MySQL is the MySQL dialect (driver github.com/go-sql-driver/mysql).
// It targets MySQL 8.0.13 or later, which accepts expression defaults on
// TEXT and JSON columns.
type MySQL struct{}

func init() {
	registerDialect(MySQL{}, "mariadb")
}

// MySQLDSN builds a data source name from connection parameters.
func MySQLDSN(host string, port int, database, username, password string, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	cfg.Timeout = timeout
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) ColumnType(t core.DataType) string {
	switch t {
	case core.TypeInt64:
		return "BIGINT"
	case core.TypeBoolean:
		return "BOOLEAN"
	case core.TypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

// keyType is ColumnType for key columns; TEXT cannot be indexed without a
// prefix length.
func (m MySQL) keyType(c core.ColumnSpec) string {
	if c.PrimaryKey && c.Type == core.TypeText {
		return "VARCHAR(191)"
	}
	return m.ColumnType(c.Type)
}

// DataTypeOf maps INFORMATION_SCHEMA.COLUMNS.DATA_TYPE. BOOLEAN is stored
// as tinyint, so tinyint is read back as a boolean.
func (MySQL) DataTypeOf(reported string) core.DataType {
	switch baseTypeName(reported) {
	case "bigint", "int", "integer", "smallint", "mediumint":
		return core.TypeInt64
	case "tinyint", "bool", "boolean", "bit":
		return core.TypeBoolean
	case "text", "tinytext", "mediumtext", "longtext", "varchar", "char":
		return core.TypeText
	case "json":
		return core.TypeJSON
	default:
		return core.TypeUnknown
	}
}

func (MySQL) RenderDefault(c core.ColumnSpec) string {
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
		return "(" + quoteLiteral(*def) + ")"
	default:
		if c.PrimaryKey {
			return quoteLiteral(*def)
		}
		return "(" + quoteLiteral(*def) + ")"
	}
}

// NormalizeDefault handles both plain defaults, which MySQL reports
// unquoted, and expression defaults reported as _utf8mb4\'!\'.
func (MySQL) NormalizeDefault(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := stripParens(strings.TrimSpace(*raw))
	if strings.HasPrefix(s, "_") {
		// Charset introducer.
		if i := strings.IndexAny(s, `\'`); i > 0 {
			s = s[i:]
		}
	}
	s = strings.ReplaceAll(s, `\'`, `'`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	if strings.EqualFold(s, "null") {
		return nil
	}
	s = unquoteLiteral(s)
	return &s
}

func (m MySQL) def(c core.ColumnSpec) string {
	return columnDef(m, c, m.keyType(c))
}

func (m MySQL) CreateTable(spec core.TableSpec) string {
	return createTable(m, spec.Name, spec.Key(), m.def)
}

func (MySQL) ListColumns(table string) (string, []interface{}) {
	return `
		SELECT COLUMN_NAME AS column_name,
		       DATA_TYPE AS data_type,
		       COLUMN_DEFAULT AS column_default,
		       IS_NULLABLE AS is_nullable,
		       IF(COLUMN_KEY = 'PRI', 1, 0) AS is_pk
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, []interface{}{table}
}

func (m MySQL) AddColumn(table string, c core.ColumnSpec) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.Quote(table), m.def(c))}
}

// AlterType and AlterDefault both rewrite the full column definition.
func (m MySQL) AlterType(table string, c core.ColumnSpec, _ []core.LiveColumn) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", m.Quote(table), m.def(c))}
}

func (m MySQL) AlterDefault(table string, c core.ColumnSpec, live []core.LiveColumn) []string {
	return m.AlterType(table, c, live)
}

func (m MySQL) DropColumn(table, name string, _ []core.LiveColumn) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", m.Quote(table), m.Quote(name))}
}

func (m MySQL) Upsert(table string, keyCols, valueCols []string) string {
	cols := append(append([]string{}, keyCols...), valueCols...)
	if len(valueCols) == 0 {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
			m.Quote(table), strings.Join(quoteAll(m, cols), ", "),
			strings.Join(placeholders(m, 1, len(cols)), ", "))
	}
	sets := make([]string, len(valueCols))
	for i, c := range valueCols {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", m.Quote(c), m.Quote(c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		m.Quote(table), strings.Join(quoteAll(m, cols), ", "),
		strings.Join(placeholders(m, 1, len(cols)), ", "),
		strings.Join(sets, ", "))
}

// ConcurrentDDL is true: each ALTER is independent. MySQL commits DDL
// implicitly, so statements are never grouped in a transaction.
func (MySQL) ConcurrentDDL() bool    { return true }
func (MySQL) TransactionalDDL() bool { return false }
