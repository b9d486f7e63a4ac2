package schema

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/database"
)

// Translator converts between records of a declared table and the SQL
// statements of a dialect.
type Translator struct {
	dialect database.Dialect
	mapper  *TypeMapper
}

// NewTranslator creates a translator for dialect.
func NewTranslator(dialect database.Dialect) *Translator {
	return &Translator{
		dialect: dialect,
		mapper:  NewTypeMapper(),
	}
}

// ToUpsert converts a record into an upsert keyed by the table's key
// columns. Only the columns present in the record are written.
func (t *Translator) ToUpsert(spec core.TableSpec, record map[string]interface{}) (string, []interface{}, error) {
	if err := ValidatePartialRecord(spec, record); err != nil {
		return "", nil, fmt.Errorf("validation failed: %w", err)
	}

	key := spec.Key()
	keyCols := make([]string, 0, len(key))
	args := make([]interface{}, 0, len(record))
	isKey := make(map[string]bool, len(key))
	for _, col := range key {
		value, exists := record[col.Name]
		if !exists || value == nil {
			return "", nil, fmt.Errorf("missing required key column: %s", col.Name)
		}
		converted, err := t.mapper.ToColumnValue(value, col.Type)
		if err != nil {
			return "", nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		keyCols = append(keyCols, col.Name)
		args = append(args, converted)
		isKey[col.Name] = true
	}

	var valueCols []string
	for _, col := range spec.Columns {
		value, exists := record[col.Name]
		if !exists || isKey[col.Name] {
			continue
		}
		converted, err := t.mapper.ToColumnValue(value, col.Type)
		if err != nil {
			return "", nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		valueCols = append(valueCols, col.Name)
		args = append(args, converted)
	}

	return t.dialect.Upsert(spec.Name, keyCols, valueCols), args, nil
}

// ToSelect builds a query for the named columns (all declared columns when
// none are given) of the row identified by keys.
func (t *Translator) ToSelect(spec core.TableSpec, keys []interface{}, columns ...string) (string, []interface{}, error) {
	where, args, err := t.whereKey(spec, keys)
	if err != nil {
		return "", nil, err
	}
	if len(columns) == 0 {
		for _, col := range spec.Columns {
			columns = append(columns, col.Name)
		}
	}
	quoted := make([]string, len(columns))
	for i, name := range columns {
		if _, ok := spec.Column(name); !ok {
			return "", nil, fmt.Errorf("column '%s' is not declared on %s", name, spec.Name)
		}
		quoted[i] = t.dialect.Quote(name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(quoted, ", "), t.dialect.Quote(spec.Name), where)
	return query, args, nil
}

// ToDelete builds a DELETE for the row identified by keys.
func (t *Translator) ToDelete(spec core.TableSpec, keys []interface{}) (string, []interface{}, error) {
	where, args, err := t.whereKey(spec, keys)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", t.dialect.Quote(spec.Name), where), args, nil
}

func (t *Translator) whereKey(spec core.TableSpec, keys []interface{}) (string, []interface{}, error) {
	key := spec.Key()
	if len(keys) != len(key) {
		return "", nil, fmt.Errorf("%s is keyed by %d column(s), got %d value(s)", spec.Name, len(key), len(keys))
	}
	conds := make([]string, len(key))
	args := make([]interface{}, len(key))
	for i, col := range key {
		converted, err := t.mapper.ToColumnValue(keys[i], col.Type)
		if err != nil {
			return "", nil, fmt.Errorf("failed to convert key for column '%s': %w", col.Name, err)
		}
		conds[i] = fmt.Sprintf("%s = %s", t.dialect.Quote(col.Name), t.dialect.Placeholder(i+1))
		args[i] = converted
	}
	return strings.Join(conds, " AND "), args, nil
}

// FromRow converts a fetched row into a record of canonical Go values.
// Columns the table does not declare are ignored.
func (t *Translator) FromRow(spec core.TableSpec, row database.Row) (map[string]interface{}, error) {
	if row == nil {
		return nil, nil
	}
	record := make(map[string]interface{}, len(row))
	for name, value := range row {
		col, ok := spec.Column(name)
		if !ok {
			continue
		}
		converted, err := t.mapper.FromColumnValue(value, col.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to convert value for column '%s': %w", name, err)
		}
		record[name] = converted
	}
	return record, nil
}
