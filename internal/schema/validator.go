package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/rzpsarthak13/botstore/internal/core"
)

// ErrInvalidSpec is wrapped by every Validate failure.
var ErrInvalidSpec = errors.New("invalid table spec")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Validate checks a declared table: identifiers are plain, column names are
// unique, types are known and defaults parse for their type.
func Validate(spec core.TableSpec) error {
	if !identifierPattern.MatchString(spec.Name) {
		return fmt.Errorf("%w: table name %q is not a plain identifier", ErrInvalidSpec, spec.Name)
	}
	if len(spec.Columns) == 0 {
		return fmt.Errorf("%w: table %s declares no columns", ErrInvalidSpec, spec.Name)
	}

	mapper := NewTypeMapper()
	seen := make(map[string]bool, len(spec.Columns))
	for _, col := range spec.Columns {
		if !identifierPattern.MatchString(col.Name) {
			return fmt.Errorf("%w: %s: column name %q is not a plain identifier", ErrInvalidSpec, spec.Name, col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: %s: duplicate column %s", ErrInvalidSpec, spec.Name, col.Name)
		}
		seen[col.Name] = true

		if col.Type == core.TypeUnknown {
			return fmt.Errorf("%w: %s.%s: unknown type", ErrInvalidSpec, spec.Name, col.Name)
		}
		if col.PrimaryKey && col.Nullable {
			return fmt.Errorf("%w: %s.%s: primary key column cannot be nullable", ErrInvalidSpec, spec.Name, col.Name)
		}
		if def := core.NormalizeDefault(col.Type, col.Default); def != nil {
			if err := validateDefault(mapper, col.Type, *def); err != nil {
				return fmt.Errorf("%w: %s.%s: default: %v", ErrInvalidSpec, spec.Name, col.Name, err)
			}
		}
	}
	return nil
}

func validateDefault(mapper *TypeMapper, t core.DataType, def string) error {
	switch t {
	case core.TypeJSON:
		if !json.Valid([]byte(def)) {
			return fmt.Errorf("%q is not a JSON document", def)
		}
		return nil
	default:
		_, err := mapper.FromColumnValue(def, t)
		return err
	}
}

// ValidateRecord checks a full record against the declared columns: every
// column without a default is present, and every value converts to its
// column type.
func ValidateRecord(spec core.TableSpec, record map[string]interface{}) error {
	if err := ValidatePartialRecord(spec, record); err != nil {
		return err
	}
	for _, col := range spec.Columns {
		if _, exists := record[col.Name]; !exists && !col.Nullable && col.Default == nil {
			return fmt.Errorf("column '%s' cannot be NULL", col.Name)
		}
	}
	return nil
}

// ValidatePartialRecord checks only the columns present in record, plus the
// primary key, which must always be present.
func ValidatePartialRecord(spec core.TableSpec, record map[string]interface{}) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	for _, col := range spec.PrimaryKey() {
		if v, exists := record[col.Name]; !exists || v == nil {
			return fmt.Errorf("missing required primary key: %s", col.Name)
		}
	}

	mapper := NewTypeMapper()
	for name, value := range record {
		col, ok := spec.Column(name)
		if !ok {
			return fmt.Errorf("column '%s' is not declared on %s", name, spec.Name)
		}
		if value == nil {
			if !col.Nullable {
				return fmt.Errorf("column '%s' cannot be NULL", name)
			}
			continue
		}
		if _, err := mapper.ToColumnValue(value, col.Type); err != nil {
			return fmt.Errorf("column '%s': type mismatch: expected %s, got %T: %w", name, col.Type, value, err)
		}
	}
	return nil
}
