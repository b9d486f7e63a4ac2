package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/schema"
	"gopkg.in/yaml.v3"
)

// schemaFile is the YAML layout of a table declaration file:
//
//	tables:
//	  - name: guilds
//	    drop_unlisted: true
//	    columns:
//	      - {name: id, type: int64, primary_key: true}
//	      - {name: prefix, type: text, default: "!"}
type schemaFile struct {
	Tables []struct {
		Name         string `yaml:"name"`
		DropUnlisted bool   `yaml:"drop_unlisted"`
		Columns      []struct {
			Name       string  `yaml:"name"`
			Type       string  `yaml:"type"`
			Default    *string `yaml:"default"`
			PrimaryKey bool    `yaml:"primary_key"`
			Nullable   bool    `yaml:"nullable"`
		} `yaml:"columns"`
	} `yaml:"tables"`
}

// LoadTableSpecs reads and validates table declarations from a YAML file.
func LoadTableSpecs(path string) ([]core.TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseTableSpecs(data)
}

// ParseTableSpecs parses and validates YAML table declarations. Every
// invalid table is reported.
func ParseTableSpecs(data []byte) ([]core.TableSpec, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	var (
		specs []core.TableSpec
		errs  []error
		seen  = make(map[string]bool)
	)
	for _, t := range file.Tables {
		spec := core.TableSpec{Name: t.Name, DropUnlisted: t.DropUnlisted}
		var bad bool
		for _, c := range t.Columns {
			typ, err := core.ParseDataType(c.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: table %q column %q: %v", schema.ErrInvalidSpec, t.Name, c.Name, err))
				bad = true
				continue
			}
			spec.Columns = append(spec.Columns, core.ColumnSpec{
				Name:       c.Name,
				Type:       typ,
				Default:    c.Default,
				PrimaryKey: c.PrimaryKey,
				Nullable:   c.Nullable,
			})
		}
		if bad {
			continue
		}
		if seen[spec.Name] {
			errs = append(errs, fmt.Errorf("%w: table %q declared twice", schema.ErrInvalidSpec, spec.Name))
			continue
		}
		if err := schema.Validate(spec); err != nil {
			errs = append(errs, err)
			continue
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	return specs, errors.Join(errs...)
}
