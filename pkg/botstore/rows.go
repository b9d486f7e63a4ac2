package botstore

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/schema"
)

// Column is a column of a relational table, resolved when it is declared.
type Column struct {
	spec core.TableSpec
	col  core.ColumnSpec
}

// MustColumn resolves the named column of spec. It panics if spec does not
// declare the column, so a misspelt field fails at program start instead of
// reading a default forever:
//
//	var guilds = core.TableSpec{...}
//	var welcomeChannel = botstore.MustColumn(guilds, "welcome_channel")
func MustColumn(spec core.TableSpec, name string) Column {
	col, ok := spec.Column(name)
	if !ok {
		panic(fmt.Sprintf("botstore: table %s has no column %s", spec.Name, name))
	}
	return Column{spec: spec, col: col}
}

// Name returns the column name.
func (c Column) Name() string { return c.col.Name }

// Table returns the name of the column's table.
func (c Column) Table() string { return c.spec.Name }

// relational returns the declared spec of table, which must be relational.
func (p *Persistence) relational(table string) (core.TableSpec, error) {
	spec, ok := p.tables.Spec(table)
	if !ok || p.translator == nil {
		return core.TableSpec{}, fmt.Errorf("%w: %q is not a relational table", ErrUnknownTable, table)
	}
	return spec, nil
}

// LoadRow returns the row of table identified by keys, one value per key
// column. found is false when there is no such row.
func (p *Persistence) LoadRow(ctx context.Context, table string, keys ...interface{}) (row map[string]interface{}, found bool, err error) {
	spec, err := p.relational(table)
	if err != nil {
		return nil, false, err
	}
	query, args, err := p.translator.ToSelect(spec, keys)
	if err != nil {
		return nil, false, err
	}
	fetched, err := p.exec.FetchOne(ctx, query, args...)
	if err != nil || fetched == nil {
		return nil, false, err
	}
	record, err := p.translator.FromRow(spec, fetched)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// LoadField returns one column of the row identified by keys. found is false
// when there is no such row; a NULL column is found with a nil value.
func (p *Persistence) LoadField(ctx context.Context, c Column, keys ...interface{}) (value interface{}, found bool, err error) {
	spec, err := p.relational(c.Table())
	if err != nil {
		return nil, false, err
	}
	query, args, err := p.translator.ToSelect(spec, keys, c.Name())
	if err != nil {
		return nil, false, err
	}
	fetched, err := p.exec.FetchOne(ctx, query, args...)
	if err != nil || fetched == nil {
		return nil, false, err
	}
	record, err := p.translator.FromRow(spec, fetched)
	if err != nil {
		return nil, false, err
	}
	return record[c.Name()], true, nil
}

// StoreField writes one column of the row identified by keys, creating the
// row if it does not exist. Other columns of a new row take their defaults.
func (p *Persistence) StoreField(ctx context.Context, c Column, value interface{}, keys ...interface{}) error {
	spec, err := p.relational(c.Table())
	if err != nil {
		return err
	}
	key := spec.Key()
	if len(keys) != len(key) {
		return fmt.Errorf("%s is keyed by %d column(s), got %d value(s)", spec.Name, len(key), len(keys))
	}

	record := make(map[string]interface{}, len(key)+1)
	for i, col := range key {
		record[col.Name] = keys[i]
	}
	record[c.Name()] = value

	query, args, err := p.translator.ToUpsert(spec, record)
	if err != nil {
		return err
	}
	_, err = p.exec.Execute(ctx, query, args...)
	return err
}

// StoreRow writes a complete row, creating it or replacing the columns
// record names. Every column without a default must be present.
func (p *Persistence) StoreRow(ctx context.Context, table string, record map[string]interface{}) error {
	spec, err := p.relational(table)
	if err != nil {
		return err
	}
	if err := schema.ValidateRecord(spec, record); err != nil {
		return fmt.Errorf("invalid row for %s: %w", table, err)
	}
	query, args, err := p.translator.ToUpsert(spec, record)
	if err != nil {
		return err
	}
	_, err = p.exec.Execute(ctx, query, args...)
	return err
}

// DeleteRow removes the row of table identified by keys and reports whether
// one existed.
func (p *Persistence) DeleteRow(ctx context.Context, table string, keys ...interface{}) (bool, error) {
	spec, err := p.relational(table)
	if err != nil {
		return false, err
	}
	query, args, err := p.translator.ToDelete(spec, keys)
	if err != nil {
		return false, err
	}
	n, err := p.exec.Execute(ctx, query, args...)
	return n > 0, err
}
