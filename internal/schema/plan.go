package schema

import (
	"fmt"

	"github.com/rzpsarthak13/botstore/internal/core"
)

// OpKind is the kind of a schema operation. Kinds are applied in the order
// they are declared.
type OpKind int

const (
	OpAdd OpKind = iota
	OpAlterType
	OpAlterDefault
	OpDrop
)

// Sweeps lists the operation kinds in application order.
var Sweeps = []OpKind{OpAdd, OpAlterType, OpAlterDefault, OpDrop}

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpAlterType:
		return "alter-type"
	case OpAlterDefault:
		return "alter-default"
	case OpDrop:
		return "drop"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is one step of a reconciliation plan. Column is the declared
// column for add and alter operations; Name is the column name for all kinds.
type Operation struct {
	Kind   OpKind
	Column core.ColumnSpec
	Name   string
}

func (o Operation) String() string {
	return o.Kind.String() + " " + o.Name
}

// Plan diffs the declared table against its live columns and returns the
// operations that make them equivalent, ordered add, alter-type,
// alter-default, drop. Columns match by name; a type change also re-applies
// the declared default, since rewriting a column's type may discard it.
func Plan(spec core.TableSpec, live []core.LiveColumn) []Operation {
	liveByName := make(map[string]core.LiveColumn, len(live))
	for _, l := range live {
		liveByName[l.Name] = l
	}

	var adds, types, defaults, drops []Operation
	for _, col := range spec.Columns {
		l, ok := liveByName[col.Name]
		if !ok {
			adds = append(adds, Operation{Kind: OpAdd, Column: col, Name: col.Name})
			continue
		}

		typeChanged := l.Type != col.Type
		if typeChanged {
			types = append(types, Operation{Kind: OpAlterType, Column: col, Name: col.Name})
		}
		hasDefault := col.Default != nil || l.Default != nil
		if !core.EquivalentDefault(col.Type, col.Default, l.Default) || (typeChanged && hasDefault) {
			defaults = append(defaults, Operation{Kind: OpAlterDefault, Column: col, Name: col.Name})
		}
	}

	if spec.DropUnlisted {
		for _, l := range live {
			if _, ok := spec.Column(l.Name); !ok {
				drops = append(drops, Operation{Kind: OpDrop, Name: l.Name})
			}
		}
	}

	plan := make([]Operation, 0, len(adds)+len(types)+len(defaults)+len(drops))
	plan = append(plan, adds...)
	plan = append(plan, types...)
	plan = append(plan, defaults...)
	return append(plan, drops...)
}
