package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/database"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Executor is the subset of database.Executor the reconciler drives.
type Executor interface {
	Execute(ctx context.Context, query string, args ...interface{}) (int64, error)
	ExecuteBatch(ctx context.Context, stmts []database.Statement, transactional bool) error
	FetchAll(ctx context.Context, query string, args ...interface{}) ([]database.Row, error)
}

// Report summarizes one reconciliation.
type Report struct {
	Table   string
	Applied []Operation
	Failed  []OperationError
}

// OperationError records an operation that failed to apply.
type OperationError struct {
	Operation
	Err error
}

func (e OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e OperationError) Unwrap() error { return e.Err }

// Reconciler converges live tables towards their declarations. It is
// convergent rather than transactional: a failing operation is logged and
// recorded, and the remaining operations still run.
type Reconciler struct {
	exec    Executor
	dialect database.Dialect
}

// NewReconciler returns a Reconciler issuing dialect statements through exec.
func NewReconciler(exec Executor, dialect database.Dialect) *Reconciler {
	return &Reconciler{exec: exec, dialect: dialect}
}

// Reconcile creates the table if it is missing, then applies the plan in
// four sweeps: add, alter-type, alter-default, drop. An error is returned
// only if spec is invalid, or the table cannot be created or
// introspected; individual operation failures are reported in Report.Failed.
func (r *Reconciler) Reconcile(ctx context.Context, spec core.TableSpec) (Report, error) {
	report := Report{Table: spec.Name}
	if err := Validate(spec); err != nil {
		return report, err
	}

	if _, err := r.exec.Execute(ctx, r.dialect.CreateTable(spec)); err != nil {
		return report, fmt.Errorf("creating table %s: %w", spec.Name, err)
	}
	live, err := r.Introspect(ctx, spec.Name)
	if err != nil {
		return report, err
	}
	plan := Plan(spec, live)

	var mu sync.Mutex
	record := func(op Operation, err error) {
		mu.Lock()
		defer mu.Unlock()

		if err == nil {
			report.Applied = append(report.Applied, op)
			reconcileOpsTotal.WithLabelValues(op.Kind.String(), "applied").Inc()
			return
		}
		report.Failed = append(report.Failed, OperationError{Operation: op, Err: err})
		reconcileOpsTotal.WithLabelValues(op.Kind.String(), "failed").Inc()
		log.WithFields(log.Fields{
			"table":  spec.Name,
			"column": op.Name,
			"op":     op.Kind.String(),
			"err":    err,
		}).Error("schema operation failed")
	}

	for _, kind := range Sweeps {
		var ops []Operation
		for _, op := range plan {
			if op.Kind == kind {
				ops = append(ops, op)
			}
		}
		if len(ops) == 0 {
			continue
		}

		if r.dialect.ConcurrentDDL() {
			var g errgroup.Group
			for _, op := range ops {
				op := op
				g.Go(func() error {
					record(op, r.apply(ctx, spec.Name, op, live))
					return nil
				})
			}
			_ = g.Wait()
			continue
		}

		for _, op := range ops {
			current := live
			if op.Kind == OpAlterType || op.Kind == OpAlterDefault {
				// Rebuild-style operations need the column set as it is now.
				if current, err = r.Introspect(ctx, spec.Name); err != nil {
					record(op, err)
					continue
				}
			}
			record(op, r.apply(ctx, spec.Name, op, current))
		}
	}

	if len(report.Applied) > 0 || len(report.Failed) > 0 {
		log.WithFields(log.Fields{
			"table":   spec.Name,
			"applied": len(report.Applied),
			"failed":  len(report.Failed),
		}).Info("reconciled table")
	}
	return report, nil
}

// Check returns the plan Reconcile would apply, without changing anything.
// A missing table plans an add for every declared column.
func (r *Reconciler) Check(ctx context.Context, spec core.TableSpec) ([]Operation, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	live, err := r.Introspect(ctx, spec.Name)
	if err != nil {
		return nil, err
	}
	return Plan(spec, live), nil
}

// ReconcileAll reconciles each table in turn, continuing past tables that
// fail, and returns the reports with the joined table-level errors.
func (r *Reconciler) ReconcileAll(ctx context.Context, specs []core.TableSpec) ([]Report, error) {
	reports := make([]Report, 0, len(specs))
	var errs []error
	for _, spec := range specs {
		report, err := r.Reconcile(ctx, spec)
		if err != nil {
			log.WithFields(log.Fields{"table": spec.Name, "err": err}).Error("reconciling table failed")
			errs = append(errs, err)
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func (r *Reconciler) apply(ctx context.Context, table string, op Operation, live []core.LiveColumn) error {
	var stmts []string
	switch op.Kind {
	case OpAdd:
		stmts = r.dialect.AddColumn(table, op.Column)
	case OpAlterType:
		stmts = r.dialect.AlterType(table, op.Column, live)
	case OpAlterDefault:
		stmts = r.dialect.AlterDefault(table, op.Column, live)
	case OpDrop:
		stmts = r.dialect.DropColumn(table, op.Name, live)
	default:
		return fmt.Errorf("unknown operation %s", op.Kind)
	}

	if len(stmts) == 1 {
		_, err := r.exec.Execute(ctx, stmts[0])
		return err
	}
	batch := make([]database.Statement, len(stmts))
	for i, s := range stmts {
		batch[i] = database.Statement{Query: s}
	}
	return r.exec.ExecuteBatch(ctx, batch, r.dialect.TransactionalDDL())
}

// Introspect reads the live columns of table. A missing table has no columns.
func (r *Reconciler) Introspect(ctx context.Context, table string) ([]core.LiveColumn, error) {
	query, args := r.dialect.ListColumns(table)
	rows, err := r.exec.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("introspecting %s: %w", table, err)
	}

	live := make([]core.LiveColumn, 0, len(rows))
	for _, row := range rows {
		rawType := asString(row["data_type"])
		var rawDefault *string
		if v := row["column_default"]; v != nil {
			s := asString(v)
			rawDefault = &s
		}
		typ := r.dialect.DataTypeOf(rawType)

		live = append(live, core.LiveColumn{
			ColumnSpec: core.ColumnSpec{
				Name:       asString(row["column_name"]),
				Type:       typ,
				Default:    core.NormalizeDefault(typ, r.dialect.NormalizeDefault(rawDefault)),
				PrimaryKey: asBool(row["is_pk"]),
				Nullable:   strings.EqualFold(asString(row["is_nullable"]), "YES"),
			},
			RawType:    rawType,
			RawDefault: rawDefault,
		})
	}
	return live, nil
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func asBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case string, []byte:
		s := strings.ToLower(asString(x))
		return s == "1" || s == "t" || s == "true"
	default:
		return false
	}
}
