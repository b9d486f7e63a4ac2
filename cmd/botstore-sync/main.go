// botstore-sync reconciles a relational database against a YAML schema file.
// With --dry-run it prints the operations it would apply and exits non-zero
// if the live schema has drifted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/database"
	"github.com/rzpsarthak13/botstore/internal/registry"
	"github.com/rzpsarthak13/botstore/internal/schema"
	"github.com/rzpsarthak13/botstore/pkg/botstore"
	log "github.com/sirupsen/logrus"
)

// logConfig configures handling of log events.
type logConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

var opts struct {
	Schema string    `long:"schema" env:"BOTSTORE_SCHEMA" required:"true" description:"YAML file declaring the tables"`
	Config string    `long:"config" env:"BOTSTORE_CONFIG" description:"YAML or JSON configuration file; BOTSTORE_* variables override it"`
	DryRun bool      `long:"dry-run" description:"Print the planned operations without applying them"`
	Log    logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func initLog(cfg logConfig) {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	initLog(opts.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithField("err", err).Error("botstore-sync failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := botstore.LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	loaded, err := registry.LoadTableSpecs(opts.Schema)
	if err != nil {
		return err
	}
	tables, err := declareTables(ctx, loaded)
	if err != nil {
		return err
	}
	specs := tables.Specs()

	dialect, err := database.DialectFor(cfg.Database.Dialect)
	if err != nil {
		return err
	}
	connCfg, err := cfg.Database.ConnectorConfig()
	if err != nil {
		return err
	}
	connector, err := database.NewSQLConnector(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	exec := database.NewExecutor(connector, cfg.Database.ExecutorConfig())
	defer exec.Close()

	reconciler := schema.NewReconciler(exec, dialect)
	log.WithFields(log.Fields{
		"dialect": dialect.Name(),
		"tables":  tables.Count(),
		"dry_run": opts.DryRun,
	}).Info("reconciling schema")

	if opts.DryRun {
		return check(ctx, reconciler, specs)
	}
	return reconcile(ctx, reconciler, specs)
}

// declareTables declares specs to a registry, logging each declaration.
func declareTables(ctx context.Context, specs []core.TableSpec) (*registry.TableRegistry, error) {
	lifecycle := registry.NewLifecycleManager()
	lifecycle.RegisterHook(registry.LifecycleHookFuncs{
		Declare: func(_ context.Context, table registry.TableMetadata) error {
			log.WithFields(log.Fields{
				"table":   table.Name,
				"columns": len(table.Spec.Columns),
			}).Debug("declared table")
			return nil
		},
	})

	tables := registry.NewTableRegistry(lifecycle)
	for _, spec := range specs {
		if err := tables.DeclareRelational(ctx, spec); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func check(ctx context.Context, r *schema.Reconciler, specs []core.TableSpec) error {
	var drifted int
	for _, spec := range specs {
		ops, err := r.Check(ctx, spec)
		if err != nil {
			return fmt.Errorf("checking %s: %w", spec.Name, err)
		}
		for _, op := range ops {
			fmt.Printf("%s: %s\n", spec.Name, op)
		}
		if len(ops) != 0 {
			drifted++
		}
	}
	if drifted != 0 {
		return fmt.Errorf("%d of %d tables have drifted", drifted, len(specs))
	}
	return nil
}

func reconcile(ctx context.Context, r *schema.Reconciler, specs []core.TableSpec) error {
	reports, err := r.ReconcileAll(ctx, specs)

	var failed int
	for _, report := range reports {
		for _, op := range report.Applied {
			fmt.Printf("%s: applied %s\n", report.Table, op)
		}
		for _, opErr := range report.Failed {
			fmt.Printf("%s: FAILED %s\n", report.Table, opErr)
		}
		failed += len(report.Failed)
	}
	if err != nil {
		return err
	}
	if failed != 0 {
		return fmt.Errorf("%d operations failed; the schema has not converged", failed)
	}
	return nil
}
