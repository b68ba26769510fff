package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/agentflow/config"
	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/version"
)

const telemetryFlushTimeout = 5 * time.Second

// cli holds state shared by every subcommand.
type cli struct {
	configPath string

	cfg      *config.Config
	log      *logger.Logger
	shutdown observability.Shutdown
}

func newRootCmd() *cobra.Command {
	return (&cli{}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentflow",
		Short:         "Operate the agentflow DAG engine",
		Long:          "agentflow runs agent content pipelines as task graphs stored in a relational database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: search ./cmd/agentflow, ./config, .)")

	root.AddCommand(
		c.migrateCmd(),
		c.planCmd(),
		c.statusCmd(),
		versionCmd(),
	)
	return root
}

// load reads the configuration once and starts telemetry if enabled.
func (c *cli) load(ctx context.Context) (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger()
	shutdown, err := observability.Setup(ctx, cfg.Observability, observability.Service{
		Name:        cfg.Name,
		Version:     version.EngineVersion(),
		Environment: cfg.Environment,
	}, log)
	if err != nil {
		return nil, err
	}
	c.cfg, c.log, c.shutdown = cfg, log, shutdown
	return cfg, nil
}

// close flushes telemetry. Safe to call when nothing was loaded.
func (c *cli) close(ctx context.Context) {
	if c.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
	defer cancel()
	if err := c.shutdown(ctx); err != nil {
		c.log.Warn("telemetry flush failed", logger.ErrorFields("shutdown", err))
	}
	c.shutdown = nil
}

// openDB loads the configuration and connects to the database.
func (c *cli) openDB(ctx context.Context) (*database.DB, error) {
	cfg, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return database.Open(ctx, cfg.Database, c.log)
}
