// Package app holds the mailmetrics command line: serve, migrate and materialize.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/mailmetrics/internal/core/config"
	"github.com/aevon-lab/mailmetrics/internal/migrations"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mailmetrics",
	Short: "Email engagement metrics service",
	Long:  "Ingests provider webhooks, deduplicates engagement events and serves campaign metrics",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver, query API and snapshot scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := withDB(cfg, func(db *sql.DB) error {
			return migrations.RunMigrations(db, cfg.Database.AutoMigrate)
		}); err != nil {
			return err
		}

		c, err := build(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.server.Run(gctx) })
		if c.scheduler != nil {
			g.Go(func() error { return c.scheduler.Start(gctx) })
		} else {
			slog.Info("[App] Snapshot scheduler disabled by config")
		}

		err = g.Wait()
		slog.Info("[App] Shutdown complete")
		return err
	},
}

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withDB(cfg, func(db *sql.DB) error {
			if rollbackSteps > 0 {
				return migrations.Rollback(db, rollbackSteps)
			}
			return migrations.RunMigrations(db, true)
		})
	},
}

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Recompute snapshots for recent elapsed periods once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := build(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.materializer.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("materialize: %w", err)
		}
		if stats.Failed > 0 {
			return fmt.Errorf("materialize: %d of %d snapshot(s) failed", stats.Failed, stats.Failed+stats.Written)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mailmetrics.yaml", "Path to configuration file")
	migrateCmd.Flags().IntVar(&rollbackSteps, "down", 0, "Roll back this many migrations instead of applying")

	rootCmd.AddCommand(serveCmd, migrateCmd, materializeCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(cfg.Log)
	slog.Info("[App] Loaded config",
		"addr", cfg.Server.Addr(),
		"redis", cfg.Redis.Enabled,
		"snapshots", cfg.Snapshot.Enabled,
	)
	return cfg, nil
}

func withDB(cfg *config.Config, fn func(db *sql.DB) error) error {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
