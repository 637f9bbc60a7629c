// Package main is the entry point for the Alexander Library database migration tool.
// It applies the embedded schema migrations for the configured driver.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-library/internal/config"
	"github.com/prn-tf/alexander-library/internal/repository"
	"github.com/prn-tf/alexander-library/internal/repository/factory"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// withDB opens the configured store, runs fn, and closes it.
	withDB := func(ctx context.Context, fn func(db repository.Database) error) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		res, err := factory.Open(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer res.Database.Close()
		return fn(res.Database)
	}

	root := &cobra.Command{
		Use:          "library-migrate",
		Short:        "Alexander Library migration tool",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	up := &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(db repository.Database) error {
				before, err := db.MigrationVersion(cmd.Context())
				if err != nil {
					return err
				}
				if err := db.Migrate(cmd.Context()); err != nil {
					return err
				}
				after, err := db.MigrationVersion(cmd.Context())
				if err != nil {
					return err
				}
				if after == before {
					fmt.Fprintf(cmd.OutOrStdout(), "already at version %d\n", after)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated from version %d to %d\n", before, after)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(db repository.Database) error {
				v, err := db.MigrationVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
				return nil
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Alexander Library Migration Tool\n")
			fmt.Fprintf(out, "Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}

	root.AddCommand(up, status, version)
	return root
}
