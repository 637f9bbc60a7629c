// Package main is the entry point for the Alexander Library admin CLI.
// It runs catalog, circulation, account and backup operations directly against the store.
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
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/repository/factory"
	"github.com/prn-tf/alexander-library/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// app holds what every subcommand needs once the store is open.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	db          *factory.Result
	locker      *lock.MemoryLocker
	catalog     *service.CatalogService
	circulation *service.CirculationService
	accounts    *service.AccountService
}

func (a *app) close() {
	if a.locker != nil {
		a.locker.Stop()
	}
	if a.db != nil {
		_ = a.db.Database.Close()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		a          = &app{}
	)

	root := &cobra.Command{
		Use:          "library-admin",
		Short:        "Alexander Library admin CLI",
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	// open loads config and connects to the store; commands that touch data use it as PreRunE.
	open := func(cmd *cobra.Command, args []string) error {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg = cfg

		ctx := cmd.Context()
		db, err := factory.Open(ctx, cfg.Database, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.db = db
		if err := db.Database.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		a.locker = lock.NewMemoryLocker()
		a.catalog = service.NewCatalogService(db.Repos.Books, db.Repos.Issues, nil, a.locker, nil, a.logger, service.CatalogConfig{
			MaxIssued: cfg.Circulation.MaxIssued,
		})
		a.circulation = service.NewCirculationService(db.Repos.Issues, db.Repos.Tx, a.locker, a.catalog, nil, a.logger,
			service.CirculationConfig{
				MaxIssued:     cfg.Circulation.MaxIssued,
				LoanPeriod:    cfg.Circulation.LoanPeriod,
				StoreTimeout:  cfg.Circulation.StoreTimeout,
				ReaderLockTTL: cfg.Circulation.ReaderLockTTL,
				BlockOverdue:  cfg.Circulation.BlockOverdue,
			})
		a.accounts = service.NewAccountService(db.Repos.Users, a.logger)
		return nil
	}

	root.AddCommand(
		newVersionCmd(),
		newSeedCmd(a, open),
		newBookCmd(a, open),
		newIssuesCmd(a, open),
		newOverdueCmd(a, open),
		newUserCmd(a, open),
		newBackupCmd(a, open),
	)
	root.AddCommand(newCirculationCmds(a, open)...)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Alexander Library Admin CLI\n")
			fmt.Fprintf(out, "Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}
