// Package main is the entry point for the Alexander Library server.
// It serves the catalog, circulation and account API over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-library/internal/cache/memory"
	"github.com/prn-tf/alexander-library/internal/cache/redis"
	"github.com/prn-tf/alexander-library/internal/config"
	"github.com/prn-tf/alexander-library/internal/handler"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/metrics"
	"github.com/prn-tf/alexander-library/internal/repository"
	"github.com/prn-tf/alexander-library/internal/repository/factory"
	"github.com/prn-tf/alexander-library/internal/service"
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

	root := &cobra.Command{
		Use:          "library-server",
		Short:        "Alexander Library HTTP server",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := setupLogger(cfg.Logging)
			log.Logger = logger

			logger.Info().
				Str("version", Version).
				Str("build_time", BuildTime).
				Str("git_commit", GitCommit).
				Msg("Starting Alexander Library Server")

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error().Err(err).Msg("server failed")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Alexander Library Server\n")
			fmt.Fprintf(out, "Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	})
	return root
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()

	db, err := factory.Open(ctx, cfg.Database, logger, factory.WithRetryHook(func(attempt int, err error) {
		m.StoreRetry()
		logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying store operation")
	}))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Database.Close()

	if err := db.Database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	health := map[string]handler.HealthChecker{"database": db.Database}

	var (
		cache  repository.Cache
		locker lock.Locker
	)
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis, logger.With().Str("component", "redis").Logger())
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rc.Close()

		cache = rc
		locker = lock.NewRedisLocker(rc)
		health["redis"] = rc
	} else {
		mc := memory.NewCache()
		defer mc.Stop()
		ml := lock.NewMemoryLocker()
		defer ml.Stop()

		cache = mc
		locker = ml
	}

	catalog := service.NewCatalogService(db.Repos.Books, db.Repos.Issues, cache, locker, m, logger, service.CatalogConfig{
		CacheTTL:  cfg.Cache.CatalogTTL,
		MaxIssued: cfg.Circulation.MaxIssued,
	})
	circulation := service.NewCirculationService(db.Repos.Issues, db.Repos.Tx, locker, catalog, m, logger, service.CirculationConfig{
		MaxIssued:     cfg.Circulation.MaxIssued,
		LoanPeriod:    cfg.Circulation.LoanPeriod,
		StoreTimeout:  cfg.Circulation.StoreTimeout,
		ReaderLockTTL: cfg.Circulation.ReaderLockTTL,
		BlockOverdue:  cfg.Circulation.BlockOverdue,
	})
	accounts := service.NewAccountService(db.Repos.Users, logger)

	if cfg.Seed.Enabled {
		if _, err := catalog.Seed(ctx); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	if cfg.Circulation.OverdueInterval > 0 {
		monitor := service.NewOverdueMonitor(db.Repos.Issues, locker, m, logger, service.OverdueConfig{
			Interval:  cfg.Circulation.OverdueInterval,
			BatchSize: cfg.Circulation.OverdueBatchSize,
		})
		monitor.Start()
		defer monitor.Stop()
	}

	router := handler.NewRouter(handler.RouterConfig{
		Catalog:     catalog,
		Circulation: circulation,
		Accounts:    accounts,
		Health:      health,
		Metrics:     m,
		MaxBodySize: cfg.Server.MaxBodySize,
		Logger:      logger,
	})

	servers := []*http.Server{{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return shutdownErr
}

// setupLogger builds the process logger from LoggingConfig.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	if cfg.Format == "console" {
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	return zerolog.New(out).With().Timestamp().Str("app", "library").Logger()
}
