// Package factory opens the configured database driver and builds the repositories on top of it.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/config"
	"github.com/prn-tf/alexander-library/internal/repository"
	"github.com/prn-tf/alexander-library/internal/repository/postgres"
	"github.com/prn-tf/alexander-library/internal/repository/sqlite"
)

// Result contains the created repositories and database connection.
type Result struct {
	Repos    *repository.Repositories
	Database repository.Database
}

// Option adjusts the opened database.
type Option func(retrier)

type retrier interface {
	OnRetry(fn func(attempt int, err error))
}

// WithRetryHook calls fn before every retried transient store failure.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(r retrier) {
		r.OnRetry(fn)
	}
}

// Open connects to the database selected by cfg.Driver.
// Migrations are not applied; call Database.Migrate.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger, opts ...Option) (*Result, error) {
	logger = logger.With().Str("driver", cfg.Driver).Logger()

	var (
		res *Result
		err error
	)
	switch cfg.Driver {
	case "postgres":
		res, err = openPostgres(ctx, cfg, logger)
	case "sqlite":
		res, err = openSQLite(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if r, ok := res.Database.(retrier); ok {
		for _, opt := range opts {
			opt(r)
		}
	}
	return res, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Result, error) {
	db, err := postgres.NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Result{
		Repos: &repository.Repositories{
			Books:    postgres.NewBookRepository(db),
			Issues:   postgres.NewIssueRepository(db),
			Users:    postgres.NewUserRepository(db),
			Tx:       postgres.NewTxManager(db),
			Snapshot: postgres.NewSnapshotReader(db),
		},
		Database: db,
	}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Result, error) {
	sqlCfg := sqlite.DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		sqlCfg.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		sqlCfg.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		sqlCfg.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		sqlCfg.SynchronousMode = cfg.SynchronousMode
	}
	sqlCfg.Retry.MaxAttempts = cfg.RetryAttempts
	if cfg.RetryBaseDelay > 0 {
		sqlCfg.Retry.BaseDelay = cfg.RetryBaseDelay
	}

	db, err := sqlite.NewDB(ctx, sqlCfg, logger)
	if err != nil {
		return nil, err
	}

	return &Result{
		Repos: &repository.Repositories{
			Books:    sqlite.NewBookRepository(db),
			Issues:   sqlite.NewIssueRepository(db),
			Users:    sqlite.NewUserRepository(db),
			Tx:       sqlite.NewTxManager(db),
			Snapshot: sqlite.NewSnapshotReader(db),
		},
		Database: db,
	}, nil
}
