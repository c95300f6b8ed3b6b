// Package application assembles the import pipeline from configuration.
//
// Both binaries build their dependencies here: the HTTP server and the
// importctl command share the same ledger selection, pool settings and
// coordinator options.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/pointsimport/internal/config"
	"github.com/JonMunkholm/pointsimport/internal/importer"
	"github.com/JonMunkholm/pointsimport/internal/ledger"
	"github.com/JonMunkholm/pointsimport/internal/metrics"
)

// App is a ready-to-use pipeline.
type App struct {
	Config      *config.Config
	Store       ledger.Store
	Coordinator *importer.Coordinator
	Limiter     *importer.RunLimiter

	pool *pgxpool.Pool
}

// Option configures New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	store      ledger.Store
}

// WithRegisterer records pipeline metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStore skips backend selection and uses store as the ledger.
func WithStore(store ledger.Store) Option {
	return func(o *options) { o.store = store }
}

// New opens the configured ledger and builds the coordinator.
// Close releases the database pool.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg, Store: o.store}
	if app.Store == nil {
		if err := app.openStore(ctx); err != nil {
			return nil, err
		}
	}

	coordOpts := []importer.Option{
		importer.WithWorkers(cfg.Import.Workers),
		importer.WithTimeout(cfg.Import.Timeout),
	}
	if o.registerer != nil {
		coordOpts = append(coordOpts, importer.WithMetrics(metrics.NewImport(o.registerer)))
	}

	app.Coordinator = importer.NewCoordinator(importer.NewApplier(app.Store, app.Store), coordOpts...)
	app.Limiter = importer.NewRunLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Ledger.Backend {
	case config.BackendMemory:
		a.Store = ledger.NewMemoryStore(a.Config.Ledger.SeedAccounts...)
		slog.Info("using in-memory ledger", "seed_accounts", len(a.Config.Ledger.SeedAccounts))
		return nil

	case config.BackendPostgres:
		pool, err := Connect(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		store := ledger.NewPgStore(pool)
		if a.Config.Ledger.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return fmt.Errorf("apply schema: %w", err)
			}
			slog.Info("ledger schema applied")
		}
		a.pool = pool
		a.Store = store
		return nil

	default:
		return fmt.Errorf("unknown ledger backend %q", a.Config.Ledger.Backend)
	}
}

// Connect opens and pings a pgx pool with the configured limits.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
