// Package internal contains core application functionality
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/redis/go-redis/v9"

	"viewrollup/internal/aggregator"
	"viewrollup/internal/classifier"
	"viewrollup/internal/config"
	"viewrollup/internal/database"
	"viewrollup/internal/jobs"
	"viewrollup/internal/lease"
	"viewrollup/internal/metrics"
	"viewrollup/internal/replacer"
)

// Application wraps cartridge.Application with the rollup jobs
type Application struct {
	*cartridge.Application
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager // rollup-specific DB manager with migration methods
	Metrics   *metrics.Metrics
	Runner    *jobs.Runner
	Scheduler *jobs.Scheduler

	redis *redis.Client
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil).With(slog.String("region", cfg.Region))

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app, err := NewAppWithDB(cfg, logger, dbManager)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}
	return app, nil
}

// NewAppWithDB wires the jobs on top of an initialized database manager
func NewAppWithDB(cfg *config.Config, logger *slog.Logger, dbManager *database.DBManager) (*Application, error) {
	db := dbManager.GetConnection()
	if db == nil {
		return nil, errors.New("database connection unavailable")
	}

	app := &Application{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		Metrics:   metrics.New(cfg.Region),
	}

	leases, err := app.leaseBackend()
	if err != nil {
		return nil, err
	}

	r := replacer.New(db, logger, cfg.DeleteBatchSize, replacer.WithBatchHook(app.Metrics.ObserveDeleteBatch))
	app.Runner = jobs.NewRunner(
		classifier.New(db, logger, cfg.InternalIP, cfg.ClassifierCutoff),
		aggregator.New(db, logger, leases, r, aggregator.OptionsFromConfig(cfg)),
		app.Metrics,
		logger,
	)

	app.Scheduler, err = jobs.NewScheduler(app.Runner, logger, cfg)
	if err != nil {
		app.closeRedis()
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app.Application, err = cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: RouteMount(RouteDeps{
			Config:  cfg,
			Runner:  app.Runner,
			Metrics: app.Metrics,
		}),
		BackgroundWorkers: []cartridge.BackgroundWorker{app.Scheduler},
	})
	if err != nil {
		app.closeRedis()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return app, nil
}

func (a *Application) leaseBackend() (lease.Backend, error) {
	ttl := time.Duration(a.Config.LeaseTTLSeconds) * time.Second

	switch a.Config.LeaseBackend {
	case config.LeaseBackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		a.Logger.Info("Using redis run lease", slog.String("addr", a.Config.RedisAddr))
		return lease.NewRedisBackend(a.redis, ttl), nil
	case config.LeaseBackendDatabase:
		return lease.NewDatabaseBackend(a.DBManager.GetConnection(), ttl), nil
	default:
		return nil, fmt.Errorf("unknown lease backend: %s", a.Config.LeaseBackend)
	}
}

// Shutdown stops the server and the scheduler through cartridge, then
// releases the stores cartridge does not know about
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	a.closeRedis()
	if closeErr := a.DBManager.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
	}
	return err
}

func (a *Application) closeRedis() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		a.Logger.Warn("Failed to close redis client", slog.Any("error", err))
	}
}
