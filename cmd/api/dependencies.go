package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/handler"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/repository"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/service"
	"github.com/hkurtovic/betonara-erp/pkg/config"
	"github.com/hkurtovic/betonara-erp/pkg/cron"
	"github.com/hkurtovic/betonara-erp/pkg/db"
	"github.com/hkurtovic/betonara-erp/pkg/metrics"
	"github.com/hkurtovic/betonara-erp/pkg/storage"
)

// refreshMappingsSpec reloads the recipe mapping cache every 15 minutes so
// mappings edited directly in the database still reach running imports.
const refreshMappingsSpec = "*/15 * * * *"

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	ProductionRepo    repository.ProductionRepository
	ImportService     *service.ImportService
	ProductionHandler *handler.Handler
	Scheduler         *cron.Scheduler
	Registry          *prometheus.Registry
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := deps.initServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}
	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := db.Connect(ctx, d.Config.Database)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initServices initializes the repository and service layer
func (d *Dependencies) initServices(ctx context.Context) error {
	d.ProductionRepo = repository.NewPostgresRepository(d.DB.Pool)

	d.Registry = prometheus.NewRegistry()
	importMetrics := metrics.NewImportMetrics(d.Registry)

	d.ImportService = service.NewImportService(d.ProductionRepo, d.Logger).
		WithMetrics(importMetrics).
		WithBatchSize(d.Config.Import.BatchSize)

	if dir := d.Config.Import.ArchiveDir; dir != "" {
		archiver, err := storage.NewLocalArchiver(dir)
		if err != nil {
			return fmt.Errorf("failed to init upload archive: %w", err)
		}
		d.ImportService.WithArchiver(archiver)
	}

	if err := d.ImportService.RefreshMappings(ctx); err != nil {
		// A cold mapping cache only means names are not rewritten yet.
		d.Logger.Warn("initial recipe mapping load failed", slog.Any("error", err))
	}

	d.Scheduler = cron.NewScheduler(d.Logger)
	if err := d.Scheduler.AddJob(refreshMappingsSpec, "refresh-recipe-mappings", d.ImportService.RefreshMappings); err != nil {
		return fmt.Errorf("failed to schedule mapping refresh: %w", err)
	}

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes the HTTP handlers
func (d *Dependencies) initHandlers() error {
	limiter := rate.NewLimiter(
		rate.Limit(d.Config.Server.RateLimitPerSecond),
		d.Config.Server.RateLimitBurst,
	)
	d.ProductionHandler = handler.New(d.ImportService, d.Logger, d.Config.Import.MaxUploadBytes, limiter)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
