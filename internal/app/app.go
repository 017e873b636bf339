// Package app wires configuration, storage and services into the engine's handlers.
// It is shared by the HTTP server and the Lambda entry points.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/config"
	"fiscal-eligibility-engine/internal/handlers"
	"fiscal-eligibility-engine/internal/services/accounts"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/database"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/memory"
	"fiscal-eligibility-engine/internal/services/metrics"
	"fiscal-eligibility-engine/internal/services/migration"
	"fiscal-eligibility-engine/internal/services/notify"
	"fiscal-eligibility-engine/internal/services/prospects"
	s3service "fiscal-eligibility-engine/internal/services/s3"
	sesservice "fiscal-eligibility-engine/internal/services/ses"
	"fiscal-eligibility-engine/internal/services/session"
	"fiscal-eligibility-engine/internal/utils"
)

// Store is everything the engine persists.
type Store interface {
	session.Store
	migration.Store
	accounts.Store
}

// App holds the wired dependencies.
type App struct {
	Config   *config.Config
	DB       *database.DB // nil in demo mode
	Store    Store
	Files    *s3service.Service // nil without PROSPECT_BUCKET
	Catalog  *catalog.CachedSource
	Registry *prometheus.Registry
	API      *handlers.API
}

// New connects to the configured backends and builds the services.
// Without a database the engine runs in demo mode on an in-memory store
// with the embedded catalog.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := utils.Named("app")
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.Registry)

	if cfg.HasDatabase() {
		db, err := database.New(cfg)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = database.NewStore(db)
	} else {
		logger.Warn("No database configured, running in demo mode with an in-memory store")
		a.Store = memory.New()
	}

	if cfg.ProspectBucket != "" {
		files, err := s3service.NewService(ctx, cfg.AWSRegion, cfg.ProspectBucket)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Files = files
	}

	source, err := a.catalogSource(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = catalog.NewCachedSource(source, cfg.CatalogRefreshInterval)

	notifiers, err := a.notifiers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	eval := evaluator.New(cfg.EvaluatorConcurrency, m)
	api := &handlers.API{
		Source:     a.Catalog,
		Evaluator:  eval,
		Sessions:   session.NewService(a.Store, a.Catalog, eval, cfg.SessionTTL),
		Migrations: migration.NewService(a.Store, m, notifiers...),
		Accounts:   accounts.NewService(a.Store, a.Catalog, eval, m),
		Files:      a.Files,
	}
	if a.Files != nil {
		api.Prospects = prospects.NewService(a.Catalog, eval, a.Files)
	} else {
		api.Prospects = prospects.NewService(a.Catalog, eval, nil)
	}
	if a.DB != nil {
		api.Health = handlers.NewHealthHandler(a.DB, a.Catalog, cfg.Stage)
	} else {
		api.Health = handlers.NewHealthHandler(nil, a.Catalog, cfg.Stage)
	}
	a.API = api

	logger.Info("Engine wired",
		zap.String("catalog_source", cfg.CatalogSource),
		zap.Bool("database", a.DB != nil),
		zap.Bool("prospect_files", a.Files != nil),
		zap.Int("notifiers", len(notifiers)))
	return a, nil
}

func (a *App) catalogSource(ctx context.Context) (catalog.Source, error) {
	cfg := a.Config
	switch cfg.CatalogSource {
	case config.CatalogSourceS3:
		bucket, err := s3service.NewService(ctx, cfg.AWSRegion, cfg.CatalogBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog bucket client: %w", err)
		}
		return bucket.CatalogSource(cfg.CatalogKey), nil
	case config.CatalogSourcePostgres:
		if a.DB != nil {
			return database.NewCatalogRepository(a.DB), nil
		}
		utils.Named("app").Warn("CATALOG_SOURCE=postgres without a database, using the embedded catalog")
	}
	return catalog.Embedded(), nil
}

func (a *App) notifiers(ctx context.Context) ([]migration.Notifier, error) {
	cfg := a.Config
	var out []migration.Notifier
	if cfg.SESSenderEmail != "" {
		sender, err := sesservice.NewService(ctx, cfg.AWSRegion, cfg.SESSenderEmail, cfg.DashboardURL)
		if err != nil {
			return nil, err
		}
		out = append(out, sender)
	}
	if cfg.NotificationWebhookURL != "" {
		out = append(out, notify.NewWebhookNotifier(cfg.NotificationWebhookURL))
	}
	return out, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
