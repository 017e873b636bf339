// Package main provides the HTTP server of the eligibility engine.
// Without a database it runs in demo mode on an in-memory store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/app"
	"fiscal-eligibility-engine/internal/config"
	"fiscal-eligibility-engine/internal/services/database"
	"fiscal-eligibility-engine/internal/utils"
)

// sessionPurgeInterval is how often expired sessions are deleted.
const sessionPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger first
	if err := utils.InitLogger(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer utils.Sync()
	logger := utils.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer engine.Close()

	// Warm the catalog so a broken catalog shows up at startup
	if snap, err := engine.Catalog.Load(ctx); err != nil {
		logger.Warn("Catalog not available yet", zap.Error(err))
	} else {
		logger.Info("Catalog loaded", utils.CatalogVersion(snap.Version()))
	}

	if engine.DB != nil {
		go purgeExpiredSessions(ctx, engine)
	}

	mux := engine.API.Routes()
	mux.Handle("GET /metrics", promhttp.HandlerFor(engine.Registry, promhttp.HandlerOpts{}))

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", srv.Addr),
			zap.String("stage", cfg.Stage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func purgeExpiredSessions(ctx context.Context, engine *app.App) {
	logger := utils.Named("session_purge")
	sessions := database.NewSessionRepository(engine.DB)
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("Failed to purge expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
