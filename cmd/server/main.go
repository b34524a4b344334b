// Package main is the entry point for the habitat-bank allocation
// engine. The service resolves ecological compensation demand against
// a federation of habitat banks and returns least-cost allocations.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wildcroft/bng-engine/internal/config"
	"github.com/wildcroft/bng-engine/internal/database"
	"github.com/wildcroft/bng-engine/internal/di"
	"github.com/wildcroft/bng-engine/internal/server"
	"github.com/wildcroft/bng-engine/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Load configuration from environment variables
// 2. Initialize logging
// 3. Wire all dependencies via the DI container (databases, repositories, services)
// 4. Preload the reference snapshot
// 5. Start the HTTP server and the job worker pool
// 6. Schedule background maintenance (reference refresh, cache sweep,
//    WAL checkpoints)
// 7. Wait for a shutdown signal, then drain workers and stop gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting allocation engine")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Warm the reference snapshot so the first job does not pay the
	// load. An incomplete reference store is not fatal here: jobs
	// surface it per request, and a refresh can heal it.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := container.ReferenceStore.Snapshot(warmCtx); err != nil {
		log.Warn().Err(err).Msg("Reference snapshot preload failed")
	}
	warmCancel()

	srv := server.New(cfg, container, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Jobs.Start()

	// Background maintenance: keep the reference snapshot fresh and
	// sweep expired result-cache rows.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 10m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := container.ReferenceStore.RefreshIfStale(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled reference refresh failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reference refresh")
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		if _, err := container.Jobs.SweepCache(); err != nil {
			log.Error().Err(err).Msg("Scheduled cache sweep failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache sweep")
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		for _, db := range []*database.DB{container.ReferenceDB, container.CacheDB} {
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				log.Error().Err(err).Str("database", db.Name()).Msg("Scheduled WAL checkpoint failed")
			}
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule WAL checkpoint")
	}
	scheduler.Start()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the cron scheduler and let any running maintenance finish.
	<-scheduler.Stop().Done()

	// Close the HTTP surface before the worker pool: no handler may
	// still be submitting when the queue stops accepting.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain the worker pool: refuse new submissions, finish in-flight
	// jobs, work the queue empty.
	container.Jobs.Stop()

	log.Info().Msg("Server stopped")
}
