package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/api"
	"github.com/dvloznov/settlement-reconciler/internal/app"
	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/jobs"
	"github.com/dvloznov/settlement-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
		port    = flag.String("port", "", "HTTP server port (overrides PORT)")
		workers = flag.Int("workers", inmemory.DefaultWorkers, "Number of import workers")
	)
	flag.Parse()

	log := logger.New()
	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	configured, err := logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logger configuration")
	}
	log = configured

	ctx := logger.WithContext(context.Background(), log)

	ledger, closeLedger, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer closeLedger()

	engine, err := app.NewEngine(ctx, cfg, ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build reconciliation engine")
	}

	services, err := app.OpenServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect cloud services")
	}
	defer services.Close()

	im := app.NewImporter(cfg, ledger, services.ImporterOptions()...)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewImportHandler(services.Fetcher(), im)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	deps := api.Deps{
		Engine:    engine,
		Publisher: jobQueue,
		JobStore:  jobStore,
		Bucket:    cfg.GCSBucket,
		Log:       log,
	}
	if services.Exporter != nil {
		deps.Exporter = services.Exporter
	}
	if services.Storage != nil {
		deps.Uploader = services.Storage
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.StoreBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-flight imports finish before the ledger closes.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
