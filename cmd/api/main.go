package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spend-assistant/internal/api"
	"github.com/dvloznov/spend-assistant/internal/api/handlers"
	"github.com/dvloznov/spend-assistant/internal/app"
	"github.com/dvloznov/spend-assistant/internal/assistant"
	"github.com/dvloznov/spend-assistant/internal/config"
	"github.com/dvloznov/spend-assistant/internal/intent"
	"github.com/dvloznov/spend-assistant/internal/jobs"
	"github.com/dvloznov/spend-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/spend-assistant/internal/llm"
	"github.com/dvloznov/spend-assistant/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New(logger.Options{})
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()

	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close dependencies")
		}
	}()

	// Initialize export job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Exports.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Exports.Workers),
		inmemory.WithLogger(log),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Exports.Workers).Msg("Starting export workers")
	if err := jobQueue.Start(workerCtx, jobs.ExportHandler(deps.Sink)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export workers")
	}

	a := assistant.New(intent.NewDefault(), deps.Ledger, deps.Chat,
		assistant.WithExports(jobQueue),
		assistant.WithLogger(log),
	)

	var chatState handlers.StateReporter
	if g, ok := deps.Chat.(*llm.Guarded); ok {
		chatState = g
	}

	handler := api.NewHandler(api.Deps{
		Assistant:   a,
		Ledger:      deps.Ledger,
		Jobs:        jobStore,
		ChatState:   chatState,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("backend", cfg.Storage.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Wait for in-flight exports before the sinks close.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
