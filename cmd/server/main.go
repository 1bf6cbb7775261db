package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coveline/consult/internal/ai"
	"github.com/coveline/consult/internal/ai/gemini"
	"github.com/coveline/consult/internal/ai/openai"
	"github.com/coveline/consult/internal/api"
	"github.com/coveline/consult/internal/config"
	"github.com/coveline/consult/internal/gateway"
	"github.com/coveline/consult/internal/pipeline"
	"github.com/coveline/consult/internal/retrieval"
	"github.com/coveline/consult/internal/router"
	"github.com/coveline/consult/internal/session"
	"github.com/coveline/consult/internal/storage/sqlite"
	"github.com/coveline/consult/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting consultation server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite storage
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dir))
			os.Exit(1)
		}
	}

	storage, err := sqlite.New(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer storage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Session registry
	registry := session.NewRegistry(
		time.Duration(cfg.Session.TTLHours)*time.Hour,
		time.Duration(cfg.Session.SweepIntervalSecs)*time.Second,
		storage,
		log,
	)

	// Event router
	eventRouter := router.New(registry, storage, log)
	registry.SetEndHook(eventRouter.CloseSession)

	// Answer generator
	var generator ai.Generator
	switch cfg.AI.Provider {
	case "gemini":
		generator, err = gemini.NewClient(ctx, cfg.Gemini.APIKey, ai.GeneratorConfig{
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			MaxTokens:   cfg.Gemini.MaxTokens,
		}, log)
		if err != nil {
			log.Error("Failed to create Gemini client", logger.Error(err))
			os.Exit(1)
		}
	case "openai":
		generator = openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, ai.GeneratorConfig{
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			MaxTokens:   cfg.OpenAI.MaxTokens,
		}, log)
	}
	log.Info("Using answer generator", logger.String("provider", cfg.AI.Provider))

	// Knowledge retriever
	retriever := retrieval.NewClient(retrieval.Config{
		BaseURL:  cfg.Retrieval.BaseURL,
		APIKey:   cfg.Retrieval.APIKey,
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
		Timeout:  time.Duration(cfg.Retrieval.TimeoutSecs) * time.Second,
	}, log)

	// AI pipeline
	pipelineService := pipeline.NewService(retriever, generator, eventRouter, pipeline.Config{
		Timeout:          time.Duration(cfg.Pipeline.TimeoutSecs) * time.Second,
		MaxConcurrent:    int64(cfg.Pipeline.MaxConcurrent),
		MinFragmentChars: cfg.Pipeline.MinFragmentChars,
	}, log)
	eventRouter.SetFragmentSink(pipelineService)

	// Start the expiry sweeper after all wiring so the end hook is in place
	registry.Start(ctx)
	defer registry.Stop()

	// WebSocket gateway and HTTP API
	gw := gateway.New(registry, eventRouter, log)
	apiRouter := api.NewRouter(registry, eventRouter, storage, gw, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      apiRouter.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping pipeline...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := pipelineService.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down pipeline", logger.Error(err))
	} else {
		log.Info("Pipeline stopped.")
	}

	log.Info("Stopping session registry...")
	registry.Stop()
	log.Info("Session registry stopped.")

	cancel()

	log.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}

	log.Info("Server fully stopped")
}
