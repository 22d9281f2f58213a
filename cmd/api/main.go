package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/container"
	"github.com/anime-shed/image-classifier-go/internal/logger"
)

var version = ""

func buildVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(cfg.LogLevel, nil)

	// Initialize dependency injection container
	c, err := container.NewContainer(cfg, buildVersion())
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	c.Start(ctx)
	if cfg.WarmupModel {
		c.Warmup(ctx)
	}

	// Create HTTP server with configurable timeouts. Writes may wait for a
	// settled analysis, so they get the analysis budget on top.
	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      c.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + cfg.AnalysisTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"address":  cfg.ServerAddress(),
			"timeout":  cfg.RequestTimeout,
			"model_id": cfg.ModelID,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	c.Close(shutdownCtx)

	logger.Info("Server exited")
}
