package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dirtree/internal/server/api"
	"dirtree/internal/server/config"
	"dirtree/internal/server/database"
	"dirtree/internal/server/service"
	"dirtree/internal/server/storage"

	"github.com/dustin/go-humanize"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_script_size", humanize.Bytes(uint64(cfg.MaxScriptSize)),
		"run_retention", cfg.RunRetention,
		"transcript_cache_size", cfg.TranscriptCacheSize,
	)

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("transcript storage initialized", "path", cfg.StoragePath)

	repo := database.NewRepository(db)
	svc, err := service.NewRunService(repo, store, cfg)
	if err != nil {
		slog.Error("failed to initialize run service", "error", err)
		os.Exit(1)
	}

	// Background workers share one lifetime
	bgCtx, bgCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, store, cfg.CleanupInterval)
	cleanup.Start(bgCtx)

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartPruning(bgCtx, 5*time.Minute)

	handler := api.NewHandler(svc, db, cfg.MaxScriptSize)
	e := api.SetupRouter(handler, limiter)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	bgCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}
