package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamcoop/dataquality/config"
	"github.com/liamcoop/dataquality/internal/logger"
	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/ruleconfig"
	"github.com/liamcoop/dataquality/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}

	level, err := logger.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		logger.Fatal("Invalid log level", "error", err)
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	historyRepo := store.NewHistoryRepository(db)
	reports := store.NewReportRepository(db)

	var history quality.HistoryPort = historyRepo
	var cache *quality.CachedHistory
	if cfg.Engine.HistoryCacheTTL > 0 {
		cache = quality.NewCachedHistory(historyRepo, quality.CacheConfig{TTL: cfg.Engine.HistoryCacheTTL})
		history = cache
	}

	engineOpts := []quality.Option{
		quality.WithResultSink(reports),
		quality.WithHistoryConcurrency(cfg.HistoryConcurrencyLimit()),
		quality.WithHistoryTimeout(cfg.Engine.HistoryTimeout),
	}
	if cfg.Engine.Workers != 1 {
		engineOpts = append(engineOpts, quality.WithWorkers(cfg.Engine.Workers))
	}

	manager := ruleconfig.NewManager(ruleconfig.ManagerConfig{
		Source:        cfg.Engine.RulesConfig,
		History:       history,
		EngineOptions: engineOpts,
	})
	if _, err := manager.Reload(); err != nil {
		logger.Fatal("Failed to load rules", "error", err)
	}

	server := NewServer(db, manager, reports, historyRepo, cache)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Reload rules on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if _, err := manager.Reload(); err != nil {
				logger.Error("Rule reload failed, keeping previous rules", "error", err)
				continue
			}
			if cache != nil {
				cache.InvalidateAll()
			}
		}
	}()

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
