package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/api"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/config"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/store"
	ws "github.com/rcolomer-cos/E-QMS-sub005/internal/websocket"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Operator delivery feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Delivery pipeline: router enqueues, dispatcher drains the queue into
	// the worker pool, the retry scheduler re-discovers due retries from
	// the ledger.
	deliverer := worker.NewDeliverer(pgStore, hub, logger)
	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(ctx)

	eventRouter := engine.NewRouter(pgStore, redisStore.Client(), logger)
	dispatcher := worker.NewDispatcher(redisStore.Client(), pool, logger)
	retryScheduler := worker.NewRetryScheduler(pgStore, pool,
		time.Duration(cfg.RetryPollSeconds)*time.Second, logger)
	retention := worker.NewRetentionSweeper(pgStore, cfg.RetentionDays, logger)

	// Background loops are joined on shutdown so no in-flight poll can
	// submit to the pool after it stops.
	var background sync.WaitGroup
	background.Add(4)
	go func() {
		defer background.Done()
		eventRouter.Run(ctx)
	}()
	go func() {
		defer background.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer background.Done()
		retryScheduler.Run(ctx)
	}()
	go func() {
		defer background.Done()
		retention.Run(ctx)
	}()

	router := api.NewRouter(pgStore, eventRouter, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Stop the background loops and wait for them before draining the
	// pool, so queued submissions finish ahead of the channel close.
	cancel()
	background.Wait()
	pool.Stop()

	logger.Info("server stopped")
}
