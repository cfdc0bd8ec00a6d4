package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/chaquecarne/pesajes/internal/app"
	"github.com/chaquecarne/pesajes/internal/observability"
	registerhttp "github.com/chaquecarne/pesajes/internal/register/http"
	"github.com/chaquecarne/pesajes/internal/platform/migrations"
	"github.com/chaquecarne/pesajes/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	driver, dsn := cfg.MigrationTarget()
	if err := migrations.Up(driver, dsn); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	rt, err := app.Bootstrap(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()

	var (
		enqueuer   registerhttp.ExportEnqueuer
		jobHandler *jobs.Handler
	)
	if rt.Redis != nil {
		client, err := jobs.NewClient(cfg.RedisClientOpt())
		if err != nil {
			logger.Error("init jobs client", slog.Any("error", err))
			os.Exit(1)
		}
		defer client.Close()
		inspector := asynq.NewInspector(cfg.RedisClientOpt())
		defer inspector.Close()
		enqueuer = client
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		RegisterHandler: registerhttp.NewHandler(logger, rt.Controller, enqueuer, rt.Location),
		JobHandler:      jobHandler,
		Metrics:         metrics,
		Health:          rt.Controller.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("profile", cfg.DBProfile))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
