package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/chaquecarne/pesajes/internal/app"
	jobmetrics "github.com/chaquecarne/pesajes/internal/jobs"
	"github.com/chaquecarne/pesajes/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	if !cfg.CacheEnabled() {
		logger.Error("REDIS_ADDR is required to run the export worker")
		os.Exit(1)
	}

	rt, err := app.Bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()

	exportJob := jobs.NewExportJob(rt.Controller, cfg.ExportDir, logger, jobmetrics.NewMetrics(nil))

	var cron []jobs.CronRegistration
	if cfg.ExportCron != "" {
		task, err := jobs.NewExportTask(jobs.ExportPayload{})
		if err != nil {
			logger.Error("build export task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ExportCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(0)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.RedisClientOpt(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWeighInsExport, Handler: exportJob.Handle},
		},
		Cron:     cron,
		Location: rt.Location,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting export worker", slog.String("dir", cfg.ExportDir))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
