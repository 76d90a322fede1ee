package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paycore/internal/bootstrap"
	"github.com/angelmondragon/paycore/internal/cron"
	"github.com/angelmondragon/paycore/internal/maintenance"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/instance"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/migrate"
	"github.com/angelmondragon/paycore/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Instance:    instance.ID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcp := bootstrap.OpenGCP(context.Background(), cfg, logg)
	defer func() {
		if err := gcp.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcp clients", err)
		}
	}()

	core, err := bootstrap.NewCore(bootstrap.Deps{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient.DB(),
		Metrics:  metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
		PubSub:   gcp.PubSub,
		BigQuery: gcp.BigQuery,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build payment components", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.LockName), cron.LockTTL(cfg.Cron.Interval))
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	job, err := cron.NewMaintenanceJob(core.Sweeper, maintenance.Options{RunReconciliation: cfg.Reconciliation.Enabled}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create maintenance job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registry.Register(job); err != nil {
		logg.Error(context.Background(), "failed to register cron job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    service.Interval().String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
