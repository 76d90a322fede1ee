package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paycore/api/controllers"
	"github.com/angelmondragon/paycore/api/routes"
	"github.com/angelmondragon/paycore/internal/bootstrap"
	"github.com/angelmondragon/paycore/internal/intents"
	"github.com/angelmondragon/paycore/internal/quote"
	"github.com/angelmondragon/paycore/internal/transactions"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/instance"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/migrate"
	"github.com/angelmondragon/paycore/pkg/redis"
	"github.com/angelmondragon/paycore/pkg/security"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	core, err := bootstrap.NewCore(bootstrap.Deps{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient.DB(),
		Metrics:  paymentMetrics,
		PubSub:   gcp.PubSub,
		BigQuery: gcp.BigQuery,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build payment components", err)
		os.Exit(1)
	}
	if core.Gateway == nil {
		logg.Error(context.Background(), "gateway credentials are required by the api", errors.New("gateway not configured"))
		os.Exit(1)
	}

	sealer, err := security.NewSealer(cfg.Payments.PayloadKey, cfg.Payments.PayloadKeyVersion)
	if err != nil {
		logg.Error(context.Background(), "failed to create payload sealer", err)
		os.Exit(1)
	}

	quoter, err := quote.NewClient(cfg.Quote)
	if err != nil {
		logg.Error(context.Background(), "failed to create quote client", err)
		os.Exit(1)
	}

	txLog, err := transactions.NewLog(transactions.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction log", err)
		os.Exit(1)
	}

	intentService, err := intents.NewService(intents.ServiceParams{
		Repo:         core.Intents,
		Quoter:       quoter,
		Reserver:     core.Reservations,
		Gateway:      core.Gateway,
		Transactions: txLog,
		Reviews:      core.Reviews,
		Sealer:       sealer,
		RateLimiter:  intents.NewRedisRateLimiter(redisClient, cfg.Payments.RateLimitPerMinute),
		Payments:     cfg.Payments,
		GatewayCfg:   cfg.Gateway,
		Logger:       logg,
		Metrics:      paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create intent service", err)
		os.Exit(1)
	}

	readyChecks := map[string]controllers.Pinger{
		"postgres": dbClient,
		"redis":    redisClient,
	}
	if gcp.PubSub != nil {
		readyChecks["pubsub"] = gcp.PubSub
	}
	if gcp.BigQuery != nil {
		readyChecks["bigquery"] = gcp.BigQuery
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			Intents:     intentService,
			Reviews:     core.Reviews,
			History:     txLog,
			Sweeper:     core.Sweeper,
			RateStore:   redisClient,
			Gatherer:    prometheus.DefaultGatherer,
			ReadyChecks: readyChecks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}
