// Package bootstrap assembles the payment components shared by the api and cron-worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/intents"
	"github.com/angelmondragon/paycore/internal/maintenance"
	"github.com/angelmondragon/paycore/internal/reconciliation"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/internal/stock"
	"github.com/angelmondragon/paycore/pkg/bigquery"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/pubsub"
)

// Deps are the infrastructure handles every component is built from.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Metrics  *metrics.PaymentMetrics
	PubSub   *pubsub.Client
	BigQuery *bigquery.Client
}

// Core holds the components used by both the request path and the maintenance path.
// Gateway is nil when dealer credentials are not configured.
type Core struct {
	Intents      intents.Repository
	Reservations *stock.GormReserver
	Reviews      *reviewqueue.Queue
	Gateway      *gateway.Client
	Sweeper      *maintenance.Sweeper
}

// NewCore builds the review queue, stock reserver, gateway client, reconciliation engine and sweeper.
func NewCore(deps Deps) (*Core, error) {
	if deps.Config == nil || deps.DB == nil {
		return nil, fmt.Errorf("config and database are required")
	}
	cfg := deps.Config
	ctx := context.Background()

	reviewOpts := []reviewqueue.Option{
		reviewqueue.WithLogger(deps.Logger),
		reviewqueue.WithMetrics(deps.Metrics),
	}
	if deps.PubSub != nil {
		if publisher := deps.PubSub.ReviewPublisher(); publisher != nil {
			reviewOpts = append(reviewOpts, reviewqueue.WithNotifier(reviewqueue.NewPubSubNotifier(publisher)))
		}
	}
	reviews, err := reviewqueue.NewQueue(reviewqueue.NewRepository(deps.DB), reviewOpts...)
	if err != nil {
		return nil, fmt.Errorf("review queue: %w", err)
	}

	reserver, err := stock.NewGormReserver(deps.DB)
	if err != nil {
		return nil, fmt.Errorf("stock reserver: %w", err)
	}

	core := &Core{
		Intents:      intents.NewRepository(deps.DB),
		Reservations: reserver,
		Reviews:      reviews,
	}

	params := maintenance.Params{
		Intents:      core.Intents,
		Reservations: reserver,
		Reviews:      reviews,
		Payments:     cfg.Payments,
		Maintenance:  cfg.Maintenance,
		GatewayCfg:   cfg.Gateway,
		Logger:       deps.Logger,
	}

	if cfg.Gateway.Configured() {
		client, err := gateway.NewClient(cfg.Gateway,
			gateway.WithLogger(deps.Logger),
			gateway.WithMetrics(deps.Metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("gateway client: %w", err)
		}
		core.Gateway = client
		params.Gateway = client

		engine, err := newReconciler(ctx, deps, client, reviews)
		if err != nil {
			return nil, err
		}
		params.Reconciler = engine
	} else if deps.Logger != nil {
		deps.Logger.Warn(ctx, "gateway credentials missing; provider probes and reconciliation disabled")
	}

	sweeper, err := maintenance.NewSweeper(params)
	if err != nil {
		return nil, fmt.Errorf("maintenance sweeper: %w", err)
	}
	core.Sweeper = sweeper
	return core, nil
}

func newReconciler(ctx context.Context, deps Deps, client *gateway.Client, reviews *reviewqueue.Queue) (*reconciliation.Engine, error) {
	params := reconciliation.Params{
		Ledger:  client,
		Intents: intents.NewRepository(deps.DB),
		Reviews: reviews,
		Config:  deps.Config.Reconciliation,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	}
	if deps.BigQuery != nil {
		exporter, err := reconciliation.NewBigQueryExporter(deps.BigQuery, deps.BigQuery.ReconciliationTable())
		if err != nil {
			return nil, fmt.Errorf("reconciliation exporter: %w", err)
		}
		params.Exporter = exporter
		if deps.Logger != nil {
			deps.Logger.Info(ctx, "reconciliation reports exported to bigquery")
		}
	}
	engine, err := reconciliation.NewEngine(params)
	if err != nil {
		return nil, fmt.Errorf("reconciliation engine: %w", err)
	}
	return engine, nil
}

// GCP holds the optional Google Cloud clients. Either field may be nil.
type GCP struct {
	PubSub   *pubsub.Client
	BigQuery *bigquery.Client
}

// OpenGCP connects the clients whose configuration is present. A client that fails to start is
// logged and left nil so the payment path keeps working without it.
func OpenGCP(ctx context.Context, cfg *config.Config, logg *logger.Logger) *GCP {
	out := &GCP{}
	if strings.TrimSpace(cfg.GCP.ProjectID) == "" {
		return out
	}
	if strings.TrimSpace(cfg.PubSub.ReviewTopic) != "" {
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "pubsub unavailable; review notifications disabled", err)
		} else {
			out.PubSub = client
		}
	}
	if strings.TrimSpace(cfg.BigQuery.Dataset) != "" {
		client, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(ctx, "bigquery unavailable; reconciliation export disabled", err)
		} else {
			out.BigQuery = client
		}
	}
	return out
}

// Close releases whichever clients were opened.
func (g *GCP) Close() error {
	if g == nil {
		return nil
	}
	var err error
	if g.PubSub != nil {
		err = multierr.Append(err, g.PubSub.Close())
	}
	if g.BigQuery != nil {
		err = multierr.Append(err, g.BigQuery.Close())
	}
	return err
}
