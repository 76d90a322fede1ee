package cron

import (
	"context"
	"errors"

	"github.com/angelmondragon/paycore/internal/maintenance"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// MaintenanceJobName labels the sweeper job in logs and metrics.
const MaintenanceJobName = "payment-maintenance"

type sweeper interface {
	Run(ctx context.Context, opts maintenance.Options) (*maintenance.Result, error)
}

// MaintenanceJob runs the payment sweeper each cycle.
type MaintenanceJob struct {
	sweeper sweeper
	opts    maintenance.Options
	logg    *logger.Logger
}

// NewMaintenanceJob wraps the sweeper; opts is passed on every run.
func NewMaintenanceJob(sw sweeper, opts maintenance.Options, logg *logger.Logger) (*MaintenanceJob, error) {
	if sw == nil {
		return nil, errors.New("sweeper required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &MaintenanceJob{sweeper: sw, opts: opts, logg: logg}, nil
}

func (j *MaintenanceJob) Name() string { return MaintenanceJobName }

func (j *MaintenanceJob) Run(ctx context.Context) error {
	result, err := j.sweeper.Run(ctx, j.opts)
	if result != nil {
		fields := map[string]any{
			"released_reservations": result.ReleasedReservations,
			"expired_intents":       result.ExpiredIntents,
			"stuck_candidates":      result.StuckCandidates,
			"review_upserts":        result.ReviewUpserts,
			"provider_checks":       len(result.ProviderChecks),
		}
		if report := result.Reconciliation; report != nil {
			fields["recon_run_id"] = report.RunID
			fields["recon_matched"] = report.Matched
			fields["recon_fetch_errors"] = report.FetchErrorCount
		}
		j.logg.Info(j.logg.WithFields(ctx, fields), "maintenance.sweep.summary")
	}
	return err
}
