// Package maintenance recovers intermediate payment states that no request will ever complete.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/reconciliation"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
)

const (
	sweepBatchSize        = 500
	probeLookback         = 24 * time.Hour
	defaultAbandonAfter   = 30 * time.Minute
	defaultVoidPendingAge = 30 * time.Minute
	defaultRefundPendAge  = 2 * time.Hour
	expiredGatewayStatus  = "expired"
	providerProduction    = "production"
	providerSandbox       = "sandbox"
)

type intentStore interface {
	ListCreatedBefore(ctx context.Context, statuses []enums.IntentStatus, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	ListUpdatedBefore(ctx context.Context, status enums.IntentStatus, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.IntentStatus, to enums.IntentStatus, fields map[string]any) (bool, error)
}

type reservations interface {
	Release(ctx context.Context, intentID uuid.UUID) (int, error)
	ReleaseExpired(ctx context.Context) (int, error)
}

type reviewQueue interface {
	Upsert(ctx context.Context, entry reviewqueue.Entry) (bool, error)
}

type ledgerProber interface {
	ListPayments(ctx context.Context, req gateway.ListPaymentsRequest) (*gateway.LedgerPage, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (*reconciliation.Report, error)
}

// Params wires a Sweeper. Gateway and Reconciler are optional.
type Params struct {
	Intents      intentStore
	Reservations reservations
	Reviews      reviewQueue
	Gateway      ledgerProber
	Reconciler   Reconciler
	Payments     config.PaymentsConfig
	Maintenance  config.MaintenanceConfig
	GatewayCfg   config.GatewayConfig
	Logger       *logger.Logger
}

// Options selects the optional steps of a run.
type Options struct {
	ProbeProviders    bool
	RunReconciliation bool
}

// ProviderCheck is the health of one gateway environment.
type ProviderCheck struct {
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	Healthy    bool   `json:"healthy"`
	ResultCode string `json:"result_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result reports what a run changed.
type Result struct {
	ReleasedReservations int                    `json:"released_reservations"`
	ExpiredIntents       int                    `json:"expired_intents"`
	StuckCandidates      int                    `json:"stuck_candidates"`
	ReviewUpserts        int                    `json:"review_upserts"`
	ProviderChecks       []ProviderCheck        `json:"provider_checks,omitempty"`
	Reconciliation       *reconciliation.Report `json:"reconciliation,omitempty"`
}

// Sweeper runs the maintenance steps in a fixed order.
type Sweeper struct {
	intents      intentStore
	reservations reservations
	reviews      reviewQueue
	gateway      ledgerProber
	reconciler   Reconciler
	abandonAfter time.Duration
	voidAge      time.Duration
	refundAge    time.Duration
	probeTargets []probeTarget
	logg         *logger.Logger
	now          func() time.Time
}

type probeTarget struct {
	name    string
	baseURL string
}

// NewSweeper validates dependencies and applies default thresholds.
func NewSweeper(params Params) (*Sweeper, error) {
	if params.Intents == nil {
		return nil, fmt.Errorf("intent store required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations required")
	}
	if params.Reviews == nil {
		return nil, fmt.Errorf("review queue required")
	}
	var targets []probeTarget
	if params.GatewayCfg.ProdBaseURL != "" {
		targets = append(targets, probeTarget{name: providerProduction, baseURL: params.GatewayCfg.ProdBaseURL})
	}
	if params.GatewayCfg.SandboxBaseURL != "" {
		targets = append(targets, probeTarget{name: providerSandbox, baseURL: params.GatewayCfg.SandboxBaseURL})
	}
	return &Sweeper{
		intents:      params.Intents,
		reservations: params.Reservations,
		reviews:      params.Reviews,
		gateway:      params.Gateway,
		reconciler:   params.Reconciler,
		abandonAfter: positiveOr(params.Payments.AbandonAfter, defaultAbandonAfter),
		voidAge:      positiveOr(params.Maintenance.VoidPendingAfter, defaultVoidPendingAge),
		refundAge:    positiveOr(params.Maintenance.RefundPendAfter, defaultRefundPendAge),
		probeTargets: targets,
		logg:         params.Logger,
		now:          time.Now,
	}, nil
}

// Run executes every step even when an earlier one fails; failures are combined into the returned error.
func (s *Sweeper) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	var errs error

	released, err := s.reservations.ReleaseExpired(ctx)
	result.ReleasedReservations += released
	errs = multierr.Append(errs, wrap("release expired reservations", err))

	errs = multierr.Append(errs, s.expireAbandoned(ctx, result))
	errs = multierr.Append(errs, s.flagStuck(ctx, result, enums.IntentStatusVoidPending, s.voidAge, enums.ReviewReasonStuckVoidPending))
	errs = multierr.Append(errs, s.flagStuck(ctx, result, enums.IntentStatusRefundPending, s.refundAge, enums.ReviewReasonStuckRefundPending))

	if opts.ProbeProviders {
		result.ProviderChecks = s.probe(ctx)
	}
	if opts.RunReconciliation && s.reconciler != nil {
		report, err := s.reconciler.Run(ctx)
		result.Reconciliation = report
		errs = multierr.Append(errs, wrap("reconciliation", err))
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"released_reservations": result.ReleasedReservations,
			"expired_intents":       result.ExpiredIntents,
			"stuck_candidates":      result.StuckCandidates,
			"review_upserts":        result.ReviewUpserts,
		})
		if errs != nil {
			s.logg.Error(logCtx, "maintenance.sweep.partial_failure", errs)
		} else {
			s.logg.Info(logCtx, "maintenance.sweep.completed")
		}
	}
	return result, errs
}

func (s *Sweeper) expireAbandoned(ctx context.Context, result *Result) error {
	cutoff := s.now().UTC().Add(-s.abandonAfter)
	stale, err := s.intents.ListCreatedBefore(ctx, enums.ReusableIntentStatuses, cutoff, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list abandoned intents: %w", err)
	}
	var errs error
	for _, intent := range stale {
		moved, err := s.intents.Transition(ctx, intent.ID, enums.ReusableIntentStatuses, enums.IntentStatusFailed,
			map[string]any{"gateway_status": expiredGatewayStatus})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire intent %s: %w", intent.ID, err))
			continue
		}
		if !moved {
			continue
		}
		result.ExpiredIntents++
		released, err := s.reservations.Release(ctx, intent.ID)
		result.ReleasedReservations += released
		errs = multierr.Append(errs, wrap("release reservation for "+intent.ID.String(), err))
	}
	return errs
}

func (s *Sweeper) flagStuck(ctx context.Context, result *Result, status enums.IntentStatus, age time.Duration, reason enums.ReviewReason) error {
	cutoff := s.now().UTC().Add(-age)
	stuck, err := s.intents.ListUpdatedBefore(ctx, status, cutoff, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list %s intents: %w", status, err)
	}
	var errs error
	for _, intent := range stuck {
		result.StuckCandidates++
		id := intent.ID
		inserted, err := s.reviews.Upsert(ctx, reviewqueue.Entry{
			IntentID: &id,
			Reason:   reason,
			Details: map[string]any{
				"status":           status,
				"updated_at":       intent.UpdatedAt.UTC().Format(time.RFC3339),
				"paid_total_cents": intent.PaidTotalCents,
			},
			DedupeKey: reviewqueue.DedupeKey(string(reason), id.String()),
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("queue %s review for %s: %w", reason, id, err))
			continue
		}
		if inserted {
			result.ReviewUpserts++
		}
	}
	return errs
}

// probe queries the ledger of every configured environment over the last day.
func (s *Sweeper) probe(ctx context.Context) []ProviderCheck {
	checks := make([]ProviderCheck, 0, len(s.probeTargets))
	if s.gateway == nil {
		return checks
	}
	now := s.now().UTC()
	for _, target := range s.probeTargets {
		check := ProviderCheck{Name: target.name, BaseURL: target.baseURL}
		page, err := s.gateway.ListPayments(ctx, gateway.ListPaymentsRequest{
			BaseURL: target.baseURL,
			Start:   now.Add(-probeLookback),
			End:     now,
		})
		if page != nil {
			check.ResultCode = page.Exchange.ResultCode
		}
		if err != nil {
			check.Error = err.Error()
		} else {
			check.Healthy = page.Healthy()
		}
		checks = append(checks, check)
	}
	return checks
}

func wrap(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}

func positiveOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
