// Package reconciliation diffs the gateway payment ledger against local paid intents and routes
// anomalies to the manual review queue. It never changes intent status.
package reconciliation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
)

const (
	amountToleranceCents = 1
	overflowKeyPrefix    = "recon_window_overflow"
)

type ledger interface {
	ListPayments(ctx context.Context, req gateway.ListPaymentsRequest) (*gateway.LedgerPage, error)
}

type paidIntents interface {
	ListPaidSince(ctx context.Context, since time.Time) ([]models.PaymentIntent, error)
}

type reviewQueue interface {
	Upsert(ctx context.Context, entry reviewqueue.Entry) (bool, error)
}

// Exporter receives the report of every completed run.
type Exporter interface {
	Export(ctx context.Context, report *Report) error
}

// FetchError is one ledger window that could not be read.
type FetchError struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ResultCode string    `json:"result_code,omitempty"`
	Message    string    `json:"message"`
}

// Report summarizes one run.
type Report struct {
	RunID           string       `json:"run_id"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	Requests        int          `json:"requests"`
	ProviderRecords int          `json:"provider_records"`
	FetchErrorCount int          `json:"fetch_error_count"`
	OverflowWindows int          `json:"overflow_windows"`
	Matched         int          `json:"matched"`
	UnmatchedLocal  int          `json:"unmatched_local"`
	LocalPaid       int          `json:"local_paid"`
	ReviewUpserts   int          `json:"review_upserts"`
	FetchErrors     []FetchError `json:"fetch_errors"`
}

// Params wires an Engine.
type Params struct {
	Ledger   ledger
	Intents  paidIntents
	Reviews  reviewQueue
	Config   config.ReconciliationConfig
	Exporter Exporter
	Logger   *logger.Logger
	Metrics  *metrics.PaymentMetrics
}

// Engine runs ledger reconciliation passes.
type Engine struct {
	ledger     ledger
	intents    paidIntents
	reviews    reviewQueue
	exporter   Exporter
	lookback   time.Duration
	window     time.Duration
	maxRecords int
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
	now        func() time.Time
}

// NewEngine validates dependencies and applies configuration defaults.
func NewEngine(params Params) (*Engine, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger client required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent reader required")
	}
	if params.Reviews == nil {
		return nil, fmt.Errorf("review queue required")
	}
	maxRecords := params.Config.MaxRecords
	if maxRecords <= 0 {
		maxRecords = 500
	}
	return &Engine{
		ledger:     params.Ledger,
		intents:    params.Intents,
		reviews:    params.Reviews,
		exporter:   params.Exporter,
		lookback:   params.Config.Lookback(),
		window:     params.Config.Window(),
		maxRecords: maxRecords,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

// Run fetches the lookback interval window by window, bisecting full windows, then diffs the collected
// records against local paid intents. Fetch errors are reported, never returned.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	started := e.now().UTC()
	end := started.Truncate(MinGranularity)
	start := end.Add(-e.lookback)
	report := &Report{RunID: uuid.NewString(), StartedAt: started, FetchErrors: []FetchError{}}

	records, err := e.collect(ctx, start, end, report)
	if err != nil {
		return nil, err
	}
	report.ProviderRecords = len(records)

	local, err := e.intents.ListPaidSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("list local paid intents: %w", err)
	}
	report.LocalPaid = len(local)

	if err := e.diff(ctx, records, local, report); err != nil {
		return nil, err
	}
	report.FinishedAt = e.now().UTC()

	if e.exporter != nil {
		if err := e.exporter.Export(ctx, report); err != nil {
			e.logError(ctx, "reconciliation.export.failed", err)
		}
	}
	if e.logg != nil {
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"run_id":           report.RunID,
			"requests":         report.Requests,
			"provider_records": report.ProviderRecords,
			"fetch_errors":     report.FetchErrorCount,
			"overflow_windows": report.OverflowWindows,
			"matched":          report.Matched,
			"unmatched_local":  report.UnmatchedLocal,
			"review_upserts":   report.ReviewUpserts,
		}), "reconciliation.run.completed")
	}
	return report, nil
}

// collect drains a stack of windows. Pushing the later half first keeps processing in time order.
func (e *Engine) collect(ctx context.Context, start, end time.Time, report *Report) ([]gateway.Record, error) {
	seeded := seedWindows(start, end, e.window)
	stack := make([]Window, 0, len(seeded))
	for i := len(seeded) - 1; i >= 0; i-- {
		stack = append(stack, seeded[i])
	}

	seen := map[string]struct{}{}
	var records []gateway.Record
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		report.Requests++
		page, err := e.ledger.ListPayments(ctx, gateway.ListPaymentsRequest{Start: w.Start, End: w.End})
		switch {
		case err != nil:
			e.fetchFailed(report, w, page, err.Error())
			continue
		case page.NoData():
			e.metrics.IncReconWindow("no_data")
			continue
		case !page.OK():
			e.fetchFailed(report, w, page, page.Exchange.ResultMessage)
			continue
		}

		if len(page.Records) >= e.maxRecords {
			if w.Splittable() {
				left, right := w.Split()
				stack = append(stack, right, left)
				e.metrics.IncReconWindow("split")
				continue
			}
			report.OverflowWindows++
			e.metrics.IncReconWindow("overflow")
			if err := e.upsert(ctx, report, reviewqueue.Entry{
				Reason: enums.ReviewReasonReconWindowOverflow,
				Details: map[string]any{
					"start":        w.Start.Format(time.RFC3339),
					"end":          w.End.Format(time.RFC3339),
					"record_count": len(page.Records),
					"max_records":  e.maxRecords,
				},
				DedupeKey: reviewqueue.DedupeKey(overflowKeyPrefix, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)),
			}); err != nil {
				return nil, err
			}
		} else {
			e.metrics.IncReconWindow("ok")
		}

		for _, rec := range page.Records {
			key := rec.DedupeKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (e *Engine) fetchFailed(report *Report, w Window, page *gateway.LedgerPage, message string) {
	fe := FetchError{Start: w.Start, End: w.End, Message: message}
	if page != nil {
		fe.ResultCode = page.Exchange.ResultCode
	}
	report.FetchErrors = append(report.FetchErrors, fe)
	report.FetchErrorCount++
	e.metrics.IncReconWindow("error")
}

func (e *Engine) diff(ctx context.Context, records []gateway.Record, local []models.PaymentIntent, report *Report) error {
	byID := make(map[string]*models.PaymentIntent, len(local))
	byShort := make(map[string]*models.PaymentIntent, len(local))
	for i := range local {
		intent := &local[i]
		byID[intent.ID.String()] = intent
		byShort[gateway.ShortTrxCode(intent.ID.String())] = intent
	}

	matched := map[uuid.UUID]struct{}{}
	for _, rec := range records {
		ref := strings.ToLower(strings.TrimSpace(rec.OtherTrxCode))
		intent, wellFormed := lookup(ref, byID, byShort)
		if intent == nil {
			if !wellFormed || !rec.Settled() {
				continue
			}
			if err := e.upsert(ctx, report, reviewqueue.Entry{
				Reason: enums.ReviewReasonGatewayPaidLocalMissing,
				Details: map[string]any{
					"other_trx_code": rec.OtherTrxCode,
					"trx_code":       rec.TrxCode,
					"amount_cents":   rec.AmountCents,
					"trx_status":     rec.TrxStatus,
				},
				DedupeKey: reviewqueue.DedupeKey(string(enums.ReviewReasonGatewayPaidLocalMissing), rec.OtherTrxCode, rec.TrxCode),
			}); err != nil {
				return err
			}
			continue
		}

		matched[intent.ID] = struct{}{}
		if !rec.HasAmount || abs(rec.AmountCents-intent.PaidTotalCents) <= amountToleranceCents {
			continue
		}
		id := intent.ID
		localCents := strconv.FormatInt(intent.PaidTotalCents, 10)
		providerCents := strconv.FormatInt(rec.AmountCents, 10)
		if err := e.upsert(ctx, report, reviewqueue.Entry{
			IntentID: &id,
			Reason:   enums.ReviewReasonAmountMismatch,
			Details: map[string]any{
				"local_paid_total_cents": intent.PaidTotalCents,
				"provider_amount_cents":  rec.AmountCents,
				"trx_code":               rec.TrxCode,
			},
			DedupeKey: reviewqueue.DedupeKey(string(enums.ReviewReasonAmountMismatch), id.String(), localCents, providerCents),
		}); err != nil {
			return err
		}
	}
	report.Matched = len(matched)

	for i := range local {
		intent := local[i]
		if _, ok := matched[intent.ID]; ok {
			continue
		}
		report.UnmatchedLocal++
		id := intent.ID
		details := map[string]any{
			"paid_total_cents": intent.PaidTotalCents,
			"created_at":       intent.CreatedAt.UTC().Format(time.RFC3339),
		}
		// The reviewer needs to know the ledger was partial when this entry was raised.
		if report.FetchErrorCount > 0 {
			details["ledger_fetch_errors"] = report.FetchErrorCount
		}
		if err := e.upsert(ctx, report, reviewqueue.Entry{
			IntentID: &id,
			Reason:   enums.ReviewReasonLocalPaidGatewayMissing,
			Details:  details,
			DedupeKey: reviewqueue.DedupeKey(string(enums.ReviewReasonLocalPaidGatewayMissing), id.String()),
		}); err != nil {
			return err
		}
	}
	return nil
}

// lookup resolves a merchant reference (full UUID or dashless short code) to a local paid intent.
// wellFormed reports whether the reference looks like one this service issues.
func lookup(ref string, byID, byShort map[string]*models.PaymentIntent) (*models.PaymentIntent, bool) {
	if ref == "" {
		return nil, false
	}
	if id, err := uuid.Parse(ref); err == nil {
		return byID[id.String()], true
	}
	short := strings.ReplaceAll(ref, "-", "")
	if isShortCode(short) {
		return byShort[short], true
	}
	return nil, false
}

func isShortCode(value string) bool {
	if len(value) != gateway.ShortTrxCodeLength {
		return false
	}
	for _, r := range value {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (e *Engine) upsert(ctx context.Context, report *Report, entry reviewqueue.Entry) error {
	inserted, err := e.reviews.Upsert(ctx, entry)
	if err != nil {
		return fmt.Errorf("upsert %s review: %w", entry.Reason, err)
	}
	if inserted {
		report.ReviewUpserts++
	}
	return nil
}

func (e *Engine) logError(ctx context.Context, msg string, err error) {
	if e.logg != nil {
		e.logg.Error(ctx, msg, err)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
