// Package intents owns the payment intent lifecycle: idempotent creation with 3-D Secure initiation,
// completion from the gateway callback, and operator void, refund and capture.
package intents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/quote"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/internal/stock"
	"github.com/angelmondragon/paycore/internal/transactions"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
)

// Service is the payment intent API consumed by the HTTP layer.
type Service interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*CreateIntentResult, error)
	CompleteThreeD(ctx context.Context, input CallbackInput) (*CompletionResult, error)
	Void(ctx context.Context, intentID uuid.UUID, clientIP string) (*OperationResult, error)
	Refund(ctx context.Context, intentID uuid.UUID, amountCents int64, clientIP string) (*OperationResult, error)
	Capture(ctx context.Context, intentID uuid.UUID, amountCents int64) (*OperationResult, error)
}

type gatewayClient interface {
	InitThreeD(ctx context.Context, req gateway.ThreeDRequest) (*gateway.ThreeDResult, error)
	ListPayments(ctx context.Context, req gateway.ListPaymentsRequest) (*gateway.LedgerPage, error)
	TrxDetail(ctx context.Context, otherTrxCode string) (*gateway.LedgerPage, error)
	Void(ctx context.Context, req gateway.VoidRequest) (*gateway.OperationResult, error)
	Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.OperationResult, error)
	Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.OperationResult, error)
}

type transactionLog interface {
	Record(ctx context.Context, entry transactions.Entry) (*models.PaymentTransaction, error)
}

type reviewQueue interface {
	Upsert(ctx context.Context, entry reviewqueue.Entry) (bool, error)
}

type payloadSealer interface {
	Seal(plaintext []byte) (string, int, error)
	Open(encoded string, version int) ([]byte, error)
}

// RateLimiter admits or rejects a creation attempt for one user and method.
type RateLimiter interface {
	Allow(ctx context.Context, userID uuid.UUID, method enums.PaymentMethod) (bool, error)
}

// ServiceParams bundles the dependencies required to build the intent service.
type ServiceParams struct {
	Repo         Repository
	Quoter       quote.Quoter
	Reserver     stock.Reserver
	Gateway      gatewayClient
	Transactions transactionLog
	Reviews      reviewQueue
	Sealer       payloadSealer
	RateLimiter  RateLimiter
	Payments     config.PaymentsConfig
	GatewayCfg   config.GatewayConfig
	Logger       *logger.Logger
	Metrics      *metrics.PaymentMetrics
}

type service struct {
	repo        Repository
	quoter      quote.Quoter
	reserver    stock.Reserver
	gateway     gatewayClient
	txlog       transactionLog
	reviews     reviewQueue
	sealer      payloadSealer
	limiter     RateLimiter
	deriver     Deriver
	payments    config.PaymentsConfig
	redirectURL string
	appBaseURL  string
	logg        *logger.Logger
	metrics     *metrics.PaymentMetrics
	now         func() time.Time
}

// NewService constructs the intent service.
func NewService(params ServiceParams) (Service, error) {
	return newService(params)
}

func newService(params ServiceParams) (*service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("intent repository is required")
	}
	if params.Quoter == nil {
		return nil, fmt.Errorf("quoter is required")
	}
	if params.Reserver == nil {
		return nil, fmt.Errorf("stock reserver is required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction log is required")
	}
	if params.Reviews == nil {
		return nil, fmt.Errorf("review queue is required")
	}
	if params.Sealer == nil {
		return nil, fmt.Errorf("payload sealer is required")
	}
	redirect := params.GatewayCfg.RedirectURL
	if redirect == "" {
		return nil, fmt.Errorf("gateway redirect url is required")
	}
	return &service{
		repo:        params.Repo,
		quoter:      params.Quoter,
		reserver:    params.Reserver,
		gateway:     params.Gateway,
		txlog:       params.Transactions,
		reviews:     params.Reviews,
		sealer:      params.Sealer,
		limiter:     params.RateLimiter,
		deriver:     NewDeriver(params.Payments.ReuseWindow),
		payments:    params.Payments,
		redirectURL: redirect,
		appBaseURL:  params.GatewayCfg.AppBaseURL,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         time.Now,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// record writes a transaction log row; logging failures never change the outcome of the operation.
func (s *service) record(ctx context.Context, entry transactions.Entry) {
	if _, err := s.txlog.Record(ctx, entry); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithIntentID(ctx, entry.IntentID.String()), "transactions.record.failed", err)
	}
}

func (s *service) warn(ctx context.Context, intentID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithIntentID(ctx, intentID.String()), msg, err)
}

func mustJSON(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}
