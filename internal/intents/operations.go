package intents

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/internal/transactions"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// OperationResult is the outcome of an operator void, refund or capture. Pending means the gateway did
// not confirm synchronously and the intent was queued for manual review.
type OperationResult struct {
	IntentID    uuid.UUID
	Status      enums.IntentStatus
	Pending     bool
	AmountCents int64
}

type paidOperation struct {
	txOp         enums.TransactionOperation
	done         enums.IntentStatus
	pending      enums.IntentStatus
	reviewReason enums.ReviewReason
	call         func(ctx context.Context, trxCode string) (*gateway.OperationResult, error)
}

// Void cancels a paid intent at the gateway.
func (s *service) Void(ctx context.Context, intentID uuid.UUID, clientIP string) (*OperationResult, error) {
	intent, err := s.loadPaid(ctx, intentID)
	if err != nil {
		return nil, err
	}
	result, err := s.runPaidOperation(ctx, intent, paidOperation{
		txOp:         enums.TransactionOperationVoid,
		done:         enums.IntentStatusVoided,
		pending:      enums.IntentStatusVoidPending,
		reviewReason: enums.ReviewReasonStuckVoidPending,
		call: func(ctx context.Context, trxCode string) (*gateway.OperationResult, error) {
			return s.gateway.Void(ctx, gateway.VoidRequest{VirtualPosOrderID: trxCode, ClientIP: clientIP})
		},
	})
	if err != nil {
		return nil, err
	}
	result.AmountCents = intent.PaidTotalCents
	return result, nil
}

// Refund refunds a paid intent; amountCents zero refunds the full paid total.
func (s *service) Refund(ctx context.Context, intentID uuid.UUID, amountCents int64, clientIP string) (*OperationResult, error) {
	intent, err := s.loadPaidWithAmount(ctx, intentID, amountCents, "refund")
	if err != nil {
		return nil, err
	}
	result, err := s.runPaidOperation(ctx, intent, paidOperation{
		txOp:         enums.TransactionOperationRefund,
		done:         enums.IntentStatusRefunded,
		pending:      enums.IntentStatusRefundPending,
		reviewReason: enums.ReviewReasonStuckRefundPending,
		call: func(ctx context.Context, trxCode string) (*gateway.OperationResult, error) {
			return s.gateway.Refund(ctx, gateway.RefundRequest{VirtualPosOrderID: trxCode, ClientIP: clientIP, AmountCents: amountCents})
		},
	})
	if err != nil {
		return nil, err
	}
	result.AmountCents = amountCents
	if amountCents == 0 {
		result.AmountCents = intent.PaidTotalCents
	}
	return result, nil
}

// Capture settles a paid intent at the gateway without changing its status. amountCents zero
// captures the full paid total.
func (s *service) Capture(ctx context.Context, intentID uuid.UUID, amountCents int64) (*OperationResult, error) {
	intent, err := s.loadPaidWithAmount(ctx, intentID, amountCents, "capture")
	if err != nil {
		return nil, err
	}
	if amountCents == 0 {
		amountCents = intent.PaidTotalCents
	}
	trxCode, err := s.resolveTrxCode(ctx, intent)
	if err != nil {
		return nil, err
	}

	outcome, callErr := s.gateway.Capture(ctx, gateway.CaptureRequest{VirtualPosOrderID: trxCode, AmountCents: amountCents})
	var exchange gateway.Exchange
	confirmed := false
	if outcome != nil {
		exchange = outcome.Exchange
		confirmed = callErr == nil && outcome.Confirmed
	}
	s.record(ctx, transactions.Entry{
		IntentID:  intent.ID,
		Operation: enums.TransactionOperationCapture,
		Exchange:  exchange,
		Success:   confirmed,
		Err:       callErr,
	})
	if callErr != nil {
		return nil, gatewayError(callErr)
	}
	if !confirmed {
		msg := exchange.ResultMessage
		if msg == "" {
			msg = "capture failed"
		}
		return nil, pkgerrors.New(pkgerrors.CodeDeclined, msg).
			WithDetails(map[string]any{"result_code": exchange.ResultCode})
	}
	return &OperationResult{IntentID: intent.ID, Status: intent.Status, AmountCents: amountCents}, nil
}

func (s *service) loadPaidWithAmount(ctx context.Context, intentID uuid.UUID, amountCents int64, operation string) (*models.PaymentIntent, error) {
	if amountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, operation+" amount must not be negative")
	}
	intent, err := s.loadPaid(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if amountCents > intent.PaidTotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, operation+" amount exceeds the paid total")
	}
	return intent, nil
}

func (s *service) loadPaid(ctx context.Context, intentID uuid.UUID) (*models.PaymentIntent, error) {
	if intentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	intent, err := s.repo.FindByID(ctx, intentID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent.Status != enums.IntentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only paid intents can be voided, refunded or captured").
			WithDetails(map[string]any{"status": intent.Status})
	}
	return intent, nil
}

// runPaidOperation claims the intent by moving it from paid to the pending status before any money
// moves, so a concurrent operator loses the claim instead of the gateway race. A confirmed answer
// settles the intent; anything else leaves it pending with a review entry.
func (s *service) runPaidOperation(ctx context.Context, intent *models.PaymentIntent, op paidOperation) (*OperationResult, error) {
	trxCode, err := s.resolveTrxCode(ctx, intent)
	if err != nil {
		return nil, err
	}

	claimed, err := s.repo.Transition(ctx, intent.ID, []enums.IntentStatus{enums.IntentStatusPaid}, op.pending,
		map[string]any{"gateway_status": string(op.pending)})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim intent")
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "intent is no longer paid")
	}

	outcome, callErr := op.call(ctx, trxCode)
	var exchange gateway.Exchange
	confirmed := false
	if outcome != nil {
		exchange = outcome.Exchange
		confirmed = callErr == nil && outcome.Confirmed
	}
	s.record(ctx, transactions.Entry{
		IntentID:  intent.ID,
		Operation: op.txOp,
		Exchange:  exchange,
		Success:   confirmed,
		Err:       callErr,
	})

	details := map[string]any{
		"gateway_trx_code": trxCode,
		"result_code":      exchange.ResultCode,
		"result_message":   exchange.ResultMessage,
	}
	if callErr != nil {
		details["error"] = callErr.Error()
	}

	if confirmed {
		moved, err := s.repo.Transition(ctx, intent.ID, []enums.IntentStatus{op.pending}, op.done,
			map[string]any{"gateway_status": string(op.done)})
		if err == nil && moved {
			return &OperationResult{IntentID: intent.ID, Status: op.done}, nil
		}
		// The provider confirmed the money movement; the review entry keeps it visible.
		details["gateway_confirmed"] = true
		if err != nil {
			details["error"] = err.Error()
			s.warn(ctx, intent.ID, "intents.settle_failed", err)
		}
	}

	s.queueReview(ctx, intent.ID, op.reviewReason, details)
	return &OperationResult{IntentID: intent.ID, Status: op.pending, Pending: true}, nil
}

func (s *service) queueReview(ctx context.Context, intentID uuid.UUID, reason enums.ReviewReason, details map[string]any) {
	id := intentID
	if _, err := s.reviews.Upsert(ctx, reviewqueue.Entry{
		IntentID:  &id,
		Reason:    reason,
		Details:   details,
		DedupeKey: reviewqueue.DedupeKey(string(reason), intentID.String()),
	}); err != nil {
		s.warn(ctx, intentID, "intents.review_upsert_failed", err)
	}
}

// resolveTrxCode returns the stored gateway code, recovering and persisting it from the transaction
// detail list when the 3-D Secure flow never reported one.
func (s *service) resolveTrxCode(ctx context.Context, intent *models.PaymentIntent) (string, error) {
	if intent.GatewayTrxCode != nil && strings.TrimSpace(*intent.GatewayTrxCode) != "" {
		return strings.TrimSpace(*intent.GatewayTrxCode), nil
	}

	short := gateway.ShortTrxCode(intent.ID.String())
	page, err := s.gateway.TrxDetail(ctx, short)
	recovered := ""
	if err == nil && page != nil {
		if record := pickDetailRecord(page.Records, short); record != nil {
			recovered = firstNonEmpty(record.VirtualPosOrderID, record.TrxCode)
		}
	}
	if page != nil && len(page.Exchange.Request) > 0 {
		s.record(ctx, transactions.Entry{
			IntentID:  intent.ID,
			Operation: enums.TransactionOperationInquiry,
			Exchange:  page.Exchange,
			Success:   err == nil && page.OK() && recovered != "",
			Err:       err,
		})
	}
	if recovered == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "gateway transaction code could not be recovered")
	}
	if err := s.repo.SetGatewayTrxCode(ctx, intent.ID, recovered); err != nil {
		s.warn(ctx, intent.ID, "intents.persist_trx_code_failed", err)
	}
	return recovered, nil
}

func pickDetailRecord(records []gateway.Record, short string) *gateway.Record {
	for i := range records {
		if strings.EqualFold(records[i].OtherTrxCode, short) {
			return &records[i]
		}
	}
	if len(records) > 0 {
		return &records[0]
	}
	return nil
}
