package intents

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/transactions"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

const callbackLookback = 24 * time.Hour

var (
	callbackFailureFlags = []string{"false", "0", "fail", "failed", "unsuccessful"}
	callbackSuccessFlags = []string{"true", "1", "success", "successful"}
	successResultCodes   = []string{"success", "0", "00", "000"}
)

// CallbackInput is the gateway's 3-D Secure return, already parsed from query or form fields.
type CallbackInput struct {
	IntentID    uuid.UUID
	Method      string
	ContentType string
	Fields      map[string]string
}

// CompletionResult is the evaluated outcome of a 3-D Secure return.
type CompletionResult struct {
	IntentID   uuid.UUID
	Paid       bool
	Status     enums.IntentStatus
	ResultCode string
	TrxStatus  string
	BankCode   string
	Message    string
}

type callbackFields struct {
	ResultCode     string `json:"resultCode"`
	IsSuccessful   string `json:"isSuccessful"`
	TrxStatus      string `json:"trxStatus"`
	PaymentStatus  string `json:"paymentStatus"`
	BankResultCode string `json:"bankResultCode"`
	ResultMessage  string `json:"resultMessage"`
	TrxCode        string `json:"trxCode"`
}

type evaluation struct {
	Callback          callbackFields  `json:"callback"`
	MatchedRecord     *gateway.Record `json:"matchedRecord,omitempty"`
	CallbackFailure   bool            `json:"callbackIndicatesFailure"`
	CallbackSuccess   bool            `json:"callbackIndicatesSuccess"`
	InquirySuccess    bool            `json:"inquiryIndicatesSuccess"`
	Success           bool            `json:"isActuallySuccess"`
	ResultCode        string          `json:"resultCode"`
	TrxStatus         string          `json:"trxStatus"`
	BankCode          string          `json:"bankCode"`
	Message           string          `json:"message"`
	LedgerResultCode  string          `json:"ledgerResultCode"`
	LedgerRecordCount int             `json:"ledgerRecordCount"`
}

// CompleteThreeD finalizes an intent from the gateway callback, cross-checked against the payment ledger.
// Callback failure indicators dominate; otherwise callback success or a settled ledger record marks it paid.
func (s *service) CompleteThreeD(ctx context.Context, input CallbackInput) (*CompletionResult, error) {
	if input.IntentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	intent, err := s.repo.FindByID(ctx, input.IntentID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}

	s.record(ctx, transactions.Entry{
		IntentID:  intent.ID,
		Operation: enums.TransactionOperationInquiry,
		Payload: mustJSON(map[string]any{
			"method":       input.Method,
			"contentType":  input.ContentType,
			"callbackData": input.Fields,
		}),
		Success: true,
	})

	short := gateway.ShortTrxCode(intent.ID.String())
	now := s.clock()
	page, listErr := s.gateway.ListPayments(ctx, gateway.ListPaymentsRequest{
		Start:        now.Add(-callbackLookback),
		End:          now,
		OtherTrxCode: short,
	})
	if page != nil && len(page.Exchange.Request) > 0 {
		s.record(ctx, transactions.Entry{
			IntentID:  intent.ID,
			Operation: enums.TransactionOperationInquiry,
			Exchange:  page.Exchange,
			Success:   listErr == nil && page.OK(),
			Err:       listErr,
		})
	}

	storedTrx := ""
	if intent.GatewayTrxCode != nil {
		storedTrx = *intent.GatewayTrxCode
	}
	eval := evaluate(parseCallback(input.Fields), page, short, storedTrx)
	s.record(ctx, transactions.Entry{
		IntentID:  intent.ID,
		Operation: enums.TransactionOperationInquiry,
		Payload:   mustJSON(map[string]any{"type": "status_evaluation", "evaluation": eval}),
		Success:   true,
	})

	result := &CompletionResult{
		IntentID:   intent.ID,
		ResultCode: eval.ResultCode,
		TrxStatus:  eval.TrxStatus,
		BankCode:   eval.BankCode,
		Message:    eval.Message,
	}
	if eval.Success {
		return s.finalizePaid(ctx, intent.ID, intent.Status, eval, result)
	}

	moved, err := s.repo.Transition(ctx, intent.ID,
		[]enums.IntentStatus{enums.IntentStatusPending, enums.IntentStatusAwaiting3D},
		enums.IntentStatusFailed,
		map[string]any{"gateway_status": "callback_failed:" + eval.ResultCode})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark intent failed")
	}
	if moved {
		if _, err := s.reserver.Release(ctx, intent.ID); err != nil {
			s.warn(ctx, intent.ID, "intents.release_failed", err)
		}
		result.Status = enums.IntentStatusFailed
	} else {
		result.Status = s.currentStatus(ctx, intent.ID, intent.Status)
		result.Paid = result.Status == enums.IntentStatusPaid
	}
	return result, nil
}

func (s *service) finalizePaid(ctx context.Context, intentID uuid.UUID, before enums.IntentStatus, eval evaluation, result *CompletionResult) (*CompletionResult, error) {
	fields := map[string]any{"gateway_status": "paid"}
	if eval.MatchedRecord != nil {
		if trx := firstNonEmpty(eval.MatchedRecord.VirtualPosOrderID, eval.MatchedRecord.TrxCode); trx != "" {
			fields["gateway_trx_code"] = trx
		}
	} else if eval.Callback.TrxCode != "" {
		fields["gateway_trx_code"] = eval.Callback.TrxCode
	}

	moved, err := s.repo.Transition(ctx, intentID,
		[]enums.IntentStatus{enums.IntentStatusPending, enums.IntentStatusAwaiting3D},
		enums.IntentStatusPaid, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark intent paid")
	}
	if !moved {
		result.Status = s.currentStatus(ctx, intentID, before)
		result.Paid = result.Status == enums.IntentStatusPaid
		if !result.Paid {
			result.ResultCode = "finalize_err"
			s.record(ctx, transactions.Entry{
				IntentID:  intentID,
				Operation: enums.TransactionOperationFinalize,
				Err:       pkgerrors.New(pkgerrors.CodeStateConflict, "intent is no longer awaiting payment"),
			})
		}
		return result, nil
	}

	if _, err := s.reserver.Consume(ctx, intentID); err != nil {
		s.warn(ctx, intentID, "intents.consume_failed", err)
	}
	s.record(ctx, transactions.Entry{
		IntentID:  intentID,
		Operation: enums.TransactionOperationFinalize,
		Payload:   mustJSON(map[string]any{"statusEvaluation": eval}),
		Success:   true,
	})
	result.Paid = true
	result.Status = enums.IntentStatusPaid
	return result, nil
}

func (s *service) currentStatus(ctx context.Context, intentID uuid.UUID, fallback enums.IntentStatus) enums.IntentStatus {
	current, err := s.repo.FindByID(ctx, intentID)
	if err != nil {
		return fallback
	}
	return current.Status
}

func parseCallback(fields map[string]string) callbackFields {
	pick := func(keys ...string) string {
		for _, key := range keys {
			if v := strings.TrimSpace(fields[key]); v != "" {
				return v
			}
		}
		return ""
	}
	return callbackFields{
		ResultCode:     pick("ResultCode", "resultCode"),
		IsSuccessful:   pick("IsSuccessful", "isSuccessful"),
		TrxStatus:      pick("TrxStatus", "trxStatus"),
		PaymentStatus:  pick("PaymentStatus", "paymentStatus"),
		BankResultCode: pick("BankResultCode", "bankResultCode"),
		ResultMessage:  pick("ResultMessage", "resultMessage"),
		TrxCode:        pick("TrxCode", "trxCode"),
	}
}

func evaluate(cb callbackFields, page *gateway.LedgerPage, short, storedTrx string) evaluation {
	eval := evaluation{Callback: cb}
	var records []gateway.Record
	if page != nil {
		records = page.Records
		eval.LedgerResultCode = page.Exchange.ResultCode
		eval.LedgerRecordCount = len(records)
	}
	eval.MatchedRecord = matchRecord(records, short, storedTrx, cb.TrxCode)

	flag := strings.ToLower(cb.IsSuccessful)
	bank := cb.BankResultCode
	eval.CallbackFailure = contains(callbackFailureFlags, flag) || (bank != "" && bank != "0" && bank != "00")
	eval.CallbackSuccess = contains(callbackSuccessFlags, flag) ||
		(contains(successResultCodes, strings.ToLower(cb.ResultCode)) && (bank == "" || bank == "0" || bank == "00"))
	eval.InquirySuccess = eval.MatchedRecord != nil && eval.MatchedRecord.Settled()
	eval.Success = !eval.CallbackFailure && (eval.CallbackSuccess || eval.InquirySuccess)

	var matched gateway.Record
	if eval.MatchedRecord != nil {
		matched = *eval.MatchedRecord
	}
	eval.ResultCode = firstNonEmpty(cb.ResultCode, matched.ResultCode, eval.LedgerResultCode, "fail")
	eval.TrxStatus = firstNonEmpty(cb.TrxStatus, matched.TrxStatus, "unknown")
	eval.BankCode = firstNonEmpty(cb.BankResultCode, matched.BankResultCode)
	eval.Message = firstNonEmpty(cb.ResultMessage, matched.ResultMessage)
	return eval
}

// matchRecord prefers the merchant reference, then the stored gateway code, then the callback's code.
func matchRecord(records []gateway.Record, short, storedTrx, callbackTrx string) *gateway.Record {
	short = strings.ToLower(short)
	for i := range records {
		if strings.ToLower(strings.ReplaceAll(records[i].OtherTrxCode, "-", "")) == short {
			return &records[i]
		}
	}
	for _, code := range []string{storedTrx, callbackTrx} {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		for i := range records {
			if strings.ToLower(records[i].TrxCode) == code {
				return &records[i]
			}
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
