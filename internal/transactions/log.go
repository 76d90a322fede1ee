package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// Entry describes one exchange to record. Exchange may be empty when the request never left the process.
type Entry struct {
	IntentID  uuid.UUID
	Operation enums.TransactionOperation
	Exchange  gateway.Exchange
	Success   bool
	// Err overrides the error columns; when nil and Success is false the gateway result code is used.
	Err error
	// Payload replaces the request column, e.g. for inbound callbacks that have no outbound request.
	Payload json.RawMessage
}

// Log appends gateway exchanges to the transaction log.
type Log struct {
	repo Repository
	now  func() time.Time
}

// NewLog wires a Log over the repository.
func NewLog(repo Repository) (*Log, error) {
	if repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	return &Log{repo: repo, now: time.Now}, nil
}

// Record persists the entry and returns the stored row.
func (l *Log) Record(ctx context.Context, entry Entry) (*models.PaymentTransaction, error) {
	if entry.IntentID == uuid.Nil {
		return nil, fmt.Errorf("intent id is required")
	}
	if !entry.Operation.IsValid() {
		return nil, fmt.Errorf("invalid transaction operation %q", entry.Operation)
	}

	row := &models.PaymentTransaction{
		ID:              uuid.New(),
		IntentID:        entry.IntentID,
		Operation:       entry.Operation,
		RequestPayload:  jsonOrNil(entry.Exchange.Request),
		ResponsePayload: jsonOrNil(entry.Exchange.Response),
		Success:         entry.Success,
		CreatedAt:       l.now().UTC().Truncate(time.Second),
	}
	if len(entry.Payload) > 0 {
		row.RequestPayload = entry.Payload
	}
	if !entry.Success {
		code, message := errorColumns(entry)
		row.ErrorCode = code
		row.ErrorMessage = message
	}

	if err := l.repo.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// History returns the recorded exchanges for an intent, oldest first.
func (l *Log) History(ctx context.Context, intentID uuid.UUID) ([]models.PaymentTransaction, error) {
	return l.repo.ListByIntentID(ctx, intentID)
}

func errorColumns(entry Entry) (*string, *string) {
	var code, message string
	if typed := pkgerrors.As(entry.Err); typed != nil {
		code = string(typed.Code())
		message = typed.Message()
	} else if entry.Err != nil {
		code = string(pkgerrors.CodeInternal)
		message = entry.Err.Error()
	}
	if entry.Exchange.ResultCode != "" {
		code = entry.Exchange.ResultCode
	}
	if message == "" {
		message = entry.Exchange.ResultMessage
	}
	return optional(code), optional(message)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func jsonOrNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
