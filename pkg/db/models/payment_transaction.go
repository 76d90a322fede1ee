package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
)

// PaymentTransaction is an append-only record of one gateway exchange.
type PaymentTransaction struct {
	ID              uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	IntentID        uuid.UUID                  `gorm:"column:intent_id;type:uuid;not null"`
	Operation       enums.TransactionOperation `gorm:"column:operation;not null"`
	RequestPayload  json.RawMessage            `gorm:"column:request_payload;type:jsonb"`
	ResponsePayload json.RawMessage            `gorm:"column:response_payload;type:jsonb"`
	Success         bool                       `gorm:"column:success;not null"`
	ErrorCode       *string                    `gorm:"column:error_code"`
	ErrorMessage    *string                    `gorm:"column:error_message"`
	CreatedAt       time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }
