package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
)

// PaymentIntent is one checkout payment attempt and its 3-D Secure lifecycle.
type PaymentIntent struct {
	ID                      uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID                  uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	ShippingAddressID       uuid.UUID           `gorm:"column:shipping_address_id;type:uuid;not null"`
	PaymentMethod           enums.PaymentMethod `gorm:"column:payment_method;not null;default:'card'"`
	Status                  enums.IntentStatus  `gorm:"column:status;not null;default:'pending'"`
	IdempotencyKey          string              `gorm:"column:idempotency_key;not null;uniqueIndex"`
	IdempotencyExpiresAt    time.Time           `gorm:"column:idempotency_expires_at;not null"`
	Currency                string              `gorm:"column:currency;not null"`
	ItemTotalCents          int64               `gorm:"column:item_total_cents;not null"`
	VATTotalCents           int64               `gorm:"column:vat_total_cents;not null"`
	ShippingTotalCents      int64               `gorm:"column:shipping_total_cents;not null"`
	DiscountTotalCents      int64               `gorm:"column:discount_total_cents;not null"`
	BaseTotalCents          int64               `gorm:"column:base_total_cents;not null"`
	CommissionRateBps       int64               `gorm:"column:commission_rate_bps;not null"`
	CommissionAmountCents   int64               `gorm:"column:commission_amount_cents;not null"`
	PaidTotalCents          int64               `gorm:"column:paid_total_cents;not null"`
	InstallmentNumber       int                 `gorm:"column:installment_number;not null"`
	CartSnapshot            json.RawMessage     `gorm:"column:cart_snapshot;type:jsonb;not null"`
	PricingSnapshot         json.RawMessage     `gorm:"column:pricing_snapshot;type:jsonb;not null"`
	Provider                string              `gorm:"column:provider;not null"`
	MerchantRef             string              `gorm:"column:merchant_ref;not null"`
	GatewayTrxCode          *string             `gorm:"column:gateway_trx_code"`
	GatewayStatus           *string             `gorm:"column:gateway_status"`
	ThreeDPayloadEncrypted  *string             `gorm:"column:threed_payload_encrypted"`
	ThreeDPayloadKeyVersion *int                `gorm:"column:threed_payload_key_version"`
	ReturnURL               *string             `gorm:"column:return_url"`
	FailURL                 *string             `gorm:"column:fail_url"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }
