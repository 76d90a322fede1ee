package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
)

// StockReservation holds quantity for a payment intent until it is consumed, released or expires.
type StockReservation struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	IntentID   uuid.UUID               `gorm:"column:intent_id;type:uuid;not null;index"`
	ProductID  string                  `gorm:"column:product_id;not null"`
	Qty        int                     `gorm:"column:qty;not null"`
	Status     enums.ReservationStatus `gorm:"column:status;not null;default:'active'"`
	ExpiresAt  time.Time               `gorm:"column:expires_at;not null"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	ReleasedAt *time.Time              `gorm:"column:released_at"`
}

func (StockReservation) TableName() string { return "stock_reservations" }
