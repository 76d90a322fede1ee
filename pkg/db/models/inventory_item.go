package models

import (
	"time"
)

// InventoryItem tracks available/reserved counts per product.
type InventoryItem struct {
	ProductID    string    `gorm:"column:product_id;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryItem) TableName() string { return "inventory_items" }
