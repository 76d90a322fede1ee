// Package stock reserves inventory for payment intents until they are paid, released or expire.
package stock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// Item is a product quantity to hold.
type Item struct {
	ProductID string
	Qty       int
}

// Reserver is the stock reservation collaborator used by intent creation and maintenance.
type Reserver interface {
	Reserve(ctx context.Context, intentID uuid.UUID, items []Item, ttl time.Duration) error
	Release(ctx context.Context, intentID uuid.UUID) (int, error)
	Consume(ctx context.Context, intentID uuid.UUID) (int, error)
	ReleaseExpired(ctx context.Context) (int, error)
}

// GormReserver keeps reservations in stock_reservations and counters in inventory_items.
type GormReserver struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormReserver builds a reserver over the database handle.
func NewGormReserver(db *gorm.DB) (*GormReserver, error) {
	if db == nil {
		return nil, fmt.Errorf("database required for stock reservations")
	}
	return &GormReserver{db: db, now: time.Now}, nil
}

// Reserve moves quantity from available to reserved for every item, all or nothing.
func (r *GormReserver) Reserve(ctx context.Context, intentID uuid.UUID, items []Item, ttl time.Duration) error {
	if intentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	if ttl <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation ttl must be positive")
	}
	merged, err := mergeItems(items)
	if err != nil {
		return err
	}

	now := r.now().UTC().Truncate(time.Second)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range merged {
			res := tx.Exec(`
				UPDATE inventory_items
				SET available_qty = available_qty - ?,
					reserved_qty = reserved_qty + ?,
					updated_at = ?
				WHERE product_id = ? AND available_qty >= ?
			`, item.Qty, item.Qty, now, item.ProductID, item.Qty)
			if res.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
			}
			if res.RowsAffected == 0 {
				return pkgerrors.New(pkgerrors.CodeReservation, "insufficient stock").
					WithDetails(map[string]any{"product_id": item.ProductID, "requested": item.Qty})
			}

			row := &models.StockReservation{
				ID:        uuid.New(),
				IntentID:  intentID,
				ProductID: item.ProductID,
				Qty:       item.Qty,
				Status:    enums.ReservationStatusActive,
				ExpiresAt: now.Add(ttl),
				CreatedAt: now,
			}
			if err := tx.Create(row).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reservation")
			}
		}
		return nil
	})
}

// Release returns the intent's active reservations to available stock. It reports how many were released.
func (r *GormReserver) Release(ctx context.Context, intentID uuid.UUID) (int, error) {
	return r.settle(ctx, "intent_id = ?", []any{intentID}, enums.ReservationStatusReleased)
}

// Consume converts the intent's active reservations into sold stock.
func (r *GormReserver) Consume(ctx context.Context, intentID uuid.UUID) (int, error) {
	return r.settle(ctx, "intent_id = ?", []any{intentID}, enums.ReservationStatusConsumed)
}

// ReleaseExpired releases every active reservation past its expiry.
func (r *GormReserver) ReleaseExpired(ctx context.Context) (int, error) {
	now := r.now().UTC().Truncate(time.Second)
	return r.settle(ctx, "expires_at < ?", []any{now}, enums.ReservationStatusReleased)
}

func (r *GormReserver) settle(ctx context.Context, where string, args []any, to enums.ReservationStatus) (int, error) {
	now := r.now().UTC().Truncate(time.Second)
	settled := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.StockReservation
		if err := tx.Where("status = ?", enums.ReservationStatusActive).
			Where(where, args...).
			Order("product_id ASC").
			Find(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			res := tx.Model(&models.StockReservation{}).
				Where("id = ? AND status = ?", row.ID, enums.ReservationStatusActive).
				Updates(map[string]any{"status": to, "released_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := adjustInventory(tx, row, to, now); err != nil {
				return err
			}
			settled++
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle reservations")
	}
	return settled, nil
}

func adjustInventory(tx *gorm.DB, row models.StockReservation, to enums.ReservationStatus, now time.Time) error {
	switch to {
	case enums.ReservationStatusReleased:
		return tx.Exec(`
			UPDATE inventory_items
			SET available_qty = available_qty + ?,
				reserved_qty = reserved_qty - ?,
				updated_at = ?
			WHERE product_id = ? AND reserved_qty >= ?
		`, row.Qty, row.Qty, now, row.ProductID, row.Qty).Error
	case enums.ReservationStatusConsumed:
		return tx.Exec(`
			UPDATE inventory_items
			SET reserved_qty = reserved_qty - ?,
				updated_at = ?
			WHERE product_id = ? AND reserved_qty >= ?
		`, row.Qty, now, row.ProductID, row.Qty).Error
	}
	return fmt.Errorf("unsupported reservation transition %q", to)
}

func mergeItems(items []Item) ([]Item, error) {
	totals := map[string]int{}
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		totals[id] += item.Qty
	}
	if len(totals) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	merged := make([]Item, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Item{ProductID: id, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}
