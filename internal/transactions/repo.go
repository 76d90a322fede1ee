package transactions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/db/models"
)

// Repository persists gateway exchanges. Rows are never updated or deleted.
type Repository interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	ListByIntentID(ctx context.Context, intentID uuid.UUID) ([]models.PaymentTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a transaction log repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListByIntentID(ctx context.Context, intentID uuid.UUID) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
