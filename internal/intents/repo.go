package intents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
)

// Repository is the payment intent store. Status changes only go through Transition.
type Repository interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error)
	FindReusable(ctx context.Context, key string, now time.Time) (*models.PaymentIntent, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.IntentStatus, to enums.IntentStatus, fields map[string]any) (bool, error)
	SetGatewayTrxCode(ctx context.Context, id uuid.UUID, code string) error
	ListCreatedBefore(ctx context.Context, statuses []enums.IntentStatus, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	ListUpdatedBefore(ctx context.Context, status enums.IntentStatus, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	ListPaidSince(ctx context.Context, since time.Time) ([]models.PaymentIntent, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds an intent repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

// FindReusable returns the unexpired pending or awaiting_3d intent holding the key, or gorm.ErrRecordNotFound.
func (r *repository) FindReusable(ctx context.Context, key string, now time.Time) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Where("status IN ?", enums.ReusableIntentStatuses).
		Where("idempotency_expires_at > ?", now.UTC()).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// Transition applies to and fields only while the intent is in one of from. It reports whether the row moved.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.IntentStatus, to enums.IntentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": r.now().UTC().Truncate(time.Second),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetGatewayTrxCode(ctx context.Context, id uuid.UUID, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"gateway_trx_code": code,
			"updated_at":       r.now().UTC().Truncate(time.Second),
		}).Error
}

func (r *repository) ListCreatedBefore(ctx context.Context, statuses []enums.IntentStatus, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *repository) ListUpdatedBefore(ctx context.Context, status enums.IntentStatus, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *repository) ListPaidSince(ctx context.Context, since time.Time) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", enums.IntentStatusPaid, since.UTC()).
		Order("created_at ASC").
		Find(&intents).Error
	return intents, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
