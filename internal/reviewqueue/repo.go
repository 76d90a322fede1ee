package reviewqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// Repository persists manual review entries.
type Repository interface {
	InsertIgnore(ctx context.Context, entry *models.ManualReviewEntry) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ManualReviewEntry, error)
	FindByDedupeKey(ctx context.Context, key string) (*models.ManualReviewEntry, error)
	ListOpen(ctx context.Context, after *pagination.Cursor, limit int) ([]models.ManualReviewEntry, error)
	MarkResolved(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a review queue repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// InsertIgnore inserts the entry unless its dedupe key already exists; it reports whether a row was written.
func (r *repository) InsertIgnore(ctx context.Context, entry *models.ManualReviewEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ManualReviewEntry, error) {
	var entry models.ManualReviewEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByDedupeKey(ctx context.Context, key string) (*models.ManualReviewEntry, error) {
	var entry models.ManualReviewEntry
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListOpen pages unresolved entries in (created_at, id) order, starting after the cursor when one is given.
func (r *repository) ListOpen(ctx context.Context, after *pagination.Cursor, limit int) ([]models.ManualReviewEntry, error) {
	var entries []models.ManualReviewEntry
	query := r.db.WithContext(ctx).Where("resolved_at IS NULL")
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkResolved stamps an open entry; it returns false when the entry is missing or already resolved.
func (r *repository) MarkResolved(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ManualReviewEntry{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"resolved_at":     at,
			"resolved_by":     by,
			"resolution_note": note,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
