package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
)

// ManualReviewEntry is a deduplicated anomaly awaiting an operator.
type ManualReviewEntry struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	IntentID       *uuid.UUID         `gorm:"column:intent_id;type:uuid"`
	Reason         enums.ReviewReason `gorm:"column:reason;not null"`
	Details        json.RawMessage    `gorm:"column:details;type:jsonb;not null"`
	DedupeKey      string             `gorm:"column:dedupe_key;not null;uniqueIndex"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt     *time.Time         `gorm:"column:resolved_at"`
	ResolvedBy     *string            `gorm:"column:resolved_by"`
	ResolutionNote *string            `gorm:"column:resolution_note"`
}

func (ManualReviewEntry) TableName() string { return "payment_manual_review_queue" }
