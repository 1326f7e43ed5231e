package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// CreateWebhookEventIfNotExists inserts ev unless (provider, event_id) is
// already recorded. It returns whether a new row was created together with
// the stored row (new or pre-existing).
func CreateWebhookEventIfNotExists(ctx context.Context, db *gorm.DB, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	tx := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(ev)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored domain.WebhookEvent
	if err := db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", ev.Provider, ev.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkWebhookProcessed stamps processed_at and stores processingError
// ("" on success). A later successful run clears an earlier error.
func MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id, processingError string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at":     &now,
			"processing_error": processingError,
			"updated_at":       now,
		}).Error
}
