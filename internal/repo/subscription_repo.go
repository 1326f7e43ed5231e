package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// CreateSubscription inserts s. A collision on external_id returns ErrDuplicate.
func CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSubscriptionByExternalID fetches a subscription by billing id or ErrNotFound.
func GetSubscriptionByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// PatchSubscription applies a sparse column patch to the subscription with
// internal id. An empty patch only stamps updated_at.
func PatchSubscription(ctx context.Context, db *gorm.DB, id string, patch map[string]any) error {
	cols := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		cols[k] = v
	}
	cols["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Subscription{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
