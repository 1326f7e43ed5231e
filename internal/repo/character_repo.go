package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// CreateCharacter inserts c. A nil UserID creates a system character.
func CreateCharacter(ctx context.Context, db *gorm.DB, c *domain.Character) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(c).Error
}

// ListSystemCharacters returns characters without an owner, newest first.
func ListSystemCharacters(ctx context.Context, db *gorm.DB) ([]domain.Character, error) {
	var out []domain.Character
	err := db.WithContext(ctx).
		Where("user_id IS NULL").
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListUserCharacters returns characters owned by userID, newest first.
func ListUserCharacters(ctx context.Context, db *gorm.DB, userID string) ([]domain.Character, error) {
	var out []domain.Character
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
