// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model,
// including the credit-balance primitives used by the ledger.
//
// Every balance mutation is a single UPDATE statement against one row, so
// concurrent requests for the same user never lose updates. Reservations are
// conditional on the current balance; refunds and grants are not.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// UserProfile is the public projection of a user attached to feed entries.
type UserProfile struct {
	ExternalID string
	Name       string
	ImageURL   string
}

// CreateUser inserts u, assigning an ID when empty. A collision on
// external_id returns ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUserByExternalID fetches a user by identity-provider id or ErrNotFound.
func GetUserByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether a user with externalID is present.
func UserExists(ctx context.Context, db *gorm.DB, externalID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("external_id = ?", externalID).Count(&n).Error
	return n > 0, err
}

// UpdateUserProfile overwrites the identity-owned profile fields. Credits are
// untouched. Returns ErrNotFound when no row matched.
func UpdateUserProfile(ctx context.Context, db *gorm.DB, externalID, name, email, imageURL string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"name":       name,
			"email":      email,
			"image_url":  imageURL,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserByExternalID removes a user. Returns ErrNotFound when absent.
func DeleteUserByExternalID(ctx context.Context, db *gorm.DB, externalID string) error {
	res := db.WithContext(ctx).Where("external_id = ?", externalID).Delete(&domain.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveCredits atomically debits amount when the balance covers it.
// It reports false when no row matched, which means either the user is
// missing or the balance is insufficient; callers disambiguate with UserExists.
func ReserveCredits(ctx context.Context, db *gorm.DB, externalID string, amount int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("external_id = ? AND credits >= ?", externalID, amount).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddCredits atomically credits amount with no upper bound.
// It reports false when the user does not exist.
func AddCredits(ctx context.Context, db *gorm.DB, externalID string, amount int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetCredits replaces the balance with amount.
// It reports false when the user does not exist.
func SetCredits(ctx context.Context, db *gorm.DB, externalID string, amount int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"credits":    amount,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetCredits returns the current balance or ErrNotFound.
func GetCredits(ctx context.Context, db *gorm.DB, externalID string) (int64, error) {
	var row struct{ Credits int64 }
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Select("credits").
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	return row.Credits, nil
}

// LinkSubscription points the user's subscription back-reference at subID
// and records the billing customer id.
func LinkSubscription(ctx context.Context, db *gorm.DB, externalID, subID, customerID string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"subscription_id":     subID,
			"billing_customer_id": customerID,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserProfiles loads the public projection for a set of external ids in
// a single query. Unknown ids are simply absent from the result.
func ListUserProfiles(ctx context.Context, db *gorm.DB, externalIDs []string) ([]UserProfile, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	var out []UserProfile
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Select("external_id", "name", "image_url").
		Where("external_id IN ?", externalIDs).
		Scan(&out).Error
	return out, err
}
