// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for job submissions.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND expires_at > ?", userID, scope, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		UserID:     userID,
		Scope:      scope,
		Key:        key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ClaimIdempotency reserves (userID, scope, key) with an empty ResourceID
// before any work is done. An expired record for the same key is replaced.
// A live record, pending or completed, yields ErrDuplicate.
func ClaimIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, ttl time.Duration) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND scope = ? AND key = ? AND expires_at <= ?",
			userID, scope, key, time.Now().UTC()).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		_, err := CreateIdempotency(ctx, tx, userID, scope, key, "", 0, ttl)
		return err
	})
}

// CompleteIdempotency binds a pending claim to the created resource. It
// reports false when no pending claim exists for the key.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, resourceID string, status int) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("user_id = ? AND scope = ? AND key = ? AND resource_id = ''", userID, scope, key).
		Updates(map[string]any{"resource_id": resourceID, "status": status})
	return res.RowsAffected > 0, res.Error
}

// ReleaseIdempotency drops a pending claim so the key can be retried.
// Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND resource_id = ''", userID, scope, key).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes records whose TTL elapsed before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
