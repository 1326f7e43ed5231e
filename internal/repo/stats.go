// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// JobsStats returns aggregate metadata for an owner's jobs of one kind: the
// total number of rows and the maximum UpdatedAt timestamp among those rows.
// Terminal transitions bump UpdatedAt, so the pair changes whenever any of
// the owner's jobs completes.
//
// When the owner has no jobs, the returned count is 0 and maxUpdatedAt is nil.
func JobsStats(ctx context.Context, db *gorm.DB, kind domain.JobKind, ownerID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.GenerationJob{}).Where("kind = ? AND user_id = ?", kind, ownerID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
