// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for GenerationJob.
//
// Jobs are addressed either by internal id or by (kind, external_job_id), the
// correlation key assigned by the external generator. The pair is backed by a
// unique index, so lookups are point reads and a reused external id fails at
// insert time with ErrDuplicate.
//
// Terminal transitions are conditional on status = 'processing'. Applying the
// same outcome twice is therefore a no-op reported as applied == false.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

// Terminal describes the final state to apply to a processing job.
type Terminal struct {
	Status      domain.JobStatus // success or fail
	ResultURL   string
	FailCode    string
	FailMessage string
}

// CreateJob inserts job in the processing state. ID and CreatedAt are set
// when empty.
func CreateJob(ctx context.Context, db *gorm.DB, job *domain.GenerationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Status = domain.StatusProcessing
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetJob fetches a job by internal id or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// FindJobByExternalID fetches a job by its correlation key or ErrNotFound.
func FindJobByExternalID(ctx context.Context, db *gorm.DB, kind domain.JobKind, externalJobID string) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	err := db.WithContext(ctx).
		Where("kind = ? AND external_job_id = ?", kind, externalJobID).
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ApplyTerminal moves a processing job to t.Status. It returns applied=false
// with a nil error when the job already reached a terminal state, and
// ErrNotFound when no job has that correlation key.
func ApplyTerminal(ctx context.Context, db *gorm.DB, kind domain.JobKind, externalJobID string, t Terminal) (bool, error) {
	if !t.Status.Terminal() {
		return false, errors.New("terminal status required")
	}
	updates := map[string]any{
		"status":     t.Status,
		"updated_at": time.Now().UTC(),
	}
	if t.Status == domain.StatusSuccess {
		updates["result_url"] = t.ResultURL
	} else {
		updates["fail_code"] = t.FailCode
		updates["fail_message"] = t.FailMessage
	}

	res := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("kind = ? AND external_job_id = ? AND status = ?", kind, externalJobID, domain.StatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("kind = ? AND external_job_id = ?", kind, externalJobID).
		Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// ListJobsByOwner returns ownerID's most recent jobs of kind, newest first.
func ListJobsByOwner(ctx context.Context, db *gorm.DB, kind domain.JobKind, ownerID string, limit int) ([]domain.GenerationJob, error) {
	var out []domain.GenerationJob
	err := db.WithContext(ctx).
		Where("kind = ? AND user_id = ?", kind, ownerID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountSuccessfulJobs returns the number of successful jobs of kind across
// all users.
func CountSuccessfulJobs(ctx context.Context, db *gorm.DB, kind domain.JobKind) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("kind = ? AND status = ?", kind, domain.StatusSuccess).
		Count(&total).Error
	return total, err
}

// ListSuccessfulJobsPage returns one page of the global feed of successful
// jobs of kind, newest first.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListSuccessfulJobsPage(ctx context.Context, db *gorm.DB, kind domain.JobKind, offset, limit int) ([]domain.GenerationJob, error) {
	var out []domain.GenerationJob
	err := db.WithContext(ctx).
		Where("kind = ? AND status = ?", kind, domain.StatusSuccess).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
