// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DispatchJob queue table.
//
// Jobs are the durable half of the dispatch queue: the in-process bus only
// wakes workers, while the rows here survive restarts. Claiming is a
// conditional update so two workers racing on the same wake-up message
// cannot both win, and a stale claim (crashed worker) is reclaimable after
// claimTTL.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

// CreateDispatchJob enqueues a durable job for a dispatch record, due at
// runAt.
func CreateDispatchJob(ctx context.Context, db *gorm.DB, dispatchRecordID string, runAt time.Time) (*domain.DispatchJob, error) {
	job := &domain.DispatchJob{
		ID:               uuid.NewString(),
		DispatchRecordID: dispatchRecordID,
		RunAt:            runAt.UTC(),
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimDispatchJob attempts to claim a due job for processing. The claim
// succeeds only when the job is not done, is due, and is either unclaimed or
// held by a claim older than claimTTL. Returns the claimed job, or nil when
// another worker won or the job is not claimable.
func ClaimDispatchJob(ctx context.Context, db *gorm.DB, id string, now time.Time, claimTTL time.Duration) (*domain.DispatchJob, error) {
	stale := now.Add(-claimTTL)
	res := db.WithContext(ctx).
		Model(&domain.DispatchJob{}).
		Where("id = ? AND done = ? AND run_at <= ? AND (claimed_at IS NULL OR claimed_at < ?)",
			id, false, now, stale).
		Updates(map[string]interface{}{
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var job domain.DispatchJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetDispatchJob loads a job by id, or ErrNotFound.
func GetDispatchJob(ctx context.Context, db *gorm.DB, id string) (*domain.DispatchJob, error) {
	var job domain.DispatchJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// RescheduleDispatchJob pushes a claimed job's due time forward and releases
// the claim, so a later wake-up or the poller picks it up again.
func RescheduleDispatchJob(ctx context.Context, db *gorm.DB, id string, runAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.DispatchJob{}).
		Where("id = ? AND done = ?", id, false).
		Updates(map[string]interface{}{
			"run_at":     runAt.UTC(),
			"claimed_at": nil,
		}).Error
}

// CompleteDispatchJob marks a job done. Terminal; completed jobs are never
// claimed again.
func CompleteDispatchJob(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.DispatchJob{}).
		Where("id = ?", id).
		Update("done", true).Error
}

// ListDueDispatchJobs returns up to limit unfinished jobs that are due and
// not actively claimed, oldest due first. The poller republishes these to the
// bus; workers still have to win the claim before processing.
func ListDueDispatchJobs(ctx context.Context, db *gorm.DB, now time.Time, claimTTL time.Duration, limit int) ([]domain.DispatchJob, error) {
	stale := now.Add(-claimTTL)
	var out []domain.DispatchJob
	err := db.WithContext(ctx).
		Where("done = ? AND run_at <= ? AND (claimed_at IS NULL OR claimed_at < ?)",
			false, now, stale).
		Order("run_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
