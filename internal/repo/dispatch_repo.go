// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DispatchRecord model, including the two dedup guards:
//
//   - CreateDispatchRecord relies on the ux_dispatch_live partial unique
//     index so that two concurrent webhook deliveries for the same
//     (automation, commenter) pair cannot both create a live record; the
//     loser receives ErrDuplicate.
//   - CommentAlreadySent answers the per-comment guard checked by the
//     delivery worker before it calls the platform API.
//
// Status transitions are conditional on the current status being pending,
// which makes re-execution of a crashed worker job a no-op on records that
// already reached a terminal state.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

// ErrDuplicate indicates that a live dispatch record already exists for the
// given (automation, commenter) pair.
var ErrDuplicate = errors.New("duplicate dispatch")

// CreateDispatchRecord inserts a pending record and returns ErrDuplicate on
// unique violation of the live-dispatch index.
func CreateDispatchRecord(ctx context.Context, db *gorm.DB, rec *domain.DispatchRecord) (*domain.DispatchRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = domain.DispatchPending
	rec.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetDispatchRecord fetches a record by primary key, or ErrNotFound.
func GetDispatchRecord(ctx context.Context, db *gorm.DB, id string) (*domain.DispatchRecord, error) {
	var rec domain.DispatchRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CommentAlreadySent reports whether any other dispatch record for the same
// comment has already reached sent. excludeID is the record currently being
// processed.
func CommentAlreadySent(ctx context.Context, db *gorm.DB, commentID, excludeID string) (bool, error) {
	if commentID == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("comment_id = ? AND id <> ? AND status = ?", commentID, excludeID, domain.DispatchSent).
		Count(&n).Error
	return n > 0, err
}

// MarkDispatchSent transitions a pending record to sent, recording the
// platform message id and timestamp. Records that already left pending are
// not touched; the returned bool reports whether the transition happened.
func MarkDispatchSent(ctx context.Context, db *gorm.DB, id, platformMessageID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("id = ? AND status = ?", id, domain.DispatchPending).
		Updates(map[string]interface{}{
			"status":              domain.DispatchSent,
			"platform_message_id": platformMessageID,
			"sent_at":             at,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDispatchFailed transitions a pending record to failed with the given
// error detail. The returned bool reports whether the transition happened.
func MarkDispatchFailed(ctx context.Context, db *gorm.DB, id, detail string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("id = ? AND status = ?", id, domain.DispatchPending).
		Updates(map[string]interface{}{
			"status":       domain.DispatchFailed,
			"error_detail": detail,
			"failed_at":    at,
		})
	return res.RowsAffected > 0, res.Error
}

// RecordDispatchAttempt notes a failed-but-retryable delivery attempt on a
// still-pending record: the error detail is stored and the retry counter
// incremented, while the status stays pending so the live-dispatch dedup
// keeps holding and a later retry may still succeed.
func RecordDispatchAttempt(ctx context.Context, db *gorm.DB, id, detail string) error {
	return db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("id = ? AND status = ?", id, domain.DispatchPending).
		Updates(map[string]interface{}{
			"error_detail": detail,
			"retry_count":  gorm.Expr("retry_count + 1"),
		}).Error
}

// CountLiveDispatches returns the number of records in {pending,sent} for an
// (automation, commenter) pair. Used by tests to assert the dedup invariant.
func CountLiveDispatches(ctx context.Context, db *gorm.DB, automationID, commenterID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("automation_id = ? AND commenter_id = ? AND status IN ?",
			automationID, commenterID,
			[]domain.DispatchStatus{domain.DispatchPending, domain.DispatchSent}).
		Count(&n).Error
	return n, err
}

// CountDispatchRecords returns the total number of records for an automation.
func CountDispatchRecords(ctx context.Context, db *gorm.DB, automationID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("automation_id = ?", automationID).
		Count(&n).Error
	return n, err
}

// ListDispatchRecordsPage returns a page of an automation's dispatch records,
// newest first. The caller computes offset and limit.
func ListDispatchRecordsPage(ctx context.Context, db *gorm.DB, automationID string, offset, limit int) ([]domain.DispatchRecord, error) {
	var out []domain.DispatchRecord
	err := db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
