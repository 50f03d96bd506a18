// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// RateLimitWindow model.
//
// A single row exists per (account, action kind); IncrementRateLimitWindow
// performs the whole "increment active window or open a fresh one" decision
// inside one upsert statement so concurrent workers — including replicas in
// other processes — cannot double-open a window or lose an increment.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

// GetActiveRateLimitWindow returns the unexpired window for the pair, or
// ErrNotFound when none exists or the stored window has lapsed.
func GetActiveRateLimitWindow(ctx context.Context, db *gorm.DB, accountID, actionKind string, now time.Time) (*domain.RateLimitWindow, error) {
	var w domain.RateLimitWindow
	err := db.WithContext(ctx).
		Where("account_id = ? AND action_kind = ? AND window_end > ?", accountID, actionKind, now).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// IncrementRateLimitWindow records one action occurrence. If the stored
// window is still active its count is incremented; otherwise the row is
// rolled over in place to a fresh window of the given duration with count 1.
// The CASE expressions evaluate against the pre-update row, so the whole
// decision happens atomically inside the upsert.
func IncrementRateLimitWindow(ctx context.Context, db *gorm.DB, accountID, actionKind string, now time.Time, window time.Duration) error {
	end := now.Add(window)
	rec := &domain.RateLimitWindow{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		ActionKind:  actionKind,
		Count:       1,
		WindowStart: now,
		WindowEnd:   end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "action_kind"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":        gorm.Expr("CASE WHEN window_end > ? THEN count + 1 ELSE 1 END", now),
			"window_start": gorm.Expr("CASE WHEN window_end > ? THEN window_start ELSE ? END", now, now),
			"window_end":   gorm.Expr("CASE WHEN window_end > ? THEN window_end ELSE ? END", now, end),
			"updated_at":   now,
		}),
	}).Create(rec).Error
}
