// Package services – RateLimitService
//
// Per-account rolling-window limits on outbound platform actions. The check
// (Allow) and the consumption (Record) are split on purpose: a dispatch that
// fails after passing the check must not burn quota, so Record runs only
// after a confirmed send.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/repo"
)

// ActionDMSend is the action kind tracked for outbound DMs.
const ActionDMSend = "dm_send"

// RateLimiter is the contract the dispatcher depends on.
type RateLimiter interface {
	// Allow reports whether one more action of kind fits the account's
	// current window.
	Allow(ctx context.Context, accountID, kind string, now time.Time) (bool, error)

	// Record consumes one unit of quota after the action succeeded.
	Record(ctx context.Context, accountID, kind string, now time.Time) error
}

// RateLimitService enforces a fixed ceiling per rolling window, stored as a
// single row per (account, action kind).
type RateLimitService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Limit is the maximum actions per window.
	Limit int64
	// Window is the rolling window length.
	Window time.Duration
}

// NewRateLimitService constructs a RateLimitService with the given ceiling
// and window.
func NewRateLimitService(db *gorm.DB, limit int64, window time.Duration) *RateLimitService {
	return &RateLimitService{DB: db, Limit: limit, Window: window}
}

// Allow reports whether the account still has quota. A missing or expired
// window counts as zero usage. Read errors fail open so a storage hiccup
// degrades to over-sending rather than silently dropping DMs; the platform's
// own limits backstop the worst case.
func (s *RateLimitService) Allow(ctx context.Context, accountID, kind string, now time.Time) (bool, error) {
	w, err := repo.GetActiveRateLimitWindow(ctx, s.DB, accountID, kind, now)
	if errors.Is(err, repo.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return w.Count < s.Limit, nil
}

// Record consumes one unit of quota, opening a fresh window when none is
// active.
func (s *RateLimitService) Record(ctx context.Context, accountID, kind string, now time.Time) error {
	return repo.IncrementRateLimitWindow(ctx, s.DB, accountID, kind, now, s.Window)
}
