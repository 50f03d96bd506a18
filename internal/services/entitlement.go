// Package services – EntitlementService
//
// Decides whether an account may send DMs right now. Entitlement is evaluated
// at dispatch time, not at match time, so a subscription change between a
// comment arriving and its DM going out is always honored.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

// EntitlementChecker is the contract the dispatcher depends on.
type EntitlementChecker interface {
	// CanSend reports whether the account may send a DM at the given instant.
	CanSend(ctx context.Context, accountID string, now time.Time) (bool, error)
}

// EntitlementService evaluates subscription state from the accounts table.
type EntitlementService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewEntitlementService constructs an EntitlementService.
func NewEntitlementService(db *gorm.DB) *EntitlementService {
	return &EntitlementService{DB: db}
}

// CanSend returns true when the account is active and either in an unexpired
// trial or holds an active subscription whose paid period has not ended.
// Expired, cancelled, and payment_failed states never send.
func (s *EntitlementService) CanSend(ctx context.Context, accountID string, now time.Time) (bool, error) {
	acct, err := repo.GetAccount(ctx, s.DB, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, ErrAccountNotFound
	}
	if err != nil {
		return false, err
	}
	if !acct.Active {
		return false, nil
	}
	switch acct.SubscriptionStatus {
	case domain.SubscriptionTrial:
		return acct.TrialEndsAt != nil && acct.TrialEndsAt.After(now), nil
	case domain.SubscriptionActive:
		// A missing period end means the billing service has not synced one
		// yet; an active subscription without a deadline stays entitled.
		return acct.PeriodEndsAt == nil || acct.PeriodEndsAt.After(now), nil
	default:
		return false, nil
	}
}
