// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Account
// model. Accounts are created by external onboarding services; the pipeline
// reads them for entitlement and credential lookups and mutates only the
// subscription status during sweeps.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

// GetAccount fetches an account by primary key, or ErrNotFound.
func GetAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByInstagramUserID resolves the owning account of a webhook
// entry by platform user id.
func GetAccountByInstagramUserID(ctx context.Context, db *gorm.DB, igUserID string) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).
		Where("instagram_user_id = ?", igUserID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListExpiredTrialAccounts returns active accounts still marked trial whose
// trial deadline has passed. Candidates for the trial-expiry sweep.
func ListExpiredTrialAccounts(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Account, error) {
	var out []domain.Account
	err := db.WithContext(ctx).
		Where("subscription_status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?",
			domain.SubscriptionTrial, now).
		Find(&out).Error
	return out, err
}

// ListLapsedPaymentAccounts returns payment_failed accounts whose paid
// period has ended. Candidates for the payment-failure sweep.
func ListLapsedPaymentAccounts(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Account, error) {
	var out []domain.Account
	err := db.WithContext(ctx).
		Where("subscription_status = ? AND (period_ends_at IS NULL OR period_ends_at < ?)",
			domain.SubscriptionPaymentFailed, now).
		Find(&out).Error
	return out, err
}

// MarkSubscriptionExpired transitions an account to expired. Idempotent by
// construction: a second sweep pass matches zero rows.
func MarkSubscriptionExpired(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ? AND subscription_status <> ?", id, domain.SubscriptionExpired).
		Update("subscription_status", domain.SubscriptionExpired).Error
}

// UpdateAccountToken stores a freshly sealed access token and the Instagram
// identity it authenticates.
func UpdateAccountToken(ctx context.Context, db *gorm.DB, id, sealedToken, igUserID, igUsername string) error {
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"encrypted_access_token": sealedToken,
			"instagram_user_id":      igUserID,
			"instagram_username":     igUsername,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
