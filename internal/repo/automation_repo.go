// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Automation
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an automation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateAutomation inserts a new Automation row. The ID is a randomly
// generated UUID and CreatedAt is set to UTC. The caller is responsible for
// validation (non-empty keywords, message text); this function only persists.
func CreateAutomation(ctx context.Context, db *gorm.DB, a *domain.Automation) (*domain.Automation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AutomationActive
	}
	a.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// ListAutomations returns all automations owned by accountID, most recent
// first. Returns an empty slice when the account has none.
func ListAutomations(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Automation, error) {
	var out []domain.Automation
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListActiveAutomationsForMedia returns every active automation targeting
// mediaID, across all accounts. This is the matching engine's candidate set
// for an inbound comment.
func ListActiveAutomationsForMedia(ctx context.Context, db *gorm.DB, mediaID string) ([]domain.Automation, error) {
	var out []domain.Automation
	err := db.WithContext(ctx).
		Where("media_id = ? AND status = ?", mediaID, domain.AutomationActive).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// GetAutomation fetches a single automation by its ID and owner (accountID).
// Returns ErrNotFound when missing or not owned by accountID.
func GetAutomation(ctx context.Context, db *gorm.DB, id, accountID string) (*domain.Automation, error) {
	var a domain.Automation
	err := db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAutomationByID fetches an automation by primary key regardless of owner.
// Used by the delivery worker, which holds only the automation reference.
func GetAutomationByID(ctx context.Context, db *gorm.DB, id string) (*domain.Automation, error) {
	var a domain.Automation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAutomationStatus transitions an automation to the given status.
// Returns ErrNotFound when no row was affected.
func UpdateAutomationStatus(ctx context.Context, db *gorm.DB, id string, status domain.AutomationStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Automation{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateAutomation applies owner-editable fields (name, keywords, message
// content, reply variants, case flag) enforcing account ownership.
func UpdateAutomation(ctx context.Context, db *gorm.DB, id, accountID string, fields map[string]interface{}) error {
	res := db.WithContext(ctx).
		Model(&domain.Automation{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAutomation removes an automation owned by accountID. Its dispatch
// records go with it via the ON DELETE CASCADE constraint (foreign_keys
// PRAGMA is enabled in OpenSQLite).
func DeleteAutomation(ctx context.Context, db *gorm.DB, id, accountID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Delete(&domain.Automation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// BumpAutomationCounters atomically adds the given deltas to an automation's
// statistics columns. Counters are advisory; callers may invoke this outside
// the transaction that decided the outcome when strict coupling is not
// required, but the pipeline keeps them together for consistency of tests.
func BumpAutomationCounters(ctx context.Context, db *gorm.DB, id string, processed, sent, failed, pending int64) error {
	updates := map[string]interface{}{}
	if processed != 0 {
		updates["comments_processed"] = gorm.Expr("comments_processed + ?", processed)
	}
	if sent != 0 {
		updates["dms_sent"] = gorm.Expr("dms_sent + ?", sent)
	}
	if failed != 0 {
		updates["dms_failed"] = gorm.Expr("dms_failed + ?", failed)
	}
	if pending != 0 {
		updates["dms_pending"] = gorm.Expr("dms_pending + ?", pending)
	}
	if len(updates) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Automation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListActiveAutomationIDsForAccount returns the IDs of an account's active
// automations. Used by the sweep jobs to disable them in bulk.
func ListActiveAutomationIDsForAccount(ctx context.Context, db *gorm.DB, accountID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Automation{}).
		Where("account_id = ? AND status = ?", accountID, domain.AutomationActive).
		Pluck("id", &ids).Error
	return ids, err
}

// DisableAutomationsForAccount transitions every active automation owned by
// accountID to disabled, returning the number of rows affected.
func DisableAutomationsForAccount(ctx context.Context, db *gorm.DB, accountID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Automation{}).
		Where("account_id = ? AND status = ?", accountID, domain.AutomationActive).
		Update("status", domain.AutomationDisabled)
	return res.RowsAffected, res.Error
}
