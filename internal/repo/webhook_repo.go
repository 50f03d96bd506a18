// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// WebhookAuditRecord model. Audit rows are written before any business
// processing so a raw copy of every verified payload survives even when
// processing blows up.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

// CreateWebhookAudit persists the raw payload of a signature-verified
// webhook delivery before it is parsed or processed.
func CreateWebhookAudit(ctx context.Context, db *gorm.DB, kind string, payload []byte) (*domain.WebhookAuditRecord, error) {
	rec := &domain.WebhookAuditRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkWebhookProcessed records the processing outcome on an audit row: an
// empty errDetail marks it processed, otherwise the error text is stored.
// This is the single permitted mutation of an audit record.
func MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id, errDetail string) error {
	updates := map[string]interface{}{"processed": errDetail == ""}
	if errDetail != "" {
		updates["error_detail"] = errDetail
	}
	return db.WithContext(ctx).
		Model(&domain.WebhookAuditRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
