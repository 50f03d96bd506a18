// Package services – AutomationService
//
// Owner-facing management of automations: create, list, inspect, update,
// pause and resume, delete, and dispatch history. Validation lives here so
// handlers only translate errors; repositories stay free of business rules.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

// AutomationInput carries the owner-editable fields of an automation.
type AutomationInput struct {
	Name          string
	MediaKind     domain.MediaKind
	MediaID       string
	Keywords      []string
	CaseSensitive bool
	MessageKind   domain.MessageKind
	MessageText   string
	MessageMedia  string
	ReplyVariants []string
}

// AutomationService provides automation CRUD operations scoped to an
// owning account.
type AutomationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewAutomationService constructs an AutomationService.
func NewAutomationService(db *gorm.DB) *AutomationService {
	return &AutomationService{DB: db}
}

func validateInput(in *AutomationInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.MessageText = strings.TrimSpace(in.MessageText)

	// Keywords are stored verbatim and matched literally as substrings, so
	// whitespace-only entries are legal; only empty strings are dropped.
	kws := make([]string, 0, len(in.Keywords))
	for _, kw := range in.Keywords {
		if kw != "" {
			kws = append(kws, kw)
		}
	}
	in.Keywords = kws

	if len(in.Keywords) == 0 {
		return ErrNoKeywords
	}
	if in.MessageText == "" {
		return ErrNoMessage
	}
	switch in.MediaKind {
	case domain.MediaPost, domain.MediaReel, domain.MediaStory, domain.MediaLive:
	default:
		return ErrInvalidMediaKind
	}
	if in.MessageKind == "" {
		in.MessageKind = domain.MessageText
	}
	return nil
}

// Create validates and persists a new automation for accountID. New
// automations start active.
func (s *AutomationService) Create(ctx context.Context, accountID string, in AutomationInput) (*domain.Automation, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	a := &domain.Automation{
		AccountID:     accountID,
		Name:          in.Name,
		MediaKind:     in.MediaKind,
		MediaID:       in.MediaID,
		Keywords:      in.Keywords,
		CaseSensitive: in.CaseSensitive,
		MessageKind:   in.MessageKind,
		MessageText:   in.MessageText,
		MessageMedia:  in.MessageMedia,
		ReplyVariants: in.ReplyVariants,
		Status:        domain.AutomationActive,
	}
	return repo.CreateAutomation(ctx, s.DB, a)
}

// List returns the account's automations, newest first.
func (s *AutomationService) List(ctx context.Context, accountID string) ([]domain.Automation, error) {
	return repo.ListAutomations(ctx, s.DB, accountID)
}

// Get fetches a single automation owned by accountID.
func (s *AutomationService) Get(ctx context.Context, accountID, id string) (*domain.Automation, error) {
	a, err := repo.GetAutomation(ctx, s.DB, id, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAutomationNotFound
	}
	return a, err
}

// Update validates and applies owner-editable fields.
func (s *AutomationService) Update(ctx context.Context, accountID, id string, in AutomationInput) (*domain.Automation, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"name":              in.Name,
		"media_kind":        in.MediaKind,
		"media_id":          in.MediaID,
		"keywords":          domain.StringList(in.Keywords),
		"case_sensitive":    in.CaseSensitive,
		"message_kind":      in.MessageKind,
		"message_text":      in.MessageText,
		"message_media_url": in.MessageMedia,
		"reply_variants":    domain.StringList(in.ReplyVariants),
	}
	err := repo.UpdateAutomation(ctx, s.DB, id, accountID, fields)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID, id)
}

// SetStatus transitions an automation between active and paused. The disabled
// state is reserved for the entitlement sweeps and cannot be set here.
func (s *AutomationService) SetStatus(ctx context.Context, accountID, id string, status domain.AutomationStatus) error {
	if status != domain.AutomationActive && status != domain.AutomationPaused {
		return ErrInvalidStatus
	}
	if _, err := s.Get(ctx, accountID, id); err != nil {
		return err
	}
	err := repo.UpdateAutomationStatus(ctx, s.DB, id, status)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAutomationNotFound
	}
	return err
}

// Delete removes an automation and, via cascade, its dispatch records.
func (s *AutomationService) Delete(ctx context.Context, accountID, id string) error {
	err := repo.DeleteAutomation(ctx, s.DB, id, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAutomationNotFound
	}
	return err
}

// DispatchPage returns a page of an automation's dispatch history, newest
// first, with the total count for pagination.
func (s *AutomationService) DispatchPage(ctx context.Context, accountID, id string, page, pageSize int) ([]domain.DispatchRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if _, err := s.Get(ctx, accountID, id); err != nil {
		return nil, 0, err
	}
	total, err := repo.CountDispatchRecords(ctx, s.DB, id)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DispatchRecord{}, 0, nil
	}
	items, err := repo.ListDispatchRecordsPage(ctx, s.DB, id, (page-1)*pageSize, pageSize)
	return items, total, err
}
