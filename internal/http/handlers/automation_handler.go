// Automation HTTP handlers.
//
// REST endpoints for automation resources:
//   - POST   /automations                 (create)
//   - GET    /automations                 (list)
//   - GET    /automations/{id}            (detail with stats)
//   - PUT    /automations/{id}            (update)
//   - PUT    /automations/{id}/status     (pause/resume)
//   - DELETE /automations/{id}            (delete)
//   - GET    /automations/{id}/dispatches (paginated dispatch history)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses. The owning account is
// taken from upstream auth middleware, with an X-User-ID header fallback for
// tests and local development.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/services"
	"github.com/replyloop/go-dm-backend/internal/utils"
)

// AutomationService defines the automation lifecycle operations consumed by
// HTTP handlers. Implementations must be safe for concurrent use and honor
// the provided context.
type AutomationService interface {
	Create(ctx context.Context, accountID string, in services.AutomationInput) (*domain.Automation, error)
	List(ctx context.Context, accountID string) ([]domain.Automation, error)
	Get(ctx context.Context, accountID, id string) (*domain.Automation, error)
	Update(ctx context.Context, accountID, id string, in services.AutomationInput) (*domain.Automation, error)
	SetStatus(ctx context.Context, accountID, id string, status domain.AutomationStatus) error
	Delete(ctx context.Context, accountID, id string) error
	DispatchPage(ctx context.Context, accountID, id string, page, pageSize int) ([]domain.DispatchRecord, int64, error)
}

// accountID extracts the authenticated account id from the Gin context (set
// by upstream middleware), falling back to the X-User-ID header.
func accountID(c *gin.Context) string {
	if v, ok := c.Get("accountID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// AutomationRequest is the JSON payload for creating or updating an
// automation.
type AutomationRequest struct {
	Name          string   `json:"name" binding:"required,min=1,max=255"`
	MediaKind     string   `json:"media_kind" binding:"required"`
	MediaID       string   `json:"media_id" binding:"required"`
	Keywords      []string `json:"keywords" binding:"required"`
	CaseSensitive bool     `json:"case_sensitive"`
	MessageKind   string   `json:"message_kind"`
	MessageText   string   `json:"message_text" binding:"required"`
	MessageMedia  string   `json:"message_media_url"`
	ReplyVariants []string `json:"reply_variants"`
}

func (r AutomationRequest) toInput() services.AutomationInput {
	return services.AutomationInput{
		Name:          r.Name,
		MediaKind:     domain.MediaKind(r.MediaKind),
		MediaID:       r.MediaID,
		Keywords:      r.Keywords,
		CaseSensitive: r.CaseSensitive,
		MessageKind:   domain.MessageKind(r.MessageKind),
		MessageText:   r.MessageText,
		MessageMedia:  r.MessageMedia,
		ReplyVariants: r.ReplyVariants,
	}
}

// StatusRequest is the JSON payload for pausing or resuming an automation.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDispatchesResponse wraps a page of dispatch records.
type ListDispatchesResponse struct {
	Dispatches []domain.DispatchRecord `json:"dispatches"`
	Pagination Pagination              `json:"pagination"`
}

// failValidation maps service validation errors to a 400/404 response and
// reports whether it handled the error.
func failValidation(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, services.ErrNoKeywords),
		errors.Is(err, services.ErrNoMessage),
		errors.Is(err, services.ErrInvalidMediaKind),
		errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return true
	case errors.Is(err, services.ErrAutomationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "automation not found")
		return true
	}
	return false
}

// CreateAutomation handles POST /automations.
func (h *Handlers) CreateAutomation(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	var req AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	a, err := h.autoSvc.Create(c.Request.Context(), acct, req.toInput())
	if err != nil {
		if !failValidation(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create automation")
		}
		return
	}
	ok(c, http.StatusCreated, a)
}

// ListAutomations handles GET /automations.
func (h *Handlers) ListAutomations(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	items, err := h.autoSvc.List(c.Request.Context(), acct)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list automations")
		return
	}
	ok(c, http.StatusOK, gin.H{"automations": items})
}

// GetAutomation handles GET /automations/:id.
func (h *Handlers) GetAutomation(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	a, err := h.autoSvc.Get(c.Request.Context(), acct, c.Param("id"))
	if err != nil {
		if !failValidation(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load automation")
		}
		return
	}
	ok(c, http.StatusOK, a)
}

// UpdateAutomation handles PUT /automations/:id.
func (h *Handlers) UpdateAutomation(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	var req AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	a, err := h.autoSvc.Update(c.Request.Context(), acct, c.Param("id"), req.toInput())
	if err != nil {
		if !failValidation(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not update automation")
		}
		return
	}
	ok(c, http.StatusOK, a)
}

// SetAutomationStatus handles PUT /automations/:id/status.
func (h *Handlers) SetAutomationStatus(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	err := h.autoSvc.SetStatus(c.Request.Context(), acct, c.Param("id"), domain.AutomationStatus(req.Status))
	if err != nil {
		if !failValidation(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not update status")
		}
		return
	}
	noContent(c)
}

// DeleteAutomation handles DELETE /automations/:id.
func (h *Handlers) DeleteAutomation(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	if err := h.autoSvc.Delete(c.Request.Context(), acct, c.Param("id")); err != nil {
		if !failValidation(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, "could not delete automation")
		}
		return
	}
	noContent(c)
}

// ListDispatches handles GET /automations/:id/dispatches.
func (h *Handlers) ListDispatches(c *gin.Context) {
	acct := accountID(c)
	if acct == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing account identity")
		return
	}
	page, pageSize := utils.ClampPagination(c.Query("page"), c.Query("page_size"))
	items, total, err := h.autoSvc.DispatchPage(c.Request.Context(), acct, c.Param("id"), page, pageSize)
	if err != nil {
		if !failValidation(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list dispatches")
		}
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListDispatchesResponse{
		Dispatches: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
