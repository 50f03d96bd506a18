// Webhook HTTP handlers.
//
// Two endpoints implement Meta's webhook contract:
//   - GET  /webhooks/instagram  (subscription handshake)
//   - POST /webhooks/instagram  (event delivery)
//
// The POST path is fail-closed on authentication and fail-open on
// processing: an invalid signature is rejected with 403, but once a payload
// is verified and audited the endpoint always acknowledges with 200, even
// when processing fails. Meta retries non-2xx deliveries aggressively and
// eventually disables the subscription, so a processing bug must never look
// like a delivery failure.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/http/middleware"
	"github.com/replyloop/go-dm-backend/internal/instagram"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

// CommentProcessor runs the matching pipeline for one comment event.
type CommentProcessor interface {
	ProcessComment(ctx context.Context, ev instagram.CommentEvent) (int, error)
}

// Handlers groups the HTTP endpoints for webhooks and automations. It
// depends on abstract service interfaces to keep transport concerns separate
// from business logic.
type Handlers struct {
	autoSvc  AutomationService
	pipeline CommentProcessor
	db       *gorm.DB

	appSecret   string
	verifyToken string
}

// New constructs a Handlers instance bound to the given services. appSecret
// signs webhook payloads; verifyToken answers the subscription handshake.
func New(autoSvc AutomationService, pipeline CommentProcessor, db *gorm.DB, appSecret, verifyToken string) *Handlers {
	return &Handlers{
		autoSvc:     autoSvc,
		pipeline:    pipeline,
		db:          db,
		appSecret:   appSecret,
		verifyToken: verifyToken,
	}
}

// VerifyWebhook handles the GET handshake: when hub.mode is "subscribe" and
// hub.verify_token matches, the challenge is echoed back as plain text.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// ReceiveWebhook handles POST deliveries: verify signature, audit the raw
// payload, process comment events, always acknowledge.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	sig := c.GetHeader("X-Hub-Signature-256")
	if !instagram.VerifySignature(h.appSecret, body, sig) {
		fail(c, http.StatusForbidden, ErrCodeBadSignature, "invalid signature")
		return
	}

	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	audit, err := repo.CreateWebhookAudit(ctx, h.db, "instagram", body)
	if err != nil {
		// Without an audit row there is nothing to mark; ack anyway.
		lg.Error().Err(err).Msg("webhook audit write failed")
		ok(c, http.StatusOK, gin.H{"status": "received"})
		return
	}

	if procErr := h.process(ctx, lg, body); procErr != "" {
		if err := repo.MarkWebhookProcessed(ctx, h.db, audit.ID, procErr); err != nil {
			lg.Error().Err(err).Msg("webhook audit update failed")
		}
	} else if err := repo.MarkWebhookProcessed(ctx, h.db, audit.ID, ""); err != nil {
		lg.Error().Err(err).Msg("webhook audit update failed")
	}

	ok(c, http.StatusOK, gin.H{"status": "received"})
}

// process parses the envelope and feeds comment events to the pipeline,
// returning an error description for the audit row or "" on success.
func (h *Handlers) process(ctx context.Context, lg *zerolog.Logger, body []byte) string {
	var env instagram.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		lg.Warn().Err(err).Msg("webhook payload unparseable")
		return "parse error: " + err.Error()
	}

	var firstErr string
	for _, ev := range env.Events() {
		switch e := ev.(type) {
		case instagram.CommentEvent:
			if _, err := h.pipeline.ProcessComment(ctx, e); err != nil {
				lg.Error().Err(err).Str("comment_id", e.CommentID).Msg("comment processing failed")
				if firstErr == "" {
					firstErr = "processing error: " + err.Error()
				}
			}
		case instagram.MessageEvent:
			lg.Debug().Str("sender_id", e.SenderID).Msg("message event observed")
		case instagram.ReactionEvent:
			lg.Debug().Str("sender_id", e.SenderID).Msg("reaction event observed")
		case instagram.UnrecognizedEvent:
			lg.Debug().Str("field", e.Field).Msg("unrecognized webhook event")
		}
	}
	return firstErr
}
