// Package services – DispatchService
//
// Executes one queued DM delivery, running the full guard chain in order:
// terminal-state short circuit, per-comment sent guard, entitlement, rate
// limit, credential, automation liveness, and finally the platform send.
// Entitlement and rate limiting are evaluated here rather than at match time
// so queued work always reflects the account's current standing.
//
// The method is re-entrant: status transitions are conditional updates in the
// repo layer, so a crashed worker's job can be re-run without double counting
// or double sending.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/credentials"
	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/instagram"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

// MessageSender is the platform client contract used by the dispatcher.
type MessageSender interface {
	SendMessage(ctx context.Context, p instagram.SendParams) (*instagram.SendResult, error)
	PostPublicReply(ctx context.Context, accessToken, commentID, text string) error
}

// CredentialSource resolves an account's access token.
type CredentialSource interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
}

// Outcome describes how a dispatch attempt ended. Exactly one of the three
// shapes applies: Sent, deferred (RetryAt set), or settled without a send
// (Reason set, RetryAt nil).
type Outcome struct {
	// Sent is true when the DM went out on this attempt.
	Sent bool
	// RetryAt, when non-nil, asks the queue to run the job again at that time.
	RetryAt *time.Time
	// Reason explains a non-sent, non-retried outcome.
	Reason string
}

func deferred(at time.Time, reason string) Outcome {
	return Outcome{RetryAt: &at, Reason: reason}
}

// DispatchService delivers pending dispatch records.
type DispatchService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Sender is the platform client.
	Sender MessageSender
	// Credentials resolves access tokens.
	Credentials CredentialSource
	// Entitlement gates sending on subscription state.
	Entitlement EntitlementChecker
	// RateLimits gates sending on per-account quota.
	RateLimits RateLimiter
	// Log is the structured logger.
	Log zerolog.Logger

	// MaxRetries caps delivery attempts per record.
	MaxRetries int
	// RetryBase scales linear retry backoff: delay = RetryBase * attempt.
	RetryBase time.Duration
	// RateLimitDefer is how long a quota-blocked job waits.
	RateLimitDefer time.Duration
	// TransientDefer is how long a job waits after an infrastructure error
	// (entitlement lookup failure, credential store failure).
	TransientDefer time.Duration
}

// Dispatch runs the guard chain for one dispatch record and reports the
// outcome. Terminal failures mark the record failed and settle the counters;
// deferrals leave the record pending and untouched.
func (s *DispatchService) Dispatch(ctx context.Context, recordID string) (Outcome, error) {
	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(attribute.String("dispatch.id", recordID)),
	)
	defer span.End()

	now := time.Now().UTC()

	rec, err := repo.GetDispatchRecord(ctx, s.DB, recordID)
	if errors.Is(err, repo.ErrNotFound) {
		return Outcome{Reason: "record gone"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if rec.Status != domain.DispatchPending {
		// Already settled by an earlier run of this job.
		return Outcome{Sent: rec.Status == domain.DispatchSent, Reason: "already settled"}, nil
	}

	// Per-comment guard: one comment gets at most one DM across automations.
	sentAlready, err := repo.CommentAlreadySent(ctx, s.DB, rec.CommentID, rec.ID)
	if err != nil {
		return Outcome{}, err
	}
	if sentAlready {
		if err := s.settleFailed(ctx, rec, "duplicate: comment already served", false); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reason: "duplicate comment"}, nil
	}

	entitled, err := s.Entitlement.CanSend(ctx, rec.AccountID, now)
	if err != nil {
		s.Log.Warn().Err(err).Str("dispatch_id", rec.ID).Msg("entitlement check failed, deferring")
		return deferred(now.Add(s.TransientDefer), "entitlement check failed"), nil
	}
	if !entitled {
		if err := s.settleFailed(ctx, rec, "subscription not entitled to send", true); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reason: "not entitled"}, nil
	}

	ok, err := s.RateLimits.Allow(ctx, rec.AccountID, ActionDMSend, now)
	if err != nil {
		s.Log.Warn().Err(err).Str("account_id", rec.AccountID).Msg("rate limit read failed, failing open")
	}
	if !ok {
		return deferred(now.Add(s.RateLimitDefer), "rate limited"), nil
	}

	token, err := s.Credentials.AccessToken(ctx, rec.AccountID)
	if errors.Is(err, credentials.ErrNoCredential) {
		if err := s.settleFailed(ctx, rec, "account not connected", true); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reason: "no credential"}, nil
	}
	if err != nil {
		s.Log.Warn().Err(err).Str("dispatch_id", rec.ID).Msg("credential lookup failed, deferring")
		return deferred(now.Add(s.TransientDefer), "credential lookup failed"), nil
	}

	a, err := repo.GetAutomationByID(ctx, s.DB, rec.AutomationID)
	if err != nil {
		return Outcome{}, err
	}
	if a.Status != domain.AutomationActive {
		if err := s.settleFailed(ctx, rec, "automation no longer active", true); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reason: "automation inactive"}, nil
	}

	result, err := s.Sender.SendMessage(ctx, instagram.SendParams{
		AccessToken: token,
		CommentID:   rec.CommentID,
		Kind:        string(a.MessageKind),
		Text:        rec.MessageBody,
		MediaURL:    a.MessageMedia,
	})
	if err != nil {
		return s.handleSendFailure(ctx, rec, err, now)
	}

	moved, err := repo.MarkDispatchSent(ctx, s.DB, rec.ID, result.MessageID, now)
	if err != nil {
		return Outcome{}, err
	}
	if moved {
		if err := repo.BumpAutomationCounters(ctx, s.DB, rec.AutomationID, 0, 1, 0, -1); err != nil {
			s.Log.Warn().Err(err).Str("automation_id", rec.AutomationID).Msg("counter bump failed")
		}
		if err := s.RateLimits.Record(ctx, rec.AccountID, ActionDMSend, now); err != nil {
			s.Log.Warn().Err(err).Str("account_id", rec.AccountID).Msg("rate limit record failed")
		}
		s.postReplyVariant(ctx, a, token, rec.CommentID)
	}

	return Outcome{Sent: true}, nil
}

// handleSendFailure classifies a platform error and either schedules a retry
// or settles the record as failed.
func (s *DispatchService) handleSendFailure(ctx context.Context, rec *domain.DispatchRecord, sendErr error, now time.Time) (Outcome, error) {
	var apiErr *instagram.APIError
	retryable := true
	if errors.As(sendErr, &apiErr) {
		retryable = apiErr.Retryable()
	}

	// Every failed send counts, the terminal one included, so a record that
	// exhausts its attempts settles with retry_count equal to the ceiling.
	if err := repo.RecordDispatchAttempt(ctx, s.DB, rec.ID, sendErr.Error()); err != nil {
		return Outcome{}, err
	}

	attempt := rec.RetryCount + 1
	if retryable && attempt < s.MaxRetries {
		delay := s.RetryBase * time.Duration(attempt)
		s.Log.Info().
			Str("dispatch_id", rec.ID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("send failed, retry scheduled")
		return deferred(now.Add(delay), "retryable send failure"), nil
	}

	detail := fmt.Sprintf("send failed after %d attempts: %v", attempt, sendErr)
	if !retryable {
		detail = "permanent send failure: " + sendErr.Error()
	}
	if err := s.settleFailed(ctx, rec, detail, true); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reason: "send failed"}, nil
}

// settleFailed moves a pending record to failed. countFailure controls
// whether the dms_failed statistic moves; duplicate suppression settles
// without counting as a failure.
func (s *DispatchService) settleFailed(ctx context.Context, rec *domain.DispatchRecord, detail string, countFailure bool) error {
	moved, err := repo.MarkDispatchFailed(ctx, s.DB, rec.ID, detail, time.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	failed := int64(0)
	if countFailure {
		failed = 1
	}
	if err := repo.BumpAutomationCounters(ctx, s.DB, rec.AutomationID, 0, 0, failed, -1); err != nil {
		s.Log.Warn().Err(err).Str("automation_id", rec.AutomationID).Msg("counter bump failed")
	}
	return nil
}

// postReplyVariant posts one randomly chosen public reply under the original
// comment. Best effort: failures are logged and never affect DM accounting.
func (s *DispatchService) postReplyVariant(ctx context.Context, a *domain.Automation, token, commentID string) {
	if len(a.ReplyVariants) == 0 || commentID == "" {
		return
	}
	text := a.ReplyVariants[rand.IntN(len(a.ReplyVariants))]
	if err := s.Sender.PostPublicReply(ctx, token, commentID, text); err != nil {
		s.Log.Warn().Err(err).Str("comment_id", commentID).Msg("public reply failed")
	}
}
