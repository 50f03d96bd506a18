// Package services – PipelineService
//
// The matching engine: turns a verified comment event into zero or more
// pending dispatch records and enqueues a delivery job for each. Dedup at
// this stage is the live-dispatch rule, enforced by the storage layer's
// partial unique index, so concurrent deliveries of the same comment cannot
// fan out twice.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/instagram"
	"github.com/replyloop/go-dm-backend/internal/match"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

// Enqueuer hands a dispatch record to the delivery queue. Implemented by the
// queue package; abstracted here so pipeline tests run without a bus.
type Enqueuer interface {
	Enqueue(ctx context.Context, dispatchRecordID string, runAt time.Time) error
}

// PipelineService evaluates comment events against active automations.
type PipelineService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Queue receives one job per created dispatch record.
	Queue Enqueuer
	// Entitlement gates matching on subscription state; automations of
	// accounts that lost their entitlement are disabled lazily here.
	Entitlement EntitlementChecker
	// Log is the structured logger for skipped and suppressed events.
	Log zerolog.Logger
}

// NewPipelineService constructs a PipelineService.
func NewPipelineService(db *gorm.DB, q Enqueuer, ent EntitlementChecker, log zerolog.Logger) *PipelineService {
	return &PipelineService{DB: db, Queue: q, Entitlement: ent, Log: log}
}

// ProcessComment evaluates one comment against every active automation
// targeting its media. Returns the number of dispatch records created.
//
// Entitlement is re-checked per automation before matching: an automation
// whose owner is no longer entitled is disabled in place and skipped, so
// expired accounts stop matching ahead of the periodic sweeps.
//
// Self-comments (the media owner replying on their own post) are ignored so
// an owner moderating their thread does not trigger their own funnel.
func (s *PipelineService) ProcessComment(ctx context.Context, ev instagram.CommentEvent) (int, error) {
	tr := otel.Tracer("services/PipelineService")
	ctx, span := tr.Start(ctx, "ProcessComment",
		trace.WithAttributes(
			attribute.String("comment.id", ev.CommentID),
			attribute.String("media.id", ev.MediaID),
		),
	)
	defer span.End()

	if ev.CommenterID == ev.IGAccountID {
		s.Log.Debug().Str("comment_id", ev.CommentID).Msg("skipping self comment")
		return 0, nil
	}

	automations, err := repo.ListActiveAutomationsForMedia(ctx, s.DB, ev.MediaID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	created := 0
	for _, a := range automations {
		entitled, err := s.Entitlement.CanSend(ctx, a.AccountID, now)
		if err != nil {
			// Do not disable on a lookup failure; the dispatch guard
			// chain re-checks before any send.
			s.Log.Warn().Err(err).Str("automation_id", a.ID).Msg("entitlement check failed, skipping match")
			continue
		}
		if !entitled {
			if err := repo.UpdateAutomationStatus(ctx, s.DB, a.ID, domain.AutomationDisabled); err != nil {
				s.Log.Error().Err(err).Str("automation_id", a.ID).Msg("lazy disable failed")
			} else {
				s.Log.Info().
					Str("automation_id", a.ID).
					Str("account_id", a.AccountID).
					Msg("automation disabled, account no longer entitled")
			}
			continue
		}

		keyword, ok := match.Match(ev.Text, a.Keywords, a.CaseSensitive)
		if !ok {
			continue
		}

		rec := &domain.DispatchRecord{
			AutomationID:      a.ID,
			AccountID:         a.AccountID,
			CommenterID:       ev.CommenterID,
			CommenterUsername: ev.CommenterUsername,
			CommentID:         ev.CommentID,
			CommentText:       ev.Text,
			MatchedKeyword:    keyword,
			MessageBody:       a.MessageText,
		}
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			if rec, txErr = repo.CreateDispatchRecord(ctx, tx, rec); txErr != nil {
				return txErr
			}
			return repo.BumpAutomationCounters(ctx, tx, a.ID, 1, 0, 0, 1)
		})
		if errors.Is(err, repo.ErrDuplicate) {
			// A live record already exists for this commenter; the
			// anti-spam rule wins and no new DM is queued.
			s.Log.Info().
				Str("automation_id", a.ID).
				Str("commenter_id", ev.CommenterID).
				Msg("dispatch suppressed by live dedup")
			continue
		}
		if err != nil {
			return created, err
		}

		if err := s.Queue.Enqueue(ctx, rec.ID, now); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
