package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/instagram"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, dispatchRecordID string, runAt time.Time) error {
	f.enqueued = append(f.enqueued, dispatchRecordID)
	return nil
}

func newPipeline(db *gorm.DB, q Enqueuer) *PipelineService {
	return NewPipelineService(db, q, NewEntitlementService(db), zerolog.Nop())
}

func commentEvent(commenterID, commentID, text string) instagram.CommentEvent {
	return instagram.CommentEvent{
		IGAccountID:       "ig-owner",
		CommentID:         commentID,
		MediaID:           "media-1",
		CommenterID:       commenterID,
		CommenterUsername: "someone",
		Text:              text,
	}
}

func TestProcessComment_MatchCreatesRecordAndEnqueues(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	a := seedActiveAutomation(t, db, acct.ID)

	q := &fakeQueue{}
	svc := newPipeline(db, q)

	n, err := svc.ProcessComment(context.Background(), commentEvent("user-1", "c-1", "drop the LINK please"))
	if err != nil {
		t.Fatalf("ProcessComment: %v", err)
	}
	if n != 1 || len(q.enqueued) != 1 {
		t.Fatalf("expected one record enqueued, got n=%d enqueued=%d", n, len(q.enqueued))
	}

	rec, err := repo.GetDispatchRecord(context.Background(), db, q.enqueued[0])
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.MatchedKeyword != "link" || rec.MessageBody != a.MessageText || rec.Status != domain.DispatchPending {
		t.Fatalf("unexpected record: %+v", rec)
	}

	auto, _ := repo.GetAutomationByID(context.Background(), db, a.ID)
	if auto.CommentsProcessed != 1 || auto.DMsPending != 1 {
		t.Fatalf("counters wrong: processed=%d pending=%d", auto.CommentsProcessed, auto.DMsPending)
	}
}

func TestProcessComment_NoMatchCreatesNothing(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	a := seedActiveAutomation(t, db, acct.ID)

	q := &fakeQueue{}
	svc := newPipeline(db, q)

	n, err := svc.ProcessComment(context.Background(), commentEvent("user-1", "c-1", "lovely photo"))
	if err != nil {
		t.Fatalf("ProcessComment: %v", err)
	}
	if n != 0 || len(q.enqueued) != 0 {
		t.Fatalf("no keyword hit, expected nothing queued: n=%d", n)
	}

	// comments_processed counts created dispatches, not evaluated comments.
	auto, _ := repo.GetAutomationByID(context.Background(), db, a.ID)
	if auto.CommentsProcessed != 0 || auto.DMsPending != 0 {
		t.Fatalf("counters wrong: processed=%d pending=%d", auto.CommentsProcessed, auto.DMsPending)
	}
}

func TestProcessComment_LiveDedupSuppressesSecondComment(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	a := seedActiveAutomation(t, db, acct.ID)

	q := &fakeQueue{}
	svc := newPipeline(db, q)
	ctx := context.Background()

	if _, err := svc.ProcessComment(ctx, commentEvent("user-1", "c-1", "link please")); err != nil {
		t.Fatalf("first comment: %v", err)
	}
	n, err := svc.ProcessComment(ctx, commentEvent("user-1", "c-2", "link again"))
	if err != nil {
		t.Fatalf("second comment: %v", err)
	}
	if n != 0 || len(q.enqueued) != 1 {
		t.Fatalf("second comment from same commenter must be suppressed: n=%d enqueued=%d", n, len(q.enqueued))
	}

	live, err := repo.CountLiveDispatches(ctx, db, a.ID, "user-1")
	if err != nil || live != 1 {
		t.Fatalf("expected one live record, got %d (%v)", live, err)
	}

	// The suppressed comment does not move the counters either.
	auto, _ := repo.GetAutomationByID(ctx, db, a.ID)
	if auto.CommentsProcessed != 1 || auto.DMsPending != 1 {
		t.Fatalf("counters wrong after suppression: processed=%d pending=%d", auto.CommentsProcessed, auto.DMsPending)
	}
}

func TestProcessComment_LapsedAccountDisablesAutomation(t *testing.T) {
	db := newServicesDB(t)
	now := time.Now().UTC()
	acct := seedAccountWith(t, db, domain.SubscriptionTrial, true, timePtr(now.Add(-time.Hour)), nil)
	a := seedActiveAutomation(t, db, acct.ID)

	q := &fakeQueue{}
	svc := newPipeline(db, q)

	n, err := svc.ProcessComment(context.Background(), commentEvent("user-1", "c-1", "link please"))
	if err != nil {
		t.Fatalf("ProcessComment: %v", err)
	}
	if n != 0 || len(q.enqueued) != 0 {
		t.Fatalf("lapsed account must not queue work: n=%d enqueued=%d", n, len(q.enqueued))
	}

	auto, err := repo.GetAutomationByID(context.Background(), db, a.ID)
	if err != nil {
		t.Fatalf("load automation: %v", err)
	}
	if auto.Status != domain.AutomationDisabled {
		t.Fatalf("expected automation disabled in place, got %s", auto.Status)
	}
	if auto.CommentsProcessed != 0 || auto.DMsPending != 0 {
		t.Fatalf("counters must not move: processed=%d pending=%d", auto.CommentsProcessed, auto.DMsPending)
	}
}

func TestProcessComment_SelfCommentIgnored(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	seedActiveAutomation(t, db, acct.ID)

	q := &fakeQueue{}
	svc := newPipeline(db, q)

	ev := commentEvent("ig-owner", "c-1", "link in bio")
	n, err := svc.ProcessComment(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessComment: %v", err)
	}
	if n != 0 || len(q.enqueued) != 0 {
		t.Fatal("owner's own comments must not trigger the funnel")
	}
}

func TestProcessComment_PausedAutomationIgnored(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	a := seedActiveAutomation(t, db, acct.ID)
	if err := repo.UpdateAutomationStatus(context.Background(), db, a.ID, domain.AutomationPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	q := &fakeQueue{}
	svc := newPipeline(db, q)

	n, err := svc.ProcessComment(context.Background(), commentEvent("user-1", "c-1", "link please"))
	if err != nil {
		t.Fatalf("ProcessComment: %v", err)
	}
	if n != 0 || len(q.enqueued) != 0 {
		t.Fatal("paused automations must not match")
	}
}

func TestProcessComment_MultipleAutomationsOnSameMedia(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	seedActiveAutomation(t, db, acct.ID)

	second := &domain.Automation{
		AccountID:   acct.ID,
		Name:        "price funnel",
		MediaKind:   domain.MediaReel,
		MediaID:     "media-1",
		Keywords:    domain.StringList{"price"},
		MessageKind: domain.MessageText,
		MessageText: "price list",
	}
	if _, err := repo.CreateAutomation(context.Background(), db, second); err != nil {
		t.Fatalf("seed second automation: %v", err)
	}

	q := &fakeQueue{}
	svc := newPipeline(db, q)

	n, err := svc.ProcessComment(context.Background(), commentEvent("user-1", "c-1", "link and price please"))
	if err != nil {
		t.Fatalf("ProcessComment: %v", err)
	}
	if n != 2 || len(q.enqueued) != 2 {
		t.Fatalf("both automations should match independently: n=%d", n)
	}
}
