package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

func newSweepDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("sweep_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedSweepAccount(t *testing.T, db *gorm.DB, id string, status domain.SubscriptionStatus, trialEnds, periodEnds *time.Time) *domain.Account {
	t.Helper()
	acct := &domain.Account{
		ID:                 id,
		Email:              id + "@example.com",
		SubscriptionStatus: status,
		TrialEndsAt:        trialEnds,
		PeriodEndsAt:       periodEnds,
		Active:             true,
	}
	if err := db.Create(acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acct
}

func seedSweepAutomation(t *testing.T, db *gorm.DB, accountID string) *domain.Automation {
	t.Helper()
	a := &domain.Automation{
		AccountID:   accountID,
		Name:        "funnel",
		MediaKind:   domain.MediaReel,
		MediaID:     "media-1",
		Keywords:    domain.StringList{"link"},
		MessageKind: domain.MessageText,
		MessageText: "here you go",
	}
	created, err := repo.CreateAutomation(context.Background(), db, a)
	if err != nil {
		t.Fatalf("seed automation: %v", err)
	}
	return created
}

func timePtr(d time.Duration) *time.Time {
	ts := time.Now().UTC().Add(d)
	return &ts
}

func TestSweepExpiredTrials(t *testing.T) {
	db := newSweepDB(t)
	ctx := context.Background()

	lapsed := seedSweepAccount(t, db, "acct-lapsed", domain.SubscriptionTrial, timePtr(-time.Hour), nil)
	current := seedSweepAccount(t, db, "acct-current", domain.SubscriptionTrial, timePtr(time.Hour), nil)
	auto := seedSweepAutomation(t, db, lapsed.ID)

	s := NewSweeper(db, zerolog.Nop(), time.Hour, time.Hour)
	n, err := s.SweepExpiredTrials(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredTrials: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one account expired, got %d", n)
	}

	got, err := repo.GetAccount(ctx, db, lapsed.ID)
	if err != nil {
		t.Fatalf("reload lapsed: %v", err)
	}
	if got.SubscriptionStatus != domain.SubscriptionExpired {
		t.Fatalf("lapsed trial not expired: %s", got.SubscriptionStatus)
	}

	got, err = repo.GetAccount(ctx, db, current.ID)
	if err != nil {
		t.Fatalf("reload current: %v", err)
	}
	if got.SubscriptionStatus != domain.SubscriptionTrial {
		t.Fatalf("current trial must be untouched: %s", got.SubscriptionStatus)
	}

	a, err := repo.GetAutomationByID(ctx, db, auto.ID)
	if err != nil {
		t.Fatalf("reload automation: %v", err)
	}
	if a.Status != domain.AutomationDisabled {
		t.Fatalf("automation of expired account must be disabled: %s", a.Status)
	}
}

func TestSweepLapsedPayments(t *testing.T) {
	db := newSweepDB(t)
	ctx := context.Background()

	lapsed := seedSweepAccount(t, db, "acct-lapsed", domain.SubscriptionPaymentFailed, nil, timePtr(-time.Hour))
	// payment_failed with no recorded period end gets no grace.
	noPeriod := seedSweepAccount(t, db, "acct-noperiod", domain.SubscriptionPaymentFailed, nil, nil)
	graced := seedSweepAccount(t, db, "acct-graced", domain.SubscriptionPaymentFailed, nil, timePtr(time.Hour))

	s := NewSweeper(db, zerolog.Nop(), time.Hour, time.Hour)
	n, err := s.SweepLapsedPayments(ctx)
	if err != nil {
		t.Fatalf("SweepLapsedPayments: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected two accounts expired, got %d", n)
	}

	for _, id := range []string{lapsed.ID, noPeriod.ID} {
		got, err := repo.GetAccount(ctx, db, id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if got.SubscriptionStatus != domain.SubscriptionExpired {
			t.Fatalf("%s not expired: %s", id, got.SubscriptionStatus)
		}
	}

	got, err := repo.GetAccount(ctx, db, graced.ID)
	if err != nil {
		t.Fatalf("reload graced: %v", err)
	}
	if got.SubscriptionStatus != domain.SubscriptionPaymentFailed {
		t.Fatalf("graced account must be untouched: %s", got.SubscriptionStatus)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	db := newSweepDB(t)
	ctx := context.Background()

	seedSweepAccount(t, db, "acct-lapsed", domain.SubscriptionTrial, timePtr(-time.Hour), nil)

	s := NewSweeper(db, zerolog.Nop(), time.Hour, time.Hour)
	if n, err := s.SweepExpiredTrials(ctx); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	// Already expired accounts are no longer candidates.
	if n, err := s.SweepExpiredTrials(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep should find nothing: n=%d err=%v", n, err)
	}
}
